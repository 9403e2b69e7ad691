package quill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/adapters/file"
	"github.com/aretw0/quill/pkg/adapters/process"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/aretw0/quill/pkg/runner"
	"github.com/aretw0/quill/pkg/session"
	"github.com/google/uuid"
)

// DefaultKernel is started when neither an option nor the document names one.
var DefaultKernel = ports.KernelSpec{Name: "python3", Language: "python"}

// ErrReadOnly is returned by Save when the document store cannot write.
var ErrReadOnly = errors.New("document store is read-only")

// Notebook is the high-level entry point of the library.
// It wires the state container, the kernel session and the orchestrator
// for a single notebook document.
type Notebook struct {
	container *notebook.Container
	editors   *notebook.Editors
	sessions  *session.Manager
	executor  *runner.Executor

	transport    ports.KernelTransport
	documents    ports.DocumentStore
	snapshots    ports.SnapshotStore
	locker       ports.DistributedLocker
	hooks        domain.LifecycleHooks
	spec         *ports.KernelSpec
	startTimeout time.Duration
	logger       *slog.Logger

	// key identifies the kernel session of this notebook.
	key string

	mu      sync.Mutex
	buffers map[string]*notebook.TextBuffer
	detach  map[string]func()
}

func build(key string, opts ...Option) *Notebook {
	n := &Notebook{
		editors: notebook.NewEditors(),
		buffers: make(map[string]*notebook.TextBuffer),
		detach:  make(map[string]func()),
		key:     key,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logging.NewNop()
	}
	if n.transport == nil {
		n.transport = process.NewTransport(process.WithLogger(n.logger))
	}
	if n.documents == nil {
		n.documents = file.NewDocumentStore()
	}

	n.container = notebook.New(notebook.WithLogger(n.logger))

	sessionOpts := []session.Option{session.WithLogger(n.logger)}
	if n.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(n.locker))
	}
	if n.startTimeout > 0 {
		sessionOpts = append(sessionOpts, session.WithStartTimeout(n.startTimeout))
	}
	n.sessions = session.NewManager(n.transport, sessionOpts...)

	runnerOpts := []runner.Option{runner.WithLogger(n.logger), runner.WithHooks(n.hooks)}
	if n.snapshots != nil {
		runnerOpts = append(runnerOpts, runner.WithSnapshotStore(n.snapshots, ""))
	}
	n.executor = runner.New(n.container, n.editors, n.transport, runnerOpts...)
	return n
}

// New creates an empty, unsaved notebook and starts its kernel.
func New(ctx context.Context, opts ...Option) *Notebook {
	n := build("untitled-"+uuid.NewString(), opts...)
	n.startKernel(ctx)
	return n
}

// Open loads the document at path and starts its kernel.
//
// A load failure is recorded on the notebook, which is returned together with
// the error: it reports the failure through State and refuses to execute.
func Open(ctx context.Context, path string, opts ...Option) (*Notebook, error) {
	n := build(path, opts...)
	n.logger = n.logger.With("notebook", path)
	n.container.SetPath(path)

	if err := n.load(ctx, path); err != nil {
		return n, err
	}
	n.startKernel(ctx)
	return n, nil
}

// Reload reads the document again, dropping unsaved edits. The kernel is
// started if the previous load had failed.
func (n *Notebook) Reload(ctx context.Context) error {
	path := n.Path()
	if path == "" {
		return fmt.Errorf("notebook has no path")
	}
	if err := n.load(ctx, path); err != nil {
		return err
	}
	if n.container.Kernel() == nil {
		n.startKernel(ctx)
	}
	return nil
}

func (n *Notebook) load(ctx context.Context, path string) error {
	doc, err := n.documents.Load(ctx, path)
	if err != nil {
		n.logger.Error("Failed to load notebook", "path", path, "err", err)
		n.container.SetLoadError(err)
		n.resetBuffers()
		return fmt.Errorf("failed to load notebook %s: %w", path, err)
	}

	n.container.Load(doc)
	n.resetBuffers()
	for _, c := range n.container.State().Ordered() {
		n.attach(c.ID, c.InitialText)
	}

	if n.snapshots != nil {
		snap, err := n.snapshots.Load(ctx, path)
		switch {
		case errors.Is(err, domain.ErrSnapshotNotFound):
		case err != nil:
			n.logger.Warn("Failed to load snapshot", "path", path, "err", err)
		default:
			restored := n.container.Restore(snap)
			n.logger.Debug("Snapshot restored", "path", path, "results", restored)
		}
	}
	return nil
}

// kernelSpec resolves the spec to start: option, document metadata, default.
func (n *Notebook) kernelSpec() ports.KernelSpec {
	if n.spec != nil {
		return *n.spec
	}
	meta := n.container.State().Metadata
	spec := DefaultKernel
	if ks, ok := meta["kernelspec"].(map[string]any); ok {
		if name, ok := ks["name"].(string); ok && name != "" {
			spec = ports.KernelSpec{Name: name}
			if lang, ok := ks["language"].(string); ok {
				spec.Language = lang
			}
		}
	}
	return spec
}

func (n *Notebook) startKernel(ctx context.Context) {
	n.container.SetKernel(n.sessions.Start(ctx, n.key, n.kernelSpec()))
}

func (n *Notebook) attach(id, text string) {
	buf := notebook.NewTextBuffer(text)
	detach := n.editors.Register(id, buf)

	n.mu.Lock()
	n.buffers[id] = buf
	n.detach[id] = detach
	n.mu.Unlock()
}

func (n *Notebook) resetBuffers() {
	n.mu.Lock()
	detach := n.detach
	n.buffers = make(map[string]*notebook.TextBuffer)
	n.detach = make(map[string]func())
	n.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// State returns a copy of the current notebook state.
func (n *Notebook) State() notebook.State {
	return n.container.State()
}

// Subscribe registers a listener for state changes.
func (n *Notebook) Subscribe(fn func(notebook.Change)) func() {
	return n.container.Subscribe(fn)
}

// Editors exposes the editing-surface registry so a UI can attach its own
// source providers in place of the built-in text buffers.
func (n *Notebook) Editors() *notebook.Editors {
	return n.editors
}

// Path returns the document path, empty for unsaved notebooks.
func (n *Notebook) Path() string {
	return n.container.State().Path
}

// Kernel returns the current kernel session handle.
func (n *Notebook) Kernel() *session.Handle {
	return n.container.Kernel()
}

// AddCell appends a cell with an editable text buffer and returns its id.
func (n *Notebook) AddCell(cellType domain.CellType, text string) (string, error) {
	id, err := n.container.AddCell(cellType, text)
	if err != nil {
		return "", err
	}
	n.attach(id, text)
	return id, nil
}

// RemoveCell deletes a cell and its text buffer.
func (n *Notebook) RemoveCell(id string) error {
	if err := n.container.RemoveCell(id); err != nil {
		return err
	}
	n.mu.Lock()
	detach := n.detach[id]
	delete(n.buffers, id)
	delete(n.detach, id)
	n.mu.Unlock()

	if detach != nil {
		detach()
	}
	return nil
}

// MoveCell moves a cell to index.
func (n *Notebook) MoveCell(id string, index int) error {
	return n.container.MoveCell(id, index)
}

// SetType changes the type of a cell.
func (n *Notebook) SetType(id string, cellType domain.CellType) error {
	return n.container.SetType(id, cellType)
}

// SetSource replaces the text of a cell's built-in buffer.
func (n *Notebook) SetSource(id, text string) error {
	n.mu.Lock()
	buf, ok := n.buffers[id]
	n.mu.Unlock()
	if !ok {
		return &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	buf.Set(text)
	return nil
}

// Source returns the current editor text of a cell.
func (n *Notebook) Source(id string) (string, bool) {
	return n.editors.Source(id)
}

// ClearResult discards the visible result of a cell.
func (n *Notebook) ClearResult(id string) {
	n.container.ClearResult(id)
}

// Execute runs one cell and waits for it to finish.
func (n *Notebook) Execute(ctx context.Context, id string) error {
	return n.executor.Execute(ctx, id)
}

// ExecuteAll runs every code cell in order.
func (n *Notebook) ExecuteAll(ctx context.Context) error {
	return n.executor.ExecuteAll(ctx)
}

// RestartKernel replaces the kernel session. Cells keep their results.
func (n *Notebook) RestartKernel(ctx context.Context) error {
	h, err := n.sessions.Restart(ctx, n.key, n.kernelSpec())
	if err != nil {
		return fmt.Errorf("failed to restart kernel: %w", err)
	}
	n.container.SetKernel(h)
	return nil
}

// Shutdown stops the kernel session. Later executions fail until the kernel
// is restarted.
func (n *Notebook) Shutdown(ctx context.Context) error {
	n.container.SetKernel(nil)
	return n.sessions.Shutdown(ctx, n.key)
}

// Save writes the notebook back to its path using the current editor text.
func (n *Notebook) Save(ctx context.Context) error {
	path := n.Path()
	if path == "" {
		return fmt.Errorf("notebook has no path")
	}
	return n.SaveAs(ctx, path)
}

// SaveAs writes the notebook to path and makes it the notebook path.
func (n *Notebook) SaveAs(ctx context.Context, path string) error {
	writer, ok := n.documents.(ports.DocumentWriter)
	if !ok {
		return ErrReadOnly
	}

	state := n.container.State()
	if !state.Loaded {
		return fmt.Errorf("cannot save: %w", domain.ErrNotLoaded)
	}
	doc := state.Document()
	for i, c := range doc.Cells {
		if text, ok := n.editors.Source(c.ID); ok {
			doc.Cells[i].Source = text
		}
	}

	if err := writer.Save(ctx, path, doc); err != nil {
		return fmt.Errorf("failed to save notebook %s: %w", path, err)
	}
	if path != state.Path {
		n.container.SetPath(path)
	}
	n.logger.Info("Notebook saved", "path", path, "cells", len(doc.Cells))
	return nil
}
