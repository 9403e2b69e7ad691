package notebook

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/aretw0/quill/pkg/session"
	"github.com/google/uuid"
)

type entry struct {
	cell domain.Cell
	gen  uint64
}

// Container is the observable aggregate of all cells of one notebook.
type Container struct {
	mu       sync.RWMutex
	order    []string
	cells    map[string]*entry
	path     string
	loadErr  error
	loaded   bool
	metadata map[string]any
	kernel   *session.Handle
	gen      uint64
	pending  []Change

	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func(Change)
	nextSub  int

	newID  func() string
	logger *slog.Logger
}

// Option configures the Container.
type Option func(*Container)

// WithLogger configures a logger for the Container.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithIDGenerator overrides the cell id allocator. Colliding ids are retried.
func WithIDGenerator(fn func() string) Option {
	return func(c *Container) {
		c.newID = fn
	}
}

// New creates an empty, loaded container.
func New(opts ...Option) *Container {
	c := &Container{
		cells:    make(map[string]*entry),
		loaded:   true,
		metadata: map[string]any{},
		subs:     make(map[int]func(Change)),
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a deep copy of the current state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := State{
		Path:     c.path,
		LoadErr:  c.loadErr,
		Loaded:   c.loaded,
		Order:    slices.Clone(c.order),
		Cells:    make(map[string]domain.Cell, len(c.cells)),
		Metadata: maps.Clone(c.metadata),
		Kernel:   c.kernel,
	}
	for id, e := range c.cells {
		s.Cells[id] = e.cell.Clone()
	}
	return s
}

// Loaded reports whether a document is loaded, and the last load error if not.
func (c *Container) Loaded() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded, c.loadErr
}

// Cell returns a copy of a single cell.
func (c *Container) Cell(id string) (domain.Cell, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cells[id]
	if !ok {
		return domain.Cell{}, false
	}
	return e.cell.Clone(), true
}

// Subscribe registers a listener and returns its cancel function.
// Listeners run outside the state lock, one change at a time, in commit order.
func (c *Container) Subscribe(fn func(Change)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

// commit queues a change. Must be called with mu held.
func (c *Container) commit(changes ...Change) {
	c.pending = append(c.pending, changes...)
}

// flush delivers queued changes. Whoever holds notifyMu drains the queue, so
// a listener that mutates the container does not deadlock.
func (c *Container) flush() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			c.mu.Unlock()
			if len(batch) == 0 {
				break
			}

			c.subsMu.Lock()
			ids := slices.Sorted(maps.Keys(c.subs))
			listeners := make([]func(Change), 0, len(ids))
			for _, id := range ids {
				listeners = append(listeners, c.subs[id])
			}
			c.subsMu.Unlock()

			for _, ch := range batch {
				for _, fn := range listeners {
					fn(ch)
				}
			}
		}
		c.notifyMu.Unlock()

		c.mu.RLock()
		more := len(c.pending) > 0
		c.mu.RUnlock()
		if !more {
			return
		}
	}
}

// allocateID must be called with mu held.
func (c *Container) allocateID() string {
	for {
		id := c.newID()
		if _, taken := c.cells[id]; !taken && id != "" {
			return id
		}
	}
}

// AddCell appends a new cell and returns its id.
func (c *Container) AddCell(cellType domain.CellType, text string) (string, error) {
	if !cellType.Valid() {
		return "", fmt.Errorf("invalid cell type %q", cellType)
	}

	c.mu.Lock()
	id := c.allocateID()
	c.cells[id] = &entry{cell: domain.Cell{ID: id, Type: cellType, InitialText: text}}
	c.order = append(c.order, id)
	c.commit(Change{Kind: ChangeCells, CellID: id})
	c.mu.Unlock()

	c.flush()
	return id, nil
}

// RemoveCell deletes a cell. A running execution of the cell is detached.
func (c *Container) RemoveCell(id string) error {
	c.mu.Lock()
	if _, ok := c.cells[id]; !ok {
		c.mu.Unlock()
		return &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	delete(c.cells, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	c.commit(Change{Kind: ChangeCells, CellID: id})
	c.mu.Unlock()

	c.flush()
	return nil
}

// MoveCell moves a cell to position index, clamped to the valid range.
func (c *Container) MoveCell(id string, index int) error {
	c.mu.Lock()
	pos := slices.Index(c.order, id)
	if pos < 0 {
		c.mu.Unlock()
		return &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	c.order = slices.Delete(c.order, pos, pos+1)
	index = max(0, min(index, len(c.order)))
	c.order = slices.Insert(c.order, index, id)
	c.commit(Change{Kind: ChangeCells, CellID: id})
	c.mu.Unlock()

	c.flush()
	return nil
}

// SetType changes the type tag of a cell.
func (c *Container) SetType(id string, cellType domain.CellType) error {
	if !cellType.Valid() {
		return fmt.Errorf("invalid cell type %q", cellType)
	}

	c.mu.Lock()
	e, ok := c.cells[id]
	if !ok {
		c.mu.Unlock()
		return &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	if e.cell.Type == cellType {
		c.mu.Unlock()
		return nil
	}
	e.cell.Type = cellType
	c.commit(Change{Kind: ChangeCells, CellID: id})
	c.mu.Unlock()

	c.flush()
	return nil
}

// ClearResult discards the Result of a cell and detaches any running
// execution from it. Clearing a cell without a Result, or an unknown cell,
// is a no-op.
func (c *Container) ClearResult(id string) {
	c.mu.Lock()
	e, ok := c.cells[id]
	if !ok || e.cell.Result == nil {
		c.mu.Unlock()
		return
	}
	old := e.cell.Result
	e.cell.Result = nil
	c.gen++
	e.gen = c.gen
	c.commit(Change{Kind: ChangeResult, CellID: id, Diff: domain.DiffResult(id, old, nil, false)})
	c.mu.Unlock()

	c.flush()
}

// BeginRun replaces the Result of a cell with a freshly running one and
// returns the token that authorizes updates for this execution.
func (c *Container) BeginRun(id string, startedAt time.Time) (uint64, error) {
	c.mu.Lock()
	e, ok := c.cells[id]
	if !ok {
		c.mu.Unlock()
		return 0, &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	old := e.cell.Result
	r := domain.NewResult(startedAt)
	e.cell.Result = &r
	c.gen++
	e.gen = c.gen
	token := e.gen
	c.commit(Change{Kind: ChangeResult, CellID: id, Diff: domain.DiffResult(id, old, &r, true)})
	c.mu.Unlock()

	c.flush()
	return token, nil
}

// Update replaces the Result of a running execution with fn(current).
// It returns false, without calling fn, when the token is stale.
func (c *Container) Update(id string, token uint64, fn func(domain.Result) domain.Result) bool {
	c.mu.Lock()
	e, ok := c.cells[id]
	if !ok || e.gen != token || e.cell.Result == nil {
		c.mu.Unlock()
		return false
	}
	old := e.cell.Result
	next := fn(*old)
	e.cell.Result = &next
	if d := domain.DiffResult(id, old, &next, false); d != nil {
		c.commit(Change{Kind: ChangeResult, CellID: id, Diff: d})
	}
	c.mu.Unlock()

	c.flush()
	return true
}

// SetPath records the document path.
func (c *Container) SetPath(path string) {
	c.mu.Lock()
	c.path = path
	c.commit(Change{Kind: ChangeDocument})
	c.mu.Unlock()

	c.flush()
}

// SetLoadError records a document load failure. The cells are dropped and the
// notebook stays unloaded until the next successful Load.
func (c *Container) SetLoadError(err error) {
	c.mu.Lock()
	c.loadErr = err
	c.loaded = false
	c.order = nil
	c.cells = make(map[string]*entry)
	c.commit(Change{Kind: ChangeDocument})
	c.mu.Unlock()

	c.flush()
}

// Load replaces the cells with the content of doc. Cells lacking an id get
// one, duplicated ids are reallocated, unsupported cell types are skipped, and
// document order is preserved.
func (c *Container) Load(doc *ports.Document) {
	c.mu.Lock()
	c.order = nil
	c.cells = make(map[string]*entry)
	c.metadata = map[string]any{}
	if doc != nil {
		c.metadata = maps.Clone(doc.Metadata)
		if c.metadata == nil {
			c.metadata = map[string]any{}
		}
		for _, dc := range doc.Cells {
			cellType := domain.CellType(dc.Type)
			if !cellType.Valid() {
				c.logger.Debug("Skipping unsupported cell", "type", dc.Type, "id", dc.ID)
				continue
			}
			id := dc.ID
			if _, taken := c.cells[id]; id == "" || taken {
				id = c.allocateID()
			}
			cell := domain.Cell{ID: id, Type: cellType, InitialText: dc.Source}
			if dc.Result != nil {
				r := dc.Result.Clone()
				cell.Result = &r
			}
			c.cells[id] = &entry{cell: cell}
			c.order = append(c.order, id)
		}
	}
	c.loadErr = nil
	c.loaded = true
	c.commit(Change{Kind: ChangeDocument})
	c.mu.Unlock()

	c.flush()
}

// SetKernel attaches a kernel session handle.
func (c *Container) SetKernel(h *session.Handle) {
	c.mu.Lock()
	c.kernel = h
	c.commit(Change{Kind: ChangeKernel})
	c.mu.Unlock()

	c.flush()
}

// Kernel returns the attached kernel session handle, or nil.
func (c *Container) Kernel() *session.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kernel
}

// Snapshot captures the visible state for persistence.
func (c *Container) Snapshot() *ports.Snapshot {
	s := c.State()
	return &ports.Snapshot{Path: s.Path, Cells: s.Ordered()}
}

// Restore copies the sealed results of a snapshot onto the cells with
// matching ids. Cells that are currently running are left alone, and so are
// results that were still running when the snapshot was taken.
func (c *Container) Restore(snap *ports.Snapshot) int {
	if snap == nil {
		return 0
	}

	restored := 0
	c.mu.Lock()
	for _, sc := range snap.Cells {
		e, ok := c.cells[sc.ID]
		if !ok || sc.Result == nil || sc.Result.Running() {
			continue
		}
		if e.cell.Result != nil && e.cell.Result.Running() {
			continue
		}
		old := e.cell.Result
		r := sc.Result.Clone()
		e.cell.Result = &r
		c.gen++
		e.gen = c.gen
		restored++
		if d := domain.DiffResult(sc.ID, old, &r, true); d != nil {
			c.commit(Change{Kind: ChangeResult, CellID: sc.ID, Diff: d})
		}
	}
	c.mu.Unlock()

	c.flush()
	return restored
}
