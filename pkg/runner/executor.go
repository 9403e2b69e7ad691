package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/google/uuid"
)

// Executor runs cells of one notebook against its kernel session.
// Executions of different cells may run concurrently.
type Executor struct {
	container *notebook.Container
	editors   *notebook.Editors
	transport ports.KernelTransport

	hooks        domain.LifecycleHooks
	store        ports.SnapshotStore
	snapshotKey  string
	now          func() time.Time
	newDisplayID func() string
	logger       *slog.Logger
}

// New creates an Executor.
func New(container *notebook.Container, editors *notebook.Editors, transport ports.KernelTransport, opts ...Option) *Executor {
	e := &Executor{
		container:    container,
		editors:      editors,
		transport:    transport,
		now:          time.Now,
		newDisplayID: uuid.NewString,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one cell and waits for its event stream to end.
//
// Kernel exceptions are not errors of Execute: they end up in the cell's
// Result. Execute fails for unknown cells, missing editors, session failures
// and transport failures; in every case except an unknown cell the Result is
// sealed so its timing records the failed attempt.
func (e *Executor) Execute(ctx context.Context, cellID string) error {
	if loaded, loadErr := e.container.Loaded(); !loaded {
		return &domain.CellError{CellID: cellID, Err: fmt.Errorf("%w: %v", domain.ErrNotLoaded, loadErr)}
	}
	if _, ok := e.container.Cell(cellID); !ok {
		return &domain.CellError{CellID: cellID, Err: domain.ErrCellNotFound}
	}

	kernel := e.container.Kernel()
	if kernel == nil {
		return e.abort(ctx, cellID, domain.ErrSessionNotReady)
	}
	sessionID, err := kernel.Wait(ctx)
	if err != nil {
		return e.abort(ctx, cellID, err)
	}

	code, ok := e.editors.Source(cellID)
	if !ok {
		return e.abort(ctx, cellID, domain.ErrCellNotFound)
	}

	startedAt := e.now()
	token, err := e.container.BeginRun(cellID, startedAt)
	if err != nil {
		return err
	}

	info := &domain.ExecutionInfo{
		Timestamp:  startedAt,
		CellID:     cellID,
		SessionID:  sessionID,
		Generation: token,
		Status:     domain.StatusRunning,
	}
	if e.hooks.OnExecuteStart != nil {
		e.hooks.OnExecuteStart(ctx, info)
	}

	last := domain.NewResult(startedAt)
	update := func(fn func(domain.Result) domain.Result) {
		if !e.container.Update(cellID, token, fn) {
			// Detached by a clear or a newer run; keep a local copy for hooks.
			last = fn(last)
			return
		}
		if c, ok := e.container.Cell(cellID); ok && c.Result != nil {
			last = *c.Result
		}
	}

	runErr := e.stream(ctx, info, code, update)
	finishedAt := e.now()
	if runErr != nil {
		update(func(r domain.Result) domain.Result { return domain.Fail(r, runErr, finishedAt) })
	} else {
		update(func(r domain.Result) domain.Result { return domain.Complete(r, finishedAt) })
	}

	info.Status = last.Status
	info.Duration = last.Duration()
	info.Err = runErr
	if e.hooks.OnExecuteFinish != nil {
		e.hooks.OnExecuteFinish(ctx, info)
	}
	e.logger.Debug("Cell executed", "cell_id", cellID, "status", last.Status, "duration", info.Duration)

	e.persist(ctx)
	if runErr != nil {
		return &domain.CellError{CellID: cellID, Err: runErr}
	}
	return nil
}

// stream dispatches code and folds every event into the cell's Result.
// It returns nil when the stream ended normally.
func (e *Executor) stream(ctx context.Context, info *domain.ExecutionInfo, code string, update func(func(domain.Result) domain.Result)) error {
	stream, err := e.transport.Dispatch(ctx, info.SessionID, code)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			e.logger.Debug("Failed to close event stream", "cell_id", info.CellID, "err", err)
		}
	}()

	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		event = e.prepare(event)
		if e.hooks.OnEvent != nil {
			e.hooks.OnEvent(ctx, info, event)
		}
		if unknown, ok := event.(domain.UnknownEvent); ok {
			e.logger.Warn("Ignoring unknown execution event", "cell_id", info.CellID, "type", unknown.Type)
			continue
		}

		e.logger.Debug("Applying execution event", "cell_id", info.CellID, "kind", event.Kind())
		update(func(r domain.Result) domain.Result { return domain.Apply(r, event) })
	}
}

// prepare allocates a display id for display artifacts that carry none.
func (e *Executor) prepare(event domain.ExecutionEvent) domain.ExecutionEvent {
	if d, ok := event.(domain.DisplayDataEvent); ok && d.DisplayID == "" {
		d.DisplayID = e.newDisplayID()
		return d
	}
	return event
}

// abort seals the cell's Result as a failed attempt without dispatching.
func (e *Executor) abort(ctx context.Context, cellID string, cause error) error {
	at := e.now()
	token, err := e.container.BeginRun(cellID, at)
	if err == nil {
		e.container.Update(cellID, token, func(r domain.Result) domain.Result {
			return domain.Fail(r, cause, at)
		})
	}

	info := &domain.ExecutionInfo{Timestamp: at, CellID: cellID, Generation: token, Status: domain.StatusError, Err: cause}
	if e.hooks.OnExecuteStart != nil {
		e.hooks.OnExecuteStart(ctx, info)
	}
	if e.hooks.OnExecuteFinish != nil {
		e.hooks.OnExecuteFinish(ctx, info)
	}
	e.logger.Warn("Cell execution aborted", "cell_id", cellID, "err", cause)

	e.persist(ctx)
	return &domain.CellError{CellID: cellID, Err: cause}
}

// ExecuteAll runs every code cell in notebook order, one at a time.
// Failures do not stop the run; they are joined in the returned error.
func (e *Executor) ExecuteAll(ctx context.Context) error {
	var errs []error
	for _, cell := range e.container.State().Ordered() {
		if cell.Type != domain.CellCode {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.Execute(ctx, cell.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap := e.container.Snapshot()
	key := e.snapshotKey
	if key == "" {
		key = snap.Path
	}
	if key == "" {
		return
	}
	if err := e.store.Save(context.WithoutCancel(ctx), key, snap); err != nil {
		e.logger.Warn("Failed to persist snapshot", "key", key, "err", err)
		return
	}
	e.logger.Debug("Snapshot saved", "key", key)
}
