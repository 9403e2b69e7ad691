package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/quill/pkg/adapters/memory"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/aretw0/quill/pkg/runner"
	"github.com/aretw0/quill/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	container *notebook.Container
	editors   *notebook.Editors
	transport *memory.Transport
	exec      *runner.Executor
}

func newFixture(t *testing.T, handler memory.Handler, opts ...runner.Option) *fixture {
	t.Helper()
	tr := memory.NewTransport(handler)
	c := notebook.New()
	mgr := session.NewManager(tr)
	c.SetKernel(mgr.Start(context.Background(), "test", ports.KernelSpec{Name: "memory"}))

	editors := notebook.NewEditors()
	return &fixture{
		container: c,
		editors:   editors,
		transport: tr,
		exec:      runner.New(c, editors, tr, opts...),
	}
}

func (f *fixture) addCell(t *testing.T, code string) string {
	t.Helper()
	id, err := f.container.AddCell(domain.CellCode, code)
	require.NoError(t, err)
	f.editors.Register(id, notebook.NewTextBuffer(code))
	return id
}

func (f *fixture) result(t *testing.T, id string) *domain.Result {
	t.Helper()
	cell, ok := f.container.Cell(id)
	require.True(t, ok)
	return cell.Result
}

func TestExecute_StdoutThenComplete(t *testing.T) {
	f := newFixture(t, memory.Script(domain.StreamEvent{Name: domain.Stdout, Text: "hello"}))
	id := f.addCell(t, "print('hello')")

	require.NoError(t, f.exec.Execute(context.Background(), id))

	r := f.result(t, id)
	require.NotNil(t, r)
	assert.Equal(t, domain.StatusSuccess, r.Status)
	require.Len(t, r.Outputs, 1)
	assert.Equal(t, "hello", r.Outputs[0].Text)
	require.NotNil(t, r.FinishedAt)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
	assert.Equal(t, []string{"print('hello')"}, f.transport.Dispatched())
}

func TestExecute_KernelErrorIsNotAFailure(t *testing.T) {
	f := newFixture(t, memory.Script(
		domain.ErrorEvent{Name: "ZeroDivisionError", Message: "division by zero"},
		domain.StreamEvent{Name: domain.Stdout, Text: "after"},
	))
	id := f.addCell(t, "1/0")

	require.NoError(t, f.exec.Execute(context.Background(), id))

	r := f.result(t, id)
	assert.Equal(t, domain.StatusError, r.Status)
	require.Len(t, r.Outputs, 2)
	assert.Equal(t, "ZeroDivisionError", r.Outputs[0].ErrorName)
	assert.NotNil(t, r.FinishedAt)
}

func TestExecute_ReadsCurrentEditorText(t *testing.T) {
	f := newFixture(t, memory.Echo)
	id, _ := f.container.AddCell(domain.CellCode, "initial")
	buf := notebook.NewTextBuffer("initial")
	f.editors.Register(id, buf)

	buf.Set("edited")
	require.NoError(t, f.exec.Execute(context.Background(), id))
	assert.Equal(t, []string{"edited"}, f.transport.Dispatched())
}

func TestExecute_NewRunResetsResult(t *testing.T) {
	f := newFixture(t, memory.Echo)
	id := f.addCell(t, "x")
	ctx := context.Background()

	require.NoError(t, f.exec.Execute(ctx, id))
	require.NoError(t, f.exec.Execute(ctx, id))

	r := f.result(t, id)
	require.Len(t, r.Outputs, 2)
	require.NotNil(t, r.ExecutionCount)
	assert.Equal(t, 2, *r.ExecutionCount)
}

func TestExecute_UnknownCell(t *testing.T) {
	f := newFixture(t, memory.Echo)
	err := f.exec.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCellNotFound)
	assert.Empty(t, f.transport.Dispatched())
}

func TestExecute_MissingEditorSealsError(t *testing.T) {
	f := newFixture(t, memory.Echo)
	id, _ := f.container.AddCell(domain.CellCode, "x")

	err := f.exec.Execute(context.Background(), id)

	var cellErr *domain.CellError
	require.ErrorAs(t, err, &cellErr)
	assert.Equal(t, id, cellErr.CellID)
	assert.ErrorIs(t, err, domain.ErrCellNotFound)
	assert.Empty(t, f.transport.Dispatched())

	r := f.result(t, id)
	require.NotNil(t, r)
	assert.Equal(t, domain.StatusError, r.Status)
	assert.NotNil(t, r.FinishedAt)
}

func TestExecute_SessionFailure(t *testing.T) {
	tr := memory.NewTransport(memory.Echo, memory.WithStartError(errors.New("no such kernel")))
	c := notebook.New()
	c.SetKernel(session.NewManager(tr).Start(context.Background(), "nb", ports.KernelSpec{Name: "nope"}))
	editors := notebook.NewEditors()
	exec := runner.New(c, editors, tr)

	id, _ := c.AddCell(domain.CellCode, "x")
	editors.Register(id, notebook.NewTextBuffer("x"))

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrSessionFailed)
	}

	cell, _ := c.Cell(id)
	require.NotNil(t, cell.Result)
	assert.Equal(t, domain.StatusError, cell.Result.Status)
	require.NotNil(t, cell.Result.FinishedAt)
	assert.True(t, cell.Result.FinishedAt.Equal(cell.Result.StartedAt))
	require.Len(t, cell.Result.Outputs, 1)
	assert.Equal(t, domain.TransportErrorName, cell.Result.Outputs[0].ErrorName)
}

func TestExecute_NoKernel(t *testing.T) {
	tr := memory.NewTransport(memory.Echo)
	c := notebook.New()
	editors := notebook.NewEditors()
	exec := runner.New(c, editors, tr)
	id, _ := c.AddCell(domain.CellCode, "x")
	editors.Register(id, notebook.NewTextBuffer("x"))

	assert.ErrorIs(t, exec.Execute(context.Background(), id), domain.ErrSessionNotReady)
}

func TestExecute_NotLoaded(t *testing.T) {
	f := newFixture(t, memory.Echo)
	f.container.SetLoadError(errors.New("corrupt notebook"))

	err := f.exec.Execute(context.Background(), "any")
	assert.ErrorIs(t, err, domain.ErrNotLoaded)
}

func TestExecute_WaitsForSession(t *testing.T) {
	tr := memory.NewTransport(memory.Script(domain.StreamEvent{Name: domain.Stdout, Text: "ok"}))
	c := notebook.New()
	editors := notebook.NewEditors()
	exec := runner.New(c, editors, tr)

	h := session.NewHandle(ports.KernelSpec{Name: "memory"})
	c.SetKernel(h)
	id, _ := c.AddCell(domain.CellCode, "x")
	editors.Register(id, notebook.NewTextBuffer("x"))

	done := make(chan error, 1)
	go func() { done <- exec.Execute(context.Background(), id) }()

	select {
	case <-done:
		t.Fatal("Execute returned before the session was ready")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, tr.Dispatched())

	sessionID, err := tr.StartSession(context.Background(), h.Spec())
	require.NoError(t, err)
	h.Resolve(sessionID, nil)

	require.NoError(t, <-done)
	cell, _ := c.Cell(id)
	assert.Equal(t, domain.StatusSuccess, cell.Result.Status)
}

func TestExecute_TransportFailure(t *testing.T) {
	boom := errors.New("connection reset")
	f := newFixture(t, func(ctx context.Context, exec memory.Execution, out *memory.Pipe) error {
		_ = out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: "partial"})
		return boom
	})
	id := f.addCell(t, "x")

	err := f.exec.Execute(context.Background(), id)
	assert.ErrorIs(t, err, boom)

	r := f.result(t, id)
	assert.Equal(t, domain.StatusError, r.Status)
	require.Len(t, r.Outputs, 2)
	assert.Equal(t, "partial", r.Outputs[0].Text)
	assert.Equal(t, domain.TransportErrorName, r.Outputs[1].ErrorName)
	assert.Equal(t, "connection reset", r.Outputs[1].Message)
	assert.NotNil(t, r.FinishedAt)
}

func TestExecute_DisconnectEvent(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, exec memory.Execution, out *memory.Pipe) error {
		_, err := domain.DecodeEvent(map[string]any{"event": "disconnect"})
		return err
	})
	id := f.addCell(t, "x")

	err := f.exec.Execute(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrKernelDisconnected)
	assert.Equal(t, domain.StatusError, f.result(t, id).Status)
}

func TestExecute_ContextCancelled(t *testing.T) {
	sent := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, exec memory.Execution, out *memory.Pipe) error {
		_ = out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: "working"})
		close(sent)
		<-ctx.Done()
		return ctx.Err()
	})
	id := f.addCell(t, "loop()")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sent
		cancel()
	}()

	err := f.exec.Execute(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	r := f.result(t, id)
	assert.Equal(t, domain.StatusError, r.Status)
	assert.NotNil(t, r.FinishedAt)
}

func TestExecute_ClearWhileRunningWins(t *testing.T) {
	sent := make(chan struct{})
	proceed := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, exec memory.Execution, out *memory.Pipe) error {
		_ = out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: "a"})
		close(sent)
		<-proceed
		_ = out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: "late"})
		return nil
	})
	id := f.addCell(t, "x")

	done := make(chan error, 1)
	go func() { done <- f.exec.Execute(context.Background(), id) }()

	<-sent
	f.container.ClearResult(id)
	close(proceed)

	require.NoError(t, <-done)
	assert.Nil(t, f.result(t, id))
}

func TestExecute_AllocatesDisplayIDs(t *testing.T) {
	f := newFixture(t,
		memory.Script(
			domain.DisplayDataEvent{Data: domain.MimeBundle{"text/plain": "first"}},
			domain.DisplayDataEvent{Data: domain.MimeBundle{"text/plain": "named"}, DisplayID: "progress"},
			domain.UpdateDisplayDataEvent{Data: domain.MimeBundle{"text/plain": "done"}, DisplayID: "progress"},
		),
		runner.WithDisplayIDGenerator(func() string { return "auto-1" }),
	)
	id := f.addCell(t, "x")

	require.NoError(t, f.exec.Execute(context.Background(), id))

	r := f.result(t, id)
	require.Len(t, r.Outputs, 2)
	assert.Equal(t, map[string]int{"auto-1": 0, "progress": 1}, r.Displays)
	assert.Equal(t, "done", r.Outputs[1].Data["text/plain"])
}

func TestExecute_HooksAndUnknownEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		started  int
		events   []domain.EventKind
		finished *domain.ExecutionInfo
	)
	hooks := domain.LifecycleHooks{
		OnExecuteStart: func(ctx context.Context, info *domain.ExecutionInfo) {
			mu.Lock()
			defer mu.Unlock()
			started++
		},
		OnEvent: func(ctx context.Context, info *domain.ExecutionInfo, ev domain.ExecutionEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev.Kind())
		},
		OnExecuteFinish: func(ctx context.Context, info *domain.ExecutionInfo) {
			mu.Lock()
			defer mu.Unlock()
			copied := *info
			finished = &copied
		},
	}

	now := time.Unix(100, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	f := newFixture(t,
		memory.Script(
			domain.UnknownEvent{Type: "comm_open"},
			domain.StreamEvent{Name: domain.Stderr, Text: "warn"},
		),
		runner.WithHooks(hooks),
		runner.WithClock(clock),
	)
	id := f.addCell(t, "x")

	require.NoError(t, f.exec.Execute(context.Background(), id))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, started)
	assert.Equal(t, []domain.EventKind{"comm_open", domain.EventStderr}, events)
	require.NotNil(t, finished)
	assert.Equal(t, id, finished.CellID)
	assert.Equal(t, domain.StatusSuccess, finished.Status)
	assert.Equal(t, time.Second, finished.Duration)
	assert.NoError(t, finished.Err)

	r := f.result(t, id)
	require.Len(t, r.Outputs, 1)
	assert.Equal(t, domain.Stderr, r.Outputs[0].Name)
}

func TestExecute_PersistsSnapshot(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, memory.Echo, runner.WithSnapshotStore(store, "nb-key"))
	id := f.addCell(t, "x")

	require.NoError(t, f.exec.Execute(context.Background(), id))

	snap, err := store.Load(context.Background(), "nb-key")
	require.NoError(t, err)
	require.Len(t, snap.Cells, 1)
	require.NotNil(t, snap.Cells[0].Result)
	assert.Equal(t, domain.StatusSuccess, snap.Cells[0].Result.Status)
}

func TestExecuteAll(t *testing.T) {
	f := newFixture(t, memory.Echo)
	first := f.addCell(t, "one")
	_, _ = f.container.AddCell(domain.CellMarkdown, "# notes")
	orphan, _ := f.container.AddCell(domain.CellCode, "no editor")
	last := f.addCell(t, "three")

	err := f.exec.ExecuteAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCellNotFound)

	assert.Equal(t, []string{"one", "three"}, f.transport.Dispatched())
	assert.Equal(t, domain.StatusSuccess, f.result(t, first).Status)
	assert.Equal(t, domain.StatusError, f.result(t, orphan).Status)
	assert.Equal(t, domain.StatusSuccess, f.result(t, last).Status)
}

func TestExecute_ConcurrentCellsStayIndependent(t *testing.T) {
	const chunks = 200

	var started sync.WaitGroup
	started.Add(2)
	baton := make(chan struct{}, 1)
	baton <- struct{}{}

	// Both handlers take turns on the baton, so the two streams interleave.
	handler := func(ctx context.Context, exec memory.Execution, out *memory.Pipe) error {
		started.Done()
		started.Wait()
		for i := 0; i < chunks; i++ {
			select {
			case <-baton:
			case <-ctx.Done():
				return ctx.Err()
			}
			err := out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: fmt.Sprintf("%s-%d\n", exec.Code, i)})
			baton <- struct{}{}
			if err != nil {
				return err
			}
		}
		return out.Send(ctx, domain.ExecuteResultEvent{
			ExecutionCount: exec.Count,
			Data:           domain.MimeBundle{"text/plain": exec.Code},
		})
	}

	f := newFixture(t, handler)
	ids := map[string]string{
		"left":  f.addCell(t, "left"),
		"right": f.addCell(t, "right"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- f.exec.Execute(ctx, id)
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts := map[int]bool{}
	for code, id := range ids {
		var want strings.Builder
		for i := 0; i < chunks; i++ {
			fmt.Fprintf(&want, "%s-%d\n", code, i)
		}

		r := f.result(t, id)
		require.NotNil(t, r)
		assert.Equal(t, domain.StatusSuccess, r.Status)
		require.NotNil(t, r.FinishedAt)
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
		require.Len(t, r.Outputs, 2, "stdout chunks merge into one output")
		assert.Equal(t, want.String(), r.Outputs[0].Text)
		text, _ := r.Outputs[1].Data.Text("text/plain")
		assert.Equal(t, code, text)
		require.NotNil(t, r.ExecutionCount)
		counts[*r.ExecutionCount] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, counts)
}
