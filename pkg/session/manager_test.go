package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/aretw0/quill/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowTransport simulates kernel start latency to provoke races.
type slowTransport struct {
	starts   atomic.Int32
	stopped  sync.Map
	fail     error
	release  chan struct{}
	interval time.Duration
}

func (s *slowTransport) StartSession(ctx context.Context, spec ports.KernelSpec) (string, error) {
	n := s.starts.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	time.Sleep(s.interval)
	if s.fail != nil {
		return "", s.fail
	}
	return fmt.Sprintf("%s-%d", spec.Name, n), nil
}

func (s *slowTransport) Dispatch(ctx context.Context, sessionID, code string) (ports.EventStream, error) {
	return nil, errors.New("not implemented")
}

func (s *slowTransport) ShutdownSession(ctx context.Context, id string) error {
	s.stopped.Store(id, true)
	return nil
}

func TestManager_StartIsIdempotent(t *testing.T) {
	tr := &slowTransport{interval: 5 * time.Millisecond}
	mgr := session.NewManager(tr)
	ctx := context.Background()

	var wg sync.WaitGroup
	handles := make([]*session.Handle, 10)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = mgr.Start(ctx, "nb.ipynb", ports.KernelSpec{Name: "python3"})
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}

	id, err := handles[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "python3-1", id)
	assert.Equal(t, int32(1), tr.starts.Load())
}

func TestManager_HandleNotReadyUntilStarted(t *testing.T) {
	tr := &slowTransport{release: make(chan struct{})}
	mgr := session.NewManager(tr)
	ctx := context.Background()

	h := mgr.Start(ctx, "k", ports.KernelSpec{Name: "python3"})
	assert.False(t, h.Ready())
	assert.Empty(t, h.ID())

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := h.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(tr.release)
	id, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, h.Ready())
	assert.Equal(t, id, h.ID())
}

func TestManager_FailedStartIsSticky(t *testing.T) {
	boom := errors.New("kernel not found")
	tr := &slowTransport{fail: boom}
	mgr := session.NewManager(tr)
	ctx := context.Background()

	h := mgr.Start(ctx, "k", ports.KernelSpec{Name: "nope"})
	_, err := h.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionFailed)
	assert.False(t, h.Ready())
	assert.Equal(t, boom, h.Err())

	// Every waiter observes the same failure.
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionFailed)

	// A later Start retries instead of returning the failed handle.
	tr.fail = nil
	h2 := mgr.Start(ctx, "k", ports.KernelSpec{Name: "nope"})
	assert.NotSame(t, h, h2)
	_, err = h2.Wait(ctx)
	assert.NoError(t, err)
}

func TestManager_ShutdownAndRestart(t *testing.T) {
	tr := &slowTransport{}
	mgr := session.NewManager(tr)
	ctx := context.Background()

	h := mgr.Start(ctx, "k", ports.KernelSpec{Name: "python3"})
	first, err := h.Wait(ctx)
	require.NoError(t, err)

	h2, err := mgr.Restart(ctx, "k", ports.KernelSpec{Name: "ignored"})
	require.NoError(t, err)
	second, err := h2.Wait(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "python3", h2.Spec().Name)
	_, stopped := tr.stopped.Load(first)
	assert.True(t, stopped)

	require.NoError(t, mgr.Shutdown(ctx, "k"))
	_, ok := mgr.Get("k")
	assert.False(t, ok)
	_, stopped = tr.stopped.Load(second)
	assert.True(t, stopped)

	// Unknown keys are a no-op.
	assert.NoError(t, mgr.Shutdown(ctx, "missing"))
}

func TestHandle_ResolveOnce(t *testing.T) {
	h := session.NewHandle(ports.KernelSpec{Name: "python3"})
	h.Resolve("a", nil)
	h.Resolve("b", errors.New("late"))

	id, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", id)
	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

type countingLocker struct {
	mu     sync.Mutex
	locks  int
	unlock int
	fail   error
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	l.locks++
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlock++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(&slowTransport{}, session.WithLocker(locker))
	ctx := context.Background()

	h := mgr.Start(ctx, "k", ports.KernelSpec{Name: "python3"})
	_, err := h.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Shutdown(ctx, "k"))

	locker.mu.Lock()
	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.unlock)
	locker.mu.Unlock()

	locker.fail = errors.New("redis down")
	h = mgr.Start(ctx, "k", ports.KernelSpec{Name: "python3"})
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionFailed)
	assert.ErrorContains(t, err, "redis down")
}
