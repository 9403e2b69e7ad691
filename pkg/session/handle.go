package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// Handle is the opaque identifier plus readiness signal of a kernel session.
type Handle struct {
	spec  ports.KernelSpec
	ready chan struct{}
	once  sync.Once

	id  string
	err error
}

// NewHandle creates a handle that is not yet ready.
func NewHandle(spec ports.KernelSpec) *Handle {
	return &Handle{
		spec:  spec,
		ready: make(chan struct{}),
	}
}

// Resolve records the outcome of the start attempt. Only the first call has
// an effect.
func (h *Handle) Resolve(id string, err error) {
	h.once.Do(func() {
		h.id = id
		h.err = err
		close(h.ready)
	})
}

// Wait suspends until the session is ready or the start attempt failed.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.ready:
	}
	if h.err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSessionFailed, h.err)
	}
	return h.id, nil
}

// Done is closed once the start attempt resolved, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.ready
}

// Ready reports whether the session started successfully.
func (h *Handle) Ready() bool {
	select {
	case <-h.ready:
		return h.err == nil
	default:
		return false
	}
}

// ID returns the session identifier, or "" while not ready.
func (h *Handle) ID() string {
	if !h.Ready() {
		return ""
	}
	return h.id
}

// Err returns the recorded start error, if any.
func (h *Handle) Err() error {
	select {
	case <-h.ready:
		return h.err
	default:
		return nil
	}
}

// Spec returns the kernel spec the session was started with.
func (h *Handle) Spec() ports.KernelSpec {
	return h.spec
}
