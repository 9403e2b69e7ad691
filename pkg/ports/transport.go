package ports

import (
	"context"

	"github.com/aretw0/quill/pkg/domain"
)

// KernelSpec selects the kind of session to start.
type KernelSpec struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// EventStream yields the execution events of a single dispatch, in order.
type EventStream interface {
	// Next blocks until the next event is available.
	// It returns io.EOF when the stream terminates normally; any other error
	// means the stream aborted.
	Next(ctx context.Context) (domain.ExecutionEvent, error)

	// Close releases the stream. It is safe to call more than once.
	Close() error
}

// KernelTransport talks to computational sessions.
// Implementations own message framing and ordering; events of one stream
// must be delivered in order, at most once.
type KernelTransport interface {
	// StartSession starts a session and returns its identifier.
	StartSession(ctx context.Context, spec KernelSpec) (string, error)

	// Dispatch submits code for execution and returns the stream of its events.
	Dispatch(ctx context.Context, sessionID string, code string) (EventStream, error)
}

// SessionCloser is implemented by transports that can stop a session.
type SessionCloser interface {
	ShutdownSession(ctx context.Context, sessionID string) error
}
