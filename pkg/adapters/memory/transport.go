package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/google/uuid"
)

// Execution is what a Handler sees of one dispatch.
type Execution struct {
	SessionID string
	Code      string
	// Count is the session's execution ordinal for this dispatch.
	Count int
}

// Handler produces the events of one dispatch. Returning a non-nil error
// aborts the stream with that error.
type Handler func(ctx context.Context, exec Execution, out *Pipe) error

// Script returns a Handler that emits the given events and completes.
func Script(events ...domain.ExecutionEvent) Handler {
	return func(ctx context.Context, exec Execution, out *Pipe) error {
		for _, ev := range events {
			if err := out.Send(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}
}

// Echo is a Handler that writes the code back to stdout and reports its last
// line as the value of the execution.
func Echo(ctx context.Context, exec Execution, out *Pipe) error {
	if exec.Code == "" {
		return nil
	}
	if err := out.Send(ctx, domain.StreamEvent{Name: domain.Stdout, Text: exec.Code}); err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(exec.Code, "\n"), "\n")
	return out.Send(ctx, domain.ExecuteResultEvent{
		ExecutionCount: exec.Count,
		Data:           domain.MimeBundle{"text/plain": lines[len(lines)-1]},
		Metadata:       map[string]any{},
	})
}

// Transport is an in-process ports.KernelTransport driven by a Handler.
// Useful for tests and demos.
type Transport struct {
	mu         sync.Mutex
	handler    Handler
	startErr   error
	sessions   map[string]int
	dispatched []string
}

// TransportOption configures the Transport.
type TransportOption func(*Transport)

// WithStartError makes every StartSession call fail.
func WithStartError(err error) TransportOption {
	return func(t *Transport) {
		t.startErr = err
	}
}

// NewTransport creates a transport that answers every dispatch with handler.
func NewTransport(handler Handler, opts ...TransportOption) *Transport {
	t := &Transport{
		handler:  handler,
		sessions: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSession implements ports.KernelTransport.
func (t *Transport) StartSession(ctx context.Context, spec ports.KernelSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return "", t.startErr
	}
	id := uuid.NewString()
	t.sessions[id] = 0
	return id, nil
}

// ShutdownSession implements ports.SessionCloser.
func (t *Transport) ShutdownSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
	return nil
}

// Dispatch implements ports.KernelTransport. The handler runs on its own
// goroutine and the stream ends when it returns.
func (t *Transport) Dispatch(ctx context.Context, sessionID, code string) (ports.EventStream, error) {
	t.mu.Lock()
	count, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	count++
	t.sessions[sessionID] = count
	t.dispatched = append(t.dispatched, code)
	t.mu.Unlock()

	pipe := NewPipe()
	exec := Execution{SessionID: sessionID, Code: code, Count: count}
	go func() {
		pipe.Finish(t.handler(ctx, exec, pipe))
	}()
	return pipe, nil
}

// Dispatched returns the code of every dispatch so far, in order.
func (t *Transport) Dispatched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dispatched...)
}

// Sessions returns the number of live sessions.
func (t *Transport) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
