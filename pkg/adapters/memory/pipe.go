package memory

import (
	"context"
	"io"
	"sync"

	"github.com/aretw0/quill/pkg/domain"
)

// Pipe is a synchronous ports.EventStream. Send blocks until the consumer
// has taken the event, so Finish never overtakes a delivered event.
type Pipe struct {
	events chan domain.ExecutionEvent
	done   chan struct{}
	closed chan struct{}

	finishOnce sync.Once
	closeOnce  sync.Once
	err        error
}

// NewPipe creates an open pipe.
func NewPipe() *Pipe {
	return &Pipe{
		events: make(chan domain.ExecutionEvent),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Send delivers one event. It fails with io.ErrClosedPipe once the consumer
// closed the stream.
func (p *Pipe) Send(ctx context.Context, event domain.ExecutionEvent) error {
	select {
	case p.events <- event:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish terminates the stream. A nil err ends it normally.
func (p *Pipe) Finish(err error) {
	p.finishOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		p.err = err
		close(p.done)
	})
}

// Next implements ports.EventStream.
func (p *Pipe) Next(ctx context.Context) (domain.ExecutionEvent, error) {
	select {
	case ev := <-p.events:
		return ev, nil
	case <-p.done:
		return nil, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements ports.EventStream.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
