package process

import (
	"context"
	"io"
	"sync"

	"github.com/aretw0/quill/pkg/domain"
)

// stream is the ports.EventStream of one process execution.
type stream struct {
	events chan domain.ExecutionEvent
	done   chan struct{}
	stop   chan struct{}
	cancel context.CancelFunc

	stopOnce sync.Once
	err      error
}

func newStream(cancel context.CancelFunc) *stream {
	return &stream{
		events: make(chan domain.ExecutionEvent),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		cancel: cancel,
	}
}

// send delivers an event unless the consumer went away.
func (s *stream) send(ev domain.ExecutionEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

// finish must be called exactly once, after the last send.
func (s *stream) finish(err error) {
	if err == nil {
		err = io.EOF
	}
	s.err = err
	close(s.done)
}

func (s *stream) Next(ctx context.Context) (domain.ExecutionEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the process if it is still running.
func (s *stream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
	return nil
}
