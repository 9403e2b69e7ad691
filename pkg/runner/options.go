package runner

import (
	"log/slog"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithHooks registers lifecycle callbacks, e.g. for metrics.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithClock overrides the time source used for Result timing.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithSnapshotStore persists the notebook after every execution.
// The key defaults to the notebook path when empty.
func WithSnapshotStore(store ports.SnapshotStore, key string) Option {
	return func(e *Executor) {
		e.store = store
		e.snapshotKey = key
	}
}

// WithDisplayIDGenerator overrides how ids are allocated for display
// artifacts the kernel left unnamed.
func WithDisplayIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		e.newDisplayID = fn
	}
}
