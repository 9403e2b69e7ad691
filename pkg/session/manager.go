package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/ports"
)

// DefaultStartTimeout bounds a single session start attempt.
const DefaultStartTimeout = 60 * time.Second

// DefaultLockTTL is how long a distributed lifecycle lock may be held.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates kernel session lifecycles, keyed by an arbitrary name
// (typically the notebook path).
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	transport ports.KernelTransport

	mu      sync.Mutex            // Global lock for the maps
	locks   map[string]*lockEntry // Map of active locks
	handles map[string]*Handle

	locker       ports.DistributedLocker // Optional distributed locker
	startTimeout time.Duration
	logger       *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLocker enables distributed locking of lifecycle operations.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithStartTimeout bounds how long a start attempt may take.
func WithStartTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.startTimeout = d
	}
}

// NewManager creates a new session Manager on top of a transport.
func NewManager(transport ports.KernelTransport, opts ...Option) *Manager {
	m := &Manager{
		transport:    transport,
		locks:        make(map[string]*lockEntry),
		handles:      make(map[string]*Handle),
		startTimeout: DefaultStartTimeout,
		logger:       logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock executes a function while holding the lifecycle lock for the key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, DefaultLockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Start returns the session handle for key, starting a session if there is
// none or the previous attempt failed. It does not wait for readiness.
func (m *Manager) Start(ctx context.Context, key string, spec ports.KernelSpec) *Handle {
	var h *Handle
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		if existing, ok := m.Get(key); ok && existing.Err() == nil {
			h = existing
			return nil
		}
		h = m.launch(ctx, key, spec)
		return nil
	})
	if err != nil {
		// Could not even attempt a start; report it through the handle.
		h = NewHandle(spec)
		h.Resolve("", err)
	}
	return h
}

// launch must be called with the key lock held.
func (m *Manager) launch(ctx context.Context, key string, spec ports.KernelSpec) *Handle {
	h := NewHandle(spec)
	m.mu.Lock()
	m.handles[key] = h
	m.mu.Unlock()

	// The attempt outlives the caller's request but not the start timeout.
	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.startTimeout)
	go func() {
		defer cancel()
		id, err := m.transport.StartSession(startCtx, spec)
		if err != nil {
			m.logger.Error("Failed to start kernel session", "key", key, "kernel", spec.Name, "err", err)
		} else {
			m.logger.Info("Kernel session ready", "key", key, "kernel", spec.Name, "session_id", id)
		}
		h.Resolve(id, err)
	}()
	return h
}

// Get returns the current handle for key.
func (m *Manager) Get(key string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[key]
	return h, ok
}

// Shutdown stops the session for key and forgets its handle.
// Shutting down an unknown key is a no-op.
func (m *Manager) Shutdown(ctx context.Context, key string) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.shutdown(ctx, key)
	})
}

// shutdown must be called with the key lock held.
func (m *Manager) shutdown(ctx context.Context, key string) error {
	h, ok := m.Get(key)
	if !ok {
		return nil
	}

	m.mu.Lock()
	delete(m.handles, key)
	m.mu.Unlock()

	id, err := h.Wait(ctx)
	if err != nil {
		// Nothing was started, nothing to stop.
		return nil
	}

	closer, ok := m.transport.(ports.SessionCloser)
	if !ok {
		return nil
	}
	if err := closer.ShutdownSession(ctx, id); err != nil {
		return fmt.Errorf("failed to shut down session %s: %w", id, err)
	}
	m.logger.Info("Kernel session stopped", "key", key, "session_id", id)
	return nil
}

// Restart shuts down the current session for key (if any) and starts a new
// one with the same spec, or with spec when there was no previous session.
func (m *Manager) Restart(ctx context.Context, key string, spec ports.KernelSpec) (*Handle, error) {
	var h *Handle
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		if prev, ok := m.Get(key); ok {
			spec = prev.Spec()
		}
		if err := m.shutdown(ctx, key); err != nil {
			return err
		}
		h = m.launch(ctx, key, spec)
		return nil
	})
	return h, err
}

// Keys returns the keys with a known handle.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.handles))
	for k := range m.handles {
		keys = append(keys, k)
	}
	return keys
}
