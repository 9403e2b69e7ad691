package http

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/quill/pkg/notebook"
)

// Filter selects the changes an SSE client receives. Empty fields match all.
type Filter struct {
	Cells []string
	Kinds []notebook.ChangeKind
}

func (f Filter) match(c notebook.Change) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, c.Kind) {
		return false
	}
	// Changes not scoped to a cell reach every subscriber.
	if len(f.Cells) > 0 && c.CellID != "" && !slices.Contains(f.Cells, c.CellID) {
		return false
	}
	return true
}

// StreamManager fans notebook changes out to active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan notebook.Change]Filter
	buffer      int
	logger      *slog.Logger
}

// NewStreamManager creates a StreamManager whose clients may lag by up to
// buffer changes before changes are dropped for them.
func NewStreamManager(buffer int, logger *slog.Logger) *StreamManager {
	return &StreamManager{
		subscribers: make(map[chan notebook.Change]Filter),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a client. The returned func unregisters it and closes the channel.
func (sm *StreamManager) Subscribe(filter Filter) (<-chan notebook.Change, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan notebook.Change, sm.buffer)
	sm.subscribers[ch] = filter

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.subscribers, ch)
			close(ch)
		})
	}
}

// Broadcast delivers a change to every matching client without blocking.
func (sm *StreamManager) Broadcast(c notebook.Change) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch, filter := range sm.subscribers {
		if !filter.match(c) {
			continue
		}
		select {
		case ch <- c:
		default:
			// Slow client.
			sm.logger.Warn("SSE: Client buffer full, dropping change", "kind", c.Kind, "cell_id", c.CellID)
		}
	}
}

// Len returns the number of connected clients.
func (sm *StreamManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}
