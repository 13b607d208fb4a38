package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is a thread-safe in-memory queue backend. Each named queue is a
// FIFO under a single producer and consumer; under concurrent producers
// ordering across producers isn't guaranteed, but every message is
// delivered exactly once.
type Memory struct {
	mu     sync.Mutex
	queues map[string][][]byte
	stats  map[string]*Stats
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string][][]byte),
		stats:  make(map[string]*Stats),
	}
}

var _ Queue = (*Memory)(nil)

func (m *Memory) statsLocked(name string) *Stats {
	var s = m.stats[name]
	if s == nil {
		s = new(Stats)
		m.stats[name] = s
	}
	return s
}

// Send appends the payload to the named queue.
func (m *Memory) Send(_ context.Context, name string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cp = make([]byte, len(payload))
	copy(cp, payload)
	m.queues[name] = append(m.queues[name], cp)

	var s = m.statsLocked(name)
	s.MessagesInQueue++
	s.LastUpdated = time.Now()
	return nil
}

// Receive pops the head of the named queue, or returns ok=false when empty.
func (m *Memory) Receive(_ context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var q = m.queues[name]
	if len(q) == 0 {
		return nil, false, nil
	}
	var head = q[0]
	m.queues[name] = q[1:]

	var s = m.statsLocked(name)
	s.MessagesInQueue--
	s.MessagesProcessed++
	s.LastUpdated = time.Now()
	return head, true, nil
}

// Health always reports true for the in-memory backend.
func (m *Memory) Health(context.Context) bool { return true }

// Stats returns the named queue's counters.
func (m *Memory) Stats(_ context.Context, name string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.statsLocked(name), nil
}

// Len reports the number of queued messages, for tests and diagnostics.
func (m *Memory) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[name])
}
