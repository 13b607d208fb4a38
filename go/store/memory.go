package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a Repository held entirely in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*ProcessedMessage
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*ProcessedMessage)}
}

var _ Repository = (*Memory)(nil)

// Save upserts by id, keeping CreatedAt immutable after first save.
func (r *Memory) Save(_ context.Context, m *ProcessedMessage) (string, error) {
	if m.ID == "" {
		return "", fmt.Errorf("record has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var now = time.Now().UTC()
	var cp = *m
	if prev, ok := r.records[m.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.CreatedAt, m.UpdatedAt = cp.CreatedAt, cp.UpdatedAt

	r.records[m.ID] = &cp
	return m.ID, nil
}

// GetByID fetches one record, or ErrNotFound.
func (r *Memory) GetByID(_ context.Context, id string) (*ProcessedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var m, ok = r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	var cp = *m
	return &cp, nil
}

// GetByReference fetches records whose metadata transactionReference
// matches, newest first.
func (r *Memory) GetByReference(_ context.Context, reference string) ([]ProcessedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ProcessedMessage
	for _, m := range r.records {
		if ref, ok := m.Metadata["transactionReference"].(string); ok && ref == reference {
			out = append(out, *m)
		}
	}
	sortByProcessedAtDesc(out)
	return out, nil
}

// Query returns a consistent snapshot matching the filter, newest first.
func (r *Memory) Query(_ context.Context, f Filter) ([]ProcessedMessage, error) {
	r.mu.RLock()
	var out []ProcessedMessage
	for _, m := range r.records {
		if matches(m, f) {
			out = append(out, *m)
		}
	}
	r.mu.RUnlock()

	sortByProcessedAtDesc(out)

	if f.Skip > 0 {
		if f.Skip >= len(out) {
			return nil, nil
		}
		out = out[f.Skip:]
	}
	if f.Take > 0 && f.Take < len(out) {
		out = out[:f.Take]
	}
	return out, nil
}

// UpdateStatus sets the record's status, or ErrNotFound.
func (r *Memory) UpdateStatus(_ context.Context, id string, s Status) error {
	if !ValidStatus(s) {
		return fmt.Errorf("status %q is not valid", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var m, ok = r.records[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = s
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of matching records.
func (r *Memory) Count(_ context.Context, f Filter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, m := range r.records {
		if matches(m, f) {
			n++
		}
	}
	return n, nil
}

func matches(m *ProcessedMessage, f Filter) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.MessageType != "" && m.MessageType != f.MessageType {
		return false
	}
	if !f.FromDate.IsZero() && m.ProcessedAt.Before(f.FromDate) {
		return false
	}
	if !f.ToDate.IsZero() && m.ProcessedAt.After(f.ToDate) {
		return false
	}
	return true
}

func sortByProcessedAtDesc(out []ProcessedMessage) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
}
