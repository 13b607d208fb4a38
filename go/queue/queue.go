// Package queue abstracts the named message queues the pipeline runs
// against: an in-memory backend for development and tests, and an HTTPS
// broker backend for production.
package queue

import (
	"context"
	"errors"
	"time"
)

// Standard queue names. All three are configurable; these are the defaults.
const (
	DefaultInput      = "mt103-input"
	DefaultCompleted  = "mt103-completed"
	DefaultDeadLetter = "mt103-dead-letter"
)

// Names binds the three pipeline queues to their configured names.
type Names struct {
	Input      string
	Completed  string
	DeadLetter string
}

// DefaultNames returns the standard queue names.
func DefaultNames() Names {
	return Names{
		Input:      DefaultInput,
		Completed:  DefaultCompleted,
		DeadLetter: DefaultDeadLetter,
	}
}

// Stats is a point-in-time snapshot of one queue.
type Stats struct {
	MessagesInQueue   int64     `json:"messagesInQueue"`
	MessagesProcessed int64     `json:"messagesProcessed"`
	MessagesFailed    int64     `json:"messagesFailed"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// ErrUnhealthy is returned by operations while the backend is unreachable.
// The pipeline treats it as transient and backs off.
var ErrUnhealthy = errors.New("queue backend is unhealthy")

// Queue is the contract exposed to the pipeline. Receive is non-blocking
// from the pipeline's perspective: it returns ok=false when no message is
// available (the broker backend may long-poll internally within its
// configured wait).
type Queue interface {
	Send(ctx context.Context, name string, payload []byte) error
	Receive(ctx context.Context, name string) (payload []byte, ok bool, err error)
	Health(ctx context.Context) bool
	Stats(ctx context.Context, name string) (Stats, error)
}
