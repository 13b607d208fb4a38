// Package store persists processed-message records. The SQLite
// implementation is the production store; Memory backs tests and the
// in-memory development profile.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a processed-message record.
type Status string

const (
	Pending    Status = "Pending"
	Processing Status = "Processing"
	Processed  Status = "Processed"
	Failed     Status = "Failed"
	DeadLetter Status = "DeadLetter"
	Archived   Status = "Archived"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case Pending, Processing, Processed, Failed, DeadLetter, Archived:
		return true
	}
	return false
}

// ProcessedMessage is the persistent record of one ingested payload.
type ProcessedMessage struct {
	ID            string                 `json:"id"`
	MessageType   string                 `json:"messageType"`
	RawMessage    string                 `json:"rawMessage"`
	ParsedMessage json.RawMessage        `json:"parsedMessage,omitempty"`
	Status        Status                 `json:"status"`
	ProcessedAt   time.Time              `json:"processedAt"`
	ErrorDetails  string                 `json:"errorDetails,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Filter selects records for Query and Count.
// Skip and Take paginate; Take <= 0 means no limit.
type Filter struct {
	Status      Status
	MessageType string
	FromDate    time.Time
	ToDate      time.Time
	Skip        int
	Take        int
}

// ErrNotFound is returned when a record id doesn't exist.
var ErrNotFound = errors.New("message record not found")

// Repository is the persistence contract of the pipeline and control front.
//
// Save is an idempotent upsert by id: re-saving replaces every field except
// CreatedAt, which is immutable after first save. Save is atomic from the
// caller's perspective; after it returns the record is visible to reads.
type Repository interface {
	Save(ctx context.Context, m *ProcessedMessage) (string, error)
	GetByID(ctx context.Context, id string) (*ProcessedMessage, error)
	GetByReference(ctx context.Context, reference string) ([]ProcessedMessage, error)
	Query(ctx context.Context, f Filter) ([]ProcessedMessage, error)
	UpdateStatus(ctx context.Context, id string, s Status) error
	Count(ctx context.Context, f Filter) (int64, error)
}
