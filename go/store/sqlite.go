package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	id             TEXT PRIMARY KEY,
	message_type   TEXT NOT NULL,
	raw_message    TEXT NOT NULL,
	parsed_message TEXT,
	status         TEXT NOT NULL,
	processed_at   TIMESTAMP NOT NULL,
	error_details  TEXT,
	metadata       TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_messages_processed_at
	ON processed_messages (processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_processed_messages_status
	ON processed_messages (status);
`

// SQLite is the durable Repository backed by mattn/go-sqlite3.
// Transient errors (locked, busy, I/O) are retried with exponential backoff
// of 1s, 2s, 4s before surfacing; non-transient errors surface immediately.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the store at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

var _ Repository = (*SQLite)(nil)

// transient reports whether the error is worth retrying.
func transient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrProtocol:
			return true
		}
		return false
	}
	// Driver-level connection faults are retryable too.
	return strings.Contains(err.Error(), "database is locked")
}

// retry runs op under the repository's backoff policy.
func retry(ctx context.Context, what string, op func() error) error {
	var policy = backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 4 * time.Second

	var attempts int
	return backoff.Retry(func() error {
		var err = op()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		attempts++
		log.WithFields(log.Fields{"op": what, "attempt": attempts, "err": err}).
			Warn("transient store error; retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
}

// Save upserts the record by id. CreatedAt is set on first save and never
// replaced; UpdatedAt is always refreshed.
func (s *SQLite) Save(ctx context.Context, m *ProcessedMessage) (string, error) {
	if m.ID == "" {
		return "", fmt.Errorf("record has no id")
	}
	var now = time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshalling record metadata: %w", err)
	}

	err = retry(ctx, "save", func() error {
		var _, err = s.db.ExecContext(ctx, `
			INSERT INTO processed_messages
				(id, message_type, raw_message, parsed_message, status,
				 processed_at, error_details, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_type   = excluded.message_type,
				raw_message    = excluded.raw_message,
				parsed_message = excluded.parsed_message,
				status         = excluded.status,
				processed_at   = excluded.processed_at,
				error_details  = excluded.error_details,
				metadata       = excluded.metadata,
				updated_at     = excluded.updated_at`,
			m.ID, m.MessageType, m.RawMessage, nullable(string(m.ParsedMessage)),
			string(m.Status), m.ProcessedAt.UTC(), nullable(m.ErrorDetails),
			string(metadata), m.CreatedAt, m.UpdatedAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("saving record %s: %w", m.ID, err)
	}
	return m.ID, nil
}

// GetByID fetches one record, or ErrNotFound.
func (s *SQLite) GetByID(ctx context.Context, id string) (*ProcessedMessage, error) {
	var row = s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	var m, err = scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("fetching record %s: %w", id, err)
	}
	return m, nil
}

// GetByReference fetches records whose metadata transactionReference matches,
// newest first.
func (s *SQLite) GetByReference(ctx context.Context, reference string) ([]ProcessedMessage, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE json_extract(metadata, '$.transactionReference') = ?
		ORDER BY processed_at DESC`, reference)
	if err != nil {
		return nil, fmt.Errorf("querying by reference: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const selectColumns = `
	SELECT id, message_type, raw_message, parsed_message, status,
	       processed_at, error_details, metadata, created_at, updated_at
	FROM processed_messages`

// Query returns records matching the filter, ordered by processed_at
// descending, with skip/take pagination. A single statement keeps the
// result a consistent snapshot.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]ProcessedMessage, error) {
	var where, args = buildWhere(f)
	var q = selectColumns + where + ` ORDER BY processed_at DESC`
	if f.Take > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Take, maxInt(f.Skip, 0))
	} else if f.Skip > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, f.Skip)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// UpdateStatus sets the record's status, failing with ErrNotFound when the
// id is absent.
func (s *SQLite) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("status %q is not valid", status)
	}
	var res sql.Result
	var err = retry(ctx, "updateStatus", func() (e error) {
		res, e = s.db.ExecContext(ctx, `
			UPDATE processed_messages SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), id)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of records matching the filter.
func (s *SQLite) Count(ctx context.Context, f Filter) (int64, error) {
	var where, args = buildWhere(f)
	var n int64
	var err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_messages`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.MessageType != "" {
		clauses = append(clauses, "message_type = ?")
		args = append(args, f.MessageType)
	}
	if !f.FromDate.IsZero() {
		clauses = append(clauses, "processed_at >= ?")
		args = append(args, f.FromDate.UTC())
	}
	if !f.ToDate.IsZero() {
		clauses = append(clauses, "processed_at <= ?")
		args = append(args, f.ToDate.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*ProcessedMessage, error) {
	var m ProcessedMessage
	var parsed, errDetails, metadata sql.NullString
	var status string

	if err := row.Scan(&m.ID, &m.MessageType, &m.RawMessage, &parsed, &status,
		&m.ProcessedAt, &errDetails, &metadata, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if parsed.Valid && parsed.String != "" {
		m.ParsedMessage = json.RawMessage(parsed.String)
	}
	m.ErrorDetails = errDetails.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding record metadata: %w", err)
		}
	}
	return &m, nil
}

func scanRecords(rows *sql.Rows) ([]ProcessedMessage, error) {
	var out []ProcessedMessage
	for rows.Next() {
		var m, err = scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
