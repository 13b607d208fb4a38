package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// repositories yields each Repository implementation under test.
func repositories(t *testing.T) map[string]Repository {
	var sqlite, err = OpenSQLite(filepath.Join(t.TempDir(), "mtflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func record(id string, status Status, processedAt time.Time) *ProcessedMessage {
	return &ProcessedMessage{
		ID:          id,
		MessageType: "MT103",
		RawMessage:  "{4:\n:20:" + id + "\n-}",
		Status:      status,
		ProcessedAt: processedAt,
		Metadata: map[string]interface{}{
			"transactionReference": "REF-" + id,
			"currency":             "EUR",
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()
			var now = time.Now().UTC().Truncate(time.Second)

			var m = record("m1", Processed, now)
			m.ParsedMessage = json.RawMessage(`{"transactionReference":"REF-m1"}`)

			id, err := repo.Save(ctx, m)
			require.NoError(t, err)
			require.Equal(t, "m1", id)

			got, err := repo.GetByID(ctx, "m1")
			require.NoError(t, err)
			require.Equal(t, Processed, got.Status)
			require.Equal(t, "MT103", got.MessageType)
			require.JSONEq(t, `{"transactionReference":"REF-m1"}`, string(got.ParsedMessage))
			require.Equal(t, "REF-m1", got.Metadata["transactionReference"])
			require.False(t, got.CreatedAt.IsZero())

			_, err = repo.GetByID(ctx, "nope")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()
			var m = record("m1", Processing, time.Now().UTC())

			_, err := repo.Save(ctx, m)
			require.NoError(t, err)
			var created = m.CreatedAt

			// Saving k times leaves the store as after one save,
			// and CreatedAt never moves.
			for k := 0; k < 3; k++ {
				time.Sleep(5 * time.Millisecond)
				m.Status = Processed
				m.ErrorDetails = ""
				_, err = repo.Save(ctx, m)
				require.NoError(t, err)
			}

			n, err := repo.Count(ctx, Filter{})
			require.NoError(t, err)
			require.Equal(t, int64(1), n)

			got, err := repo.GetByID(ctx, "m1")
			require.NoError(t, err)
			require.Equal(t, Processed, got.Status)
			require.WithinDuration(t, created, got.CreatedAt, time.Second)
			require.True(t, !got.UpdatedAt.Before(got.CreatedAt))
		})
	}
}

func TestQueryOrderAndPagination(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()
			var base = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

			for i := 0; i < 10; i++ {
				var status = Processed
				if i%2 == 1 {
					status = Failed
				}
				var _, err = repo.Save(ctx, record(
					fmt.Sprintf("m%02d", i), status, base.Add(time.Duration(i)*time.Hour)))
				require.NoError(t, err)
			}

			// Newest first.
			out, err := repo.Query(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, out, 10)
			require.Equal(t, "m09", out[0].ID)
			require.Equal(t, "m00", out[9].ID)

			// Pagination.
			out, err = repo.Query(ctx, Filter{Skip: 2, Take: 3})
			require.NoError(t, err)
			require.Len(t, out, 3)
			require.Equal(t, "m07", out[0].ID)
			require.Equal(t, "m05", out[2].ID)

			// Status filter.
			out, err = repo.Query(ctx, Filter{Status: Failed})
			require.NoError(t, err)
			require.Len(t, out, 5)

			// Date window.
			out, err = repo.Query(ctx, Filter{
				FromDate: base.Add(3 * time.Hour),
				ToDate:   base.Add(5 * time.Hour),
			})
			require.NoError(t, err)
			require.Len(t, out, 3)

			n, err := repo.Count(ctx, Filter{Status: Processed})
			require.NoError(t, err)
			require.Equal(t, int64(5), n)
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()
			var _, err = repo.Save(ctx, record("m1", Processing, time.Now().UTC()))
			require.NoError(t, err)

			require.NoError(t, repo.UpdateStatus(ctx, "m1", DeadLetter))
			got, err := repo.GetByID(ctx, "m1")
			require.NoError(t, err)
			require.Equal(t, DeadLetter, got.Status)

			require.ErrorIs(t, repo.UpdateStatus(ctx, "absent", Failed), ErrNotFound)
			require.Error(t, repo.UpdateStatus(ctx, "m1", Status("Bogus")))
		})
	}
}

func TestGetByReference(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()
			var _, err = repo.Save(ctx, record("m1", Processed, time.Now().UTC()))
			require.NoError(t, err)

			out, err := repo.GetByReference(ctx, "REF-m1")
			require.NoError(t, err)
			require.Len(t, out, 1)
			require.Equal(t, "m1", out[0].ID)

			out, err = repo.GetByReference(ctx, "REF-none")
			require.NoError(t, err)
			require.Empty(t, out)
		})
	}
}
