package ipcfiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPlane(t *testing.T) *Plane {
	var p, err = New(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestStatusRoundTrip(t *testing.T) {
	var p = newPlane(t)

	var _, err = p.ReadStatus()
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, p.WriteStatus(ProcessStatus{
		IsRunning:         true,
		Status:            "Running",
		MessagesProcessed: 7,
	}))

	s, err := p.ReadStatus()
	require.NoError(t, err)
	require.True(t, s.IsRunning)
	require.Equal(t, "Running", s.Status)
	require.Equal(t, int64(7), s.MessagesProcessed)
	require.False(t, s.StatusUpdatedAt.IsZero())

	// No temp siblings left behind.
	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStatusUpdatedAtIsMonotone(t *testing.T) {
	var p = newPlane(t)

	var prev time.Time
	for i := 0; i < 10; i++ {
		require.NoError(t, p.WriteStatus(ProcessStatus{Status: "Running"}))
		s, err := p.ReadStatus()
		require.NoError(t, err)
		require.False(t, s.StatusUpdatedAt.Before(prev))
		prev = s.StatusUpdatedAt
	}
}

func TestHealthyFreshness(t *testing.T) {
	var p = newPlane(t)
	require.False(t, p.Healthy(time.Second)) // Nothing published.

	require.NoError(t, p.WriteStatus(ProcessStatus{Status: "Running"}))
	require.True(t, p.Healthy(5*time.Second))

	// A status older than 3 intervals is stale. Rewrite the file with a
	// past timestamp to simulate a dead processor.
	var stale = ProcessStatus{Status: "Running",
		StatusUpdatedAt: time.Now().Add(-time.Minute)}
	var raw, _ = json.Marshal(stale)
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "status.json"), raw, 0o644))
	require.False(t, p.Healthy(time.Second))
}

func TestCommandAtMostOnce(t *testing.T) {
	var p = newPlane(t)

	// Nothing pending.
	env, err := p.PollCommand()
	require.NoError(t, err)
	require.Nil(t, env)

	require.NoError(t, p.WriteCommand(CmdRestart))

	env, err = p.PollCommand()
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, CmdRestart, env.Command)

	// Consumed: the second poll sees nothing.
	env, err = p.PollCommand()
	require.NoError(t, err)
	require.Nil(t, env)

	// The processed sibling remains for diagnostics.
	var _, statErr = os.Stat(filepath.Join(p.Dir(), "command.json.processed"))
	require.NoError(t, statErr)
}

func TestCommandOverwrite(t *testing.T) {
	var p = newPlane(t)
	require.NoError(t, p.WriteCommand(CmdStop))
	require.NoError(t, p.WriteCommand(CmdStart)) // Replaces the pending command.

	env, err := p.PollCommand()
	require.NoError(t, err)
	require.Equal(t, CmdStart, env.Command)
}

func TestUnknownCommandDiscarded(t *testing.T) {
	var p = newPlane(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "command.json"),
		[]byte(`{"command":"SelfDestruct"}`), 0o644))

	env, err := p.PollCommand()
	require.NoError(t, err)
	require.Nil(t, env)
}
