package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryFIFO(t *testing.T) {
	var ctx = context.Background()
	var m = NewMemory()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Send(ctx, "input", []byte(fmt.Sprintf("msg-%d", i))))
	}
	for i := 0; i < 5; i++ {
		payload, ok, err := m.Receive(ctx, "input")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("msg-%d", i), string(payload))
	}

	var _, ok, err = m.Receive(ctx, "input")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryQueuesAreIndependent(t *testing.T) {
	var ctx = context.Background()
	var m = NewMemory()

	require.NoError(t, m.Send(ctx, "a", []byte("one")))
	var _, ok, _ = m.Receive(ctx, "b")
	require.False(t, ok)
	require.Equal(t, 1, m.Len("a"))
}

func TestMemoryStats(t *testing.T) {
	var ctx = context.Background()
	var m = NewMemory()

	require.NoError(t, m.Send(ctx, "input", []byte("x")))
	require.NoError(t, m.Send(ctx, "input", []byte("y")))

	s, err := m.Stats(ctx, "input")
	require.NoError(t, err)
	require.Equal(t, int64(2), s.MessagesInQueue)
	require.False(t, s.LastUpdated.IsZero())

	_, _, _ = m.Receive(ctx, "input")
	s, _ = m.Stats(ctx, "input")
	require.Equal(t, int64(1), s.MessagesInQueue)
	require.Equal(t, int64(1), s.MessagesProcessed)
}

func TestMemoryExactlyOnceUnderConcurrency(t *testing.T) {
	var ctx = context.Background()
	var m = NewMemory()
	const total = 200

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < total/4; i++ {
				_ = m.Send(ctx, "input", []byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	var seen = map[string]bool{}
	var mu sync.Mutex
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				payload, ok, err := m.Receive(ctx, "input")
				require.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				require.False(t, seen[string(payload)], "duplicate delivery")
				seen[string(payload)] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, total)
}

func TestMemoryHealth(t *testing.T) {
	require.True(t, NewMemory().Health(context.Background()))
}
