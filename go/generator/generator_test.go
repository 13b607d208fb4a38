package generator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finwire/mtflow/go/queue"
	"github.com/finwire/mtflow/go/swift"
	"github.com/finwire/mtflow/go/validate"
)

func TestValidTrafficDecodesAndValidates(t *testing.T) {
	var g = New(Config{ValidPercent: 100}, queue.NewMemory(), 42)
	var v = validate.New()

	for i := 0; i < 50; i++ {
		payload, defect := g.Next()
		require.Equal(t, DefectNone, defect)

		framed, err := swift.Frame(payload)
		require.NoError(t, err, payload)
		msg, err := swift.DecodeMT103(framed)
		require.NoError(t, err, payload)
		require.True(t, v.Validate(msg).OK(), payload)
		require.True(t, msg.Amount.IsPositive())
	}
}

func TestDefectiveTrafficFailsDownstream(t *testing.T) {
	var g = New(Config{ValidPercent: 0}, queue.NewMemory(), 7)
	var v = validate.New()
	var seen = map[Defect]bool{}

	for i := 0; i < 200; i++ {
		payload, defect := g.Next()
		require.NotEqual(t, DefectNone, defect)
		seen[defect] = true

		// Every defect must surface as either a decoding error or a
		// validation violation.
		var framed, err = swift.Frame(payload)
		require.NoError(t, err)
		msg, err := swift.DecodeMT103(framed)
		if err != nil {
			continue
		}
		require.False(t, v.Validate(msg).OK(), "defect %s slipped through: %s", defect, payload)
	}

	// With 200 draws every variant shows up.
	for _, d := range defects {
		require.True(t, seen[d], "defect %s never generated", d)
	}
}

func TestValidPercentageSplit(t *testing.T) {
	var g = New(Config{ValidPercent: 50}, queue.NewMemory(), 11)
	var valid int
	for i := 0; i < 400; i++ {
		if _, defect := g.Next(); defect == DefectNone {
			valid++
		}
	}
	require.InDelta(t, 200, valid, 60)
}

func TestRunEmitsOnCadenceAndStops(t *testing.T) {
	var q = queue.NewMemory()
	var g = New(Config{
		Cadence:      5 * time.Millisecond,
		BatchSize:    3,
		ValidPercent: 100,
	}, q, 1)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() {
		require.NoError(t, g.Run(ctx))
		close(done)
	}()

	var deadline = time.Now().Add(5 * time.Second)
	for q.Len(queue.DefaultNames().Input) < 6 {
		require.False(t, time.Now().After(deadline), "generator produced nothing")
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestReferencesAreUnique(t *testing.T) {
	var g = New(Config{ValidPercent: 100}, queue.NewMemory(), 3)
	var seen = map[string]bool{}
	for i := 0; i < 100; i++ {
		payload, _ := g.Next()
		framed, err := swift.Frame(payload)
		require.NoError(t, err)
		msg, err := swift.DecodeMT103(framed)
		require.NoError(t, err)
		require.False(t, seen[msg.TransactionReference])
		seen[msg.TransactionReference] = true
	}
}
