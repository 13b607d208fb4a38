package swift

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderRoundTrip(t *testing.T) {
	var payloads = []string{
		happyPayload,
		"{1:F01BANKBEBBAXXX0000000000}{2:I103BANKDEFFXXXXN}{4:\n" +
			":20:ROUNDTRIP2\n" +
			":23B:SPRI\n" +
			":32A:250601USD250000,50\n" +
			":33B:GBP200000,00\n" +
			":50A:/555\nCHASUS33\n" +
			":52A:DEUTDEFF\n" +
			":53B:/998877\n" +
			":56A:BARCGB22\n" +
			":57D:SOME BANK\nHIGH STREET\n" +
			":59A:/777\nBNPAFRPP\n" +
			":70:PAYMENT FOR SERVICES\nINVOICE 42\n" +
			":71A:OUR\n" +
			":71F:USD10,00\n" +
			":71G:USD25,00\n" +
			":72:/ACC/TREASURY\n" +
			"-}",
	}

	for _, payload := range payloads {
		var f, err = Frame(payload)
		require.NoError(t, err)
		msg, err := DecodeMT103(f)
		require.NoError(t, err)

		var rendered = Render(msg, Headers{
			SenderBIC:      "BANKBEBBAXXX",
			ReceiverBIC:    "BANKDEFFXXXX",
			SessionNumber:  "0000",
			SequenceNumber: "000000",
		})
		f2, err := Frame(rendered)
		require.NoError(t, err)

		// SWIFT equivalence: the same (tag, option, value) triples in order.
		require.Equal(t, f.Fields, f2.Fields)
		require.Equal(t, f.Header1, f2.Header1)
	}
}

func TestRenderDefaultHeaders(t *testing.T) {
	var f, err = Frame(happyPayload)
	require.NoError(t, err)
	msg, err := DecodeMT103(f)
	require.NoError(t, err)

	var f2, err2 = Frame(Render(msg, Headers{}))
	require.NoError(t, err2)
	require.Equal(t, "103", f2.MessageType())
	require.Contains(t, f2.Header1, DefaultHeaders.SenderBIC)
}
