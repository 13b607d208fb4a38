package swift

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const happyPayload = "{1:F01BANKBEBBAXXX0000000000}{2:I103BANKDEFFXXXXN}{4:\n" +
	":20:REF1\n" +
	":23B:CRED\n" +
	":32A:241215EUR1000,00\n" +
	":50K:/12345678\nALICE\n1 MAIN ST\n" +
	":59:/87654321\nBOB\n2 OAK AVE\n" +
	":71A:SHA\n" +
	"-}"

func TestFrameHappyPath(t *testing.T) {
	var f, err = Frame(happyPayload)
	require.NoError(t, err)

	require.Equal(t, "F01BANKBEBBAXXX0000000000", f.Header1)
	require.Equal(t, "I103BANKDEFFXXXXN", f.Header2)
	require.Equal(t, "103", f.MessageType())

	require.Equal(t, []Field{
		{Tag: "20", Value: "REF1"},
		{Tag: "23", Option: "B", Value: "CRED"},
		{Tag: "32", Option: "A", Value: "241215EUR1000,00"},
		{Tag: "50", Option: "K", Value: "/12345678\nALICE\n1 MAIN ST"},
		{Tag: "59", Value: "/87654321\nBOB\n2 OAK AVE"},
		{Tag: "71", Option: "A", Value: "SHA"},
	}, f.Fields)
}

func TestFrameCRLFNormalization(t *testing.T) {
	var payload = "{4:\r\n:20:REF2\r\n:23B:CRED\r\n:32A:241215EUR5,00\r\n:50K:A\r\n:59:B\r\n-}"
	var f, err = Frame(payload)
	require.NoError(t, err)
	require.Equal(t, "REF2", f.Fields[0].Value)
	require.Equal(t, "103", f.MessageType()) // No block 2: defaults.
}

func TestFrameValueWithEmbeddedColon(t *testing.T) {
	var payload = "{4:\n:20:REF\n:70:INVOICE 1:2024\nSECOND LINE\n-}"
	var f, err = Frame(payload)
	require.NoError(t, err)

	var fld, ok = f.Get("70")
	require.True(t, ok)
	require.Equal(t, "INVOICE 1:2024\nSECOND LINE", fld.Value)
}

func TestFrameErrors(t *testing.T) {
	var cases = []struct {
		name  string
		raw   string
		cause FramingCause
	}{
		{"empty payload", "", MissingBlock4},
		{"headers only", "{1:F01BANKBEBBAXXX0000000000}{2:I103BANKDEFFXXXXN}", MissingBlock4},
		{"missing trailer", "{4:\n:20:REF1\n:59:B}", UnterminatedBlock4},
		{"eof mid block", "{4:\n:20:REF1\n:59:B", UnterminatedBlock4},
		{"bad tag line", "{4:\n:2X:REF1\n-}", MalformedTagLine},
		{"content before first tag", "{4:\nstray text\n:20:REF1\n-}", MalformedTagLine},
		{"no fields", "{4:\n-}", MissingBlock4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = Frame(tc.raw)
			require.Error(t, err)

			var fe *FramingError
			require.ErrorAs(t, err, &fe)
			require.Equal(t, tc.cause, fe.Cause)
		})
	}
}
