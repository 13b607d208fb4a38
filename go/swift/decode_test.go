package swift

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func frameAndDecode(t *testing.T, raw string) *MT103Message {
	var f, err = Frame(raw)
	require.NoError(t, err)
	msg, err := DecodeMT103(f)
	require.NoError(t, err)
	return msg
}

func TestDecodeHappyPath(t *testing.T) {
	var msg = frameAndDecode(t, happyPayload)

	require.Equal(t, "REF1", msg.TransactionReference)
	require.Equal(t, "CRED", msg.BankOperationCode)
	require.Equal(t, time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), msg.ValueDate)
	require.Equal(t, "EUR", msg.Currency)
	require.True(t, msg.Amount.Equal(decimal.RequireFromString("1000.00")))

	require.Equal(t, Party{
		Kind:    PartyNameAddress,
		Account: "12345678",
		Name:    []string{"ALICE"},
		Address: []string{"1 MAIN ST"},
		Option:  "K",
	}, msg.OrderingCustomer)

	require.Equal(t, Party{
		Kind:    PartyNameAddress,
		Account: "87654321",
		Name:    []string{"BOB"},
		Address: []string{"2 OAK AVE"},
	}, msg.BeneficiaryCustomer)

	require.Equal(t, "SHA", msg.ChargeDetails.Bearer)
}

func TestDecodeViaRegistry(t *testing.T) {
	var f, err = Frame(happyPayload)
	require.NoError(t, err)

	msg, err := Decode(f)
	require.NoError(t, err)
	require.Equal(t, "MT103", msg.Type())
	require.Equal(t, "REF1", msg.Reference())
}

func TestDecodeOptionalFields(t *testing.T) {
	var raw = "{4:\n" +
		":20:REF9\n" +
		":23B:SPAY\n" +
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
		"-}"
	var msg = frameAndDecode(t, raw)

	require.Equal(t, "GBP", msg.OriginalCurrency)
	require.True(t, msg.OriginalAmount.Equal(decimal.RequireFromString("200000.00")))

	require.Equal(t, PartyWithBIC, msg.OrderingCustomer.Kind)
	require.Equal(t, "CHASUS33", msg.OrderingCustomer.BIC)
	require.Equal(t, "555", msg.OrderingCustomer.Account)

	require.Equal(t, "DEUTDEFF", msg.OrderingInstitution.BIC)
	require.Equal(t, "998877", msg.SendersCorrespondent.Account)
	require.Equal(t, "BARCGB22", msg.IntermediaryInstitution.BIC)
	require.Equal(t, []string{"SOME BANK", "HIGH STREET"}, msg.AccountWithInstitution.NameAddress)

	require.Equal(t, PartyWithBIC, msg.BeneficiaryCustomer.Kind)
	require.Equal(t, "BNPAFRPP", msg.BeneficiaryCustomer.BIC)

	require.Equal(t, []string{"PAYMENT FOR SERVICES", "INVOICE 42"}, msg.RemittanceInformation)
	require.Equal(t, "USD10,00", msg.SendersCharges)
	require.Equal(t, "USD25,00", msg.ReceiversCharges)
	require.Equal(t, "USD", msg.ChargeDetails.Currency)
	require.True(t, msg.ChargeDetails.Amount.Equal(decimal.RequireFromString("25.00")))
	require.Equal(t, []string{"/ACC/TREASURY"}, msg.SenderToReceiverInfo)
}

func TestDecodeMissingMandatoryTag(t *testing.T) {
	var cases = []struct {
		name string
		raw  string
		tag  string
	}{
		{"no reference", "{4:\n:23B:CRED\n:32A:241215EUR1,00\n:50K:A\n:59:B\n-}", "20"},
		{"no operation code", "{4:\n:20:R\n:32A:241215EUR1,00\n:50K:A\n:59:B\n-}", "23B"},
		{"no value field", "{4:\n:20:R\n:23B:CRED\n:50K:A\n:59:B\n-}", "32A"},
		{"no ordering customer", "{4:\n:20:R\n:23B:CRED\n:32A:241215EUR1,00\n:59:B\n-}", "50"},
		{"no beneficiary", "{4:\n:20:R\n:23B:CRED\n:32A:241215EUR1,00\n:50K:A\n-}", "59"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f, err = Frame(tc.raw)
			require.NoError(t, err)
			_, err = DecodeMT103(f)

			var de *DecodingError
			require.ErrorAs(t, err, &de)
			require.Equal(t, MissingTag, de.Reason)
			require.Equal(t, tc.tag, de.Tag)
		})
	}
}

func TestDecodeUnsupportedOption(t *testing.T) {
	var raw = "{4:\n:20:R\n:23B:CRED\n:32A:241215EUR1,00\n:50F:A\n:59:B\n-}"
	var f, err = Frame(raw)
	require.NoError(t, err)
	_, err = DecodeMT103(f)

	var de *DecodingError
	require.ErrorAs(t, err, &de)
	require.Equal(t, UnsupportedOption, de.Reason)
	require.Equal(t, "50F", de.Tag)
}

func TestDecodeUnknownTagsPreserved(t *testing.T) {
	var raw = "{4:\n:20:R\n:23B:CRED\n:32A:241215EUR1,00\n:50K:A\n:59:B\n:77B:/ORDERRES/BE\n-}"
	var msg = frameAndDecode(t, raw)
	require.Equal(t, []Field{{Tag: "77", Option: "B", Value: "/ORDERRES/BE"}}, msg.Extra)
}

func TestParseDate(t *testing.T) {
	var d, err = ParseDate("000101")
	require.NoError(t, err)
	require.Equal(t, 2000, d.Year())

	d, err = ParseDate("991231")
	require.NoError(t, err)
	require.Equal(t, 2099, d.Year())

	_, err = ParseDate("240230") // Feb 30.
	require.Error(t, err)
	_, err = ParseDate("2412")
	require.Error(t, err)
	_, err = ParseDate("24AB15")
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	for in, out := range map[string]string{
		"1000,00": "1000.00",
		"1000,":   "1000",
		"0,01":    "0.01",
		"-50,00":  "-50.00",
		"7":       "7",
	} {
		var d, err = ParseAmount(in)
		require.NoError(t, err, in)
		require.True(t, d.Equal(decimal.RequireFromString(out)), in)
	}

	for _, in := range []string{"1000.00", "1,000,00", "1 000,00", "", "EUR1,00"} {
		var _, err = ParseAmount(in)
		require.Error(t, err, in)
	}
}
