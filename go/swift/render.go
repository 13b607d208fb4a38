package swift

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Headers parameterize the synthesized block 1/2 headers of a rendered
// message. Both BICs are 12-character logical terminal addresses.
type Headers struct {
	SenderBIC      string
	ReceiverBIC    string
	SessionNumber  string
	SequenceNumber string
}

// DefaultHeaders are used when the caller doesn't supply its own.
var DefaultHeaders = Headers{
	SenderBIC:      "MTFWGB20AXXX",
	ReceiverBIC:    "MTFWDE33XXXX",
	SessionNumber:  "0000",
	SequenceNumber: "000000",
}

// Render emits the on-wire SWIFT text of an MT103: block 1, block 2, and
// block 4 terminated by the -} trailer. Framing the result yields the same
// ordered (tag, option, value) triples this message decodes from.
func Render(m *MT103Message, hdr Headers) string {
	if hdr.SenderBIC == "" {
		hdr = DefaultHeaders
	}

	var b strings.Builder
	b.WriteString("{1:F01" + hdr.SenderBIC + hdr.SessionNumber + hdr.SequenceNumber + "}")
	b.WriteString("{2:I103" + hdr.ReceiverBIC + "N}")
	b.WriteString("{4:\n")

	var field = func(tag, value string) {
		if value == "" {
			return
		}
		b.WriteString(":" + tag + ":" + value + "\n")
	}

	field("20", m.TransactionReference)
	field("23B", m.BankOperationCode)
	if !m.ValueDate.IsZero() {
		field("32A", FormatDate(m.ValueDate)+m.Currency+FormatAmount(m.Amount))
	}
	if m.OriginalAmount != nil {
		field("33B", m.OriginalCurrency+FormatAmount(*m.OriginalAmount))
	}
	field("50"+partyOption(m.OrderingCustomer, "K"), renderParty(m.OrderingCustomer))
	field("52"+m.OrderingInstitution.Option, renderInstitution(m.OrderingInstitution))
	field("53"+m.SendersCorrespondent.Option, renderInstitution(m.SendersCorrespondent))
	field("54"+m.ReceiversCorrespondent.Option, renderInstitution(m.ReceiversCorrespondent))
	field("56"+m.IntermediaryInstitution.Option, renderInstitution(m.IntermediaryInstitution))
	field("57"+m.AccountWithInstitution.Option, renderInstitution(m.AccountWithInstitution))
	field("59"+partyOption(m.BeneficiaryCustomer, ""), renderParty(m.BeneficiaryCustomer))
	field("70", strings.Join(m.RemittanceInformation, "\n"))
	field("71A", m.ChargeDetails.Bearer)
	field("71F", m.SendersCharges)
	field("71G", m.ReceiversCharges)
	field("72", strings.Join(m.SenderToReceiverInfo, "\n"))

	for _, extra := range m.Extra {
		field(extra.FullTag(), extra.Value)
	}

	b.WriteString("-}")
	return b.String()
}

// FormatAmount renders a decimal in the SWIFT 12,2 comma form.
func FormatAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// FormatDate renders a date as YYMMDD.
func FormatDate(t time.Time) string {
	return t.Format("060102")
}

func partyOption(p Party, fallback string) string {
	if p.Option != "" {
		return p.Option
	}
	if p.Kind == PartyWithBIC {
		return "A"
	}
	return fallback
}

func renderParty(p Party) string {
	var lines []string
	if p.Account != "" {
		lines = append(lines, "/"+p.Account)
	}
	if p.Kind == PartyWithBIC {
		lines = append(lines, p.BIC)
		lines = append(lines, p.Name...)
	} else {
		lines = append(lines, p.Name...)
		lines = append(lines, p.Address...)
	}
	return strings.Join(lines, "\n")
}

func renderInstitution(i Institution) string {
	switch {
	case i.BIC != "":
		return i.BIC
	case i.Account != "":
		return "/" + i.Account
	default:
		return strings.Join(i.NameAddress, "\n")
	}
}
