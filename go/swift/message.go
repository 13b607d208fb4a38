// Package swift models SWIFT MT messages and implements framing, decoding,
// and rendering of their on-wire block format.
package swift

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Message is implemented by each parsed MT message type. New MT types
// register a decoder with RegisterDecoder and add an implementation here;
// framing and pipeline code dispatch by the type string and are unchanged.
type Message interface {
	// Type is the MT type label, e.g. "MT103".
	Type() string
	// Reference is the transaction reference of field 20.
	Reference() string
}

// DecodeFunc maps a framed message to its typed form.
type DecodeFunc func(*FramedMessage) (Message, error)

var decoders = map[string]DecodeFunc{}

// RegisterDecoder installs a decoder for the given numeric MT type ("103").
func RegisterDecoder(mt string, fn DecodeFunc) {
	if _, ok := decoders[mt]; ok {
		panic(fmt.Sprintf("duplicate decoder registration for MT%s", mt))
	}
	decoders[mt] = fn
}

// Decode dispatches a framed message to the decoder registered for its type.
func Decode(f *FramedMessage) (Message, error) {
	var mt = f.MessageType()
	var fn, ok = decoders[mt]
	if !ok {
		return nil, &DecodingError{Reason: UnsupportedType, Tag: mt,
			Detail: fmt.Sprintf("no decoder registered for MT%s", mt)}
	}
	return fn(f)
}

// PartyKind discriminates the two shapes a customer party may take.
type PartyKind string

const (
	// PartyWithBIC identifies the party by BIC (options A).
	PartyWithBIC PartyKind = "withBIC"
	// PartyNameAddress identifies the party by name and address lines
	// (option K and the bare 59 field).
	PartyNameAddress PartyKind = "nameAddress"
)

// Party is a customer party of an MT103: either BIC-identified or given as
// name and address lines. The variant is fixed at decode time.
type Party struct {
	Kind    PartyKind `json:"kind"`
	Account string    `json:"account,omitempty"`
	BIC     string    `json:"bic,omitempty"`
	Name    []string  `json:"name,omitempty"`
	Address []string  `json:"address,omitempty"`
	// Option is the decoded field option letter, kept so rendering
	// reproduces the original wire form.
	Option string `json:"option,omitempty"`
}

// Institution is a financial institution reference carried by fields
// 52/53/54/56/57. Exactly one of BIC, Account, or NameAddress is set,
// according to the field's option letter.
type Institution struct {
	BIC         string   `json:"bic,omitempty"`
	Account     string   `json:"account,omitempty"`
	NameAddress []string `json:"nameAddress,omitempty"`
	Option      string   `json:"option,omitempty"`
}

// IsZero reports whether the institution reference is absent.
func (i Institution) IsZero() bool {
	return i.BIC == "" && i.Account == "" && len(i.NameAddress) == 0
}

// ChargeDetails carries field 71A plus the optional charge amount pair
// decoded from field 71G.
type ChargeDetails struct {
	Bearer   string           `json:"bearer,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// MT103Message is a parsed Single Customer Credit Transfer.
type MT103Message struct {
	TransactionReference string          `json:"transactionReference"`
	BankOperationCode    string          `json:"bankOperationCode"`
	ValueDate            time.Time       `json:"valueDate"`
	Currency             string          `json:"currency"`
	Amount               decimal.Decimal `json:"amount"`

	OriginalCurrency string           `json:"originalCurrency,omitempty"`
	OriginalAmount   *decimal.Decimal `json:"originalAmount,omitempty"`

	OrderingCustomer    Party `json:"orderingCustomer"`
	BeneficiaryCustomer Party `json:"beneficiaryCustomer"`

	OrderingInstitution     Institution `json:"orderingInstitution,omitempty"`
	SendersCorrespondent    Institution `json:"sendersCorrespondent,omitempty"`
	ReceiversCorrespondent  Institution `json:"receiversCorrespondent,omitempty"`
	IntermediaryInstitution Institution `json:"intermediaryInstitution,omitempty"`
	AccountWithInstitution  Institution `json:"accountWithInstitution,omitempty"`

	RemittanceInformation []string `json:"remittanceInformation,omitempty"`
	SenderToReceiverInfo  []string `json:"senderToReceiverInfo,omitempty"`

	ChargeDetails    ChargeDetails `json:"chargeDetails,omitempty"`
	SendersCharges   string        `json:"sendersCharges,omitempty"`
	ReceiversCharges string        `json:"receiversCharges,omitempty"`

	// Extra holds block-4 fields which aren't part of MT103.
	// They're preserved in order for diagnostics.
	Extra []Field `json:"extra,omitempty"`
}

// Type implements Message.
func (m *MT103Message) Type() string { return "MT103" }

// Reference implements Message.
func (m *MT103Message) Reference() string { return m.TransactionReference }
