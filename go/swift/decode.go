package swift

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecodeReason classifies decoding failures.
type DecodeReason string

const (
	MissingTag        DecodeReason = "MissingTag"
	UnsupportedOption DecodeReason = "UnsupportedOption"
	UnsupportedType   DecodeReason = "UnsupportedType"
	BadFormat         DecodeReason = "BadFormat"
)

// DecodingError reports a failure to map framed fields to a typed message.
type DecodingError struct {
	Reason DecodeReason
	Tag    string
	Detail string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding error (%s) on field %s: %s", e.Reason, e.Tag, e.Detail)
}

func init() {
	RegisterDecoder("103", func(f *FramedMessage) (Message, error) {
		return DecodeMT103(f)
	})
}

// Amounts use the SWIFT canonical comma decimal separator. Thousand
// separators and a period separator are rejected.
var amountRe = regexp.MustCompile(`^-?\d+(,\d*)?$`)

// ParseAmount converts a SWIFT decimal literal to a decimal value.
// Negative values are accepted here; bounds are the validator's concern.
func ParseAmount(s string) (decimal.Decimal, error) {
	if !amountRe.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("amount %q is not a SWIFT decimal (comma separator)", s)
	}
	// A trailing comma with no fraction digits is canonical SWIFT ("1000,").
	var normalized = strings.TrimSuffix(strings.Replace(s, ",", ".", 1), ".")
	return decimal.NewFromString(normalized)
}

// ParseDate converts a YYMMDD literal to a calendar date. The two-digit
// year is pinned to [2000..2099].
func ParseDate(s string) (time.Time, error) {
	if len(s) != 6 {
		return time.Time{}, fmt.Errorf("date %q is not YYMMDD", s)
	}
	var yy, mm, dd int
	if _, err := fmt.Sscanf(s, "%2d%2d%2d", &yy, &mm, &dd); err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYMMDD: %w", s, err)
	}
	var t = time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range components; reject if it did.
	if t.Year() != 2000+yy || t.Month() != time.Month(mm) || t.Day() != dd {
		return time.Time{}, fmt.Errorf("date %q is not a calendar date", s)
	}
	return t, nil
}

// DecodeMT103 maps framed block-4 fields to a typed MT103 message.
func DecodeMT103(f *FramedMessage) (*MT103Message, error) {
	var msg = new(MT103Message)
	var seen = map[string]bool{}

	for _, fld := range f.Fields {
		seen[fld.Tag] = true

		switch fld.Tag {
		case "20":
			msg.TransactionReference = strings.TrimSpace(fld.Value)

		case "23B":
			msg.BankOperationCode = strings.ToUpper(strings.TrimSpace(fld.Value))

		case "32A":
			date, ccy, amt, err := decodeDateCurrencyAmount(fld.Value)
			if err != nil {
				return nil, &DecodingError{Reason: BadFormat, Tag: fld.FullTag(), Detail: err.Error()}
			}
			msg.ValueDate, msg.Currency, msg.Amount = date, ccy, amt

		case "33B":
			if len(fld.Value) < 4 {
				return nil, &DecodingError{Reason: BadFormat, Tag: fld.FullTag(),
					Detail: "expected currency and amount"}
			}
			amt, err := ParseAmount(fld.Value[3:])
			if err != nil {
				return nil, &DecodingError{Reason: BadFormat, Tag: fld.FullTag(), Detail: err.Error()}
			}
			msg.OriginalCurrency = fld.Value[:3]
			msg.OriginalAmount = &amt

		case "50":
			party, err := decodeParty(fld)
			if err != nil {
				return nil, err
			}
			msg.OrderingCustomer = party

		case "59":
			party, err := decodeParty(fld)
			if err != nil {
				return nil, err
			}
			msg.BeneficiaryCustomer = party

		case "52":
			inst, err := decodeInstitution(fld, "A")
			if err != nil {
				return nil, err
			}
			msg.OrderingInstitution = inst

		case "53":
			inst, err := decodeInstitution(fld, "AB")
			if err != nil {
				return nil, err
			}
			msg.SendersCorrespondent = inst

		case "54":
			inst, err := decodeInstitution(fld, "AB")
			if err != nil {
				return nil, err
			}
			msg.ReceiversCorrespondent = inst

		case "56":
			inst, err := decodeInstitution(fld, "ACD")
			if err != nil {
				return nil, err
			}
			msg.IntermediaryInstitution = inst

		case "57":
			inst, err := decodeInstitution(fld, "ABCD")
			if err != nil {
				return nil, err
			}
			msg.AccountWithInstitution = inst

		case "70":
			msg.RemittanceInformation = strings.Split(fld.Value, "\n")

		case "71A":
			msg.ChargeDetails.Bearer = strings.ToUpper(strings.TrimSpace(fld.Value))

		case "71F":
			msg.SendersCharges = fld.Value

		case "71G":
			msg.ReceiversCharges = fld.Value
			if len(fld.Value) > 3 {
				if amt, err := ParseAmount(fld.Value[3:]); err == nil {
					msg.ChargeDetails.Currency = fld.Value[:3]
					msg.ChargeDetails.Amount = &amt
				}
			}

		case "72":
			msg.SenderToReceiverInfo = strings.Split(fld.Value, "\n")

		default:
			msg.Extra = append(msg.Extra, fld)
		}
	}

	for _, required := range []string{"20", "23B", "32A", "50", "59"} {
		if !seen[required] {
			return nil, &DecodingError{Reason: MissingTag, Tag: required,
				Detail: fmt.Sprintf("mandatory field %s is absent", required)}
		}
	}
	return msg, nil
}

func decodeDateCurrencyAmount(v string) (time.Time, string, decimal.Decimal, error) {
	if len(v) < 10 {
		return time.Time{}, "", decimal.Decimal{}, fmt.Errorf("value %q is too short for date, currency and amount", v)
	}
	date, err := ParseDate(v[:6])
	if err != nil {
		return time.Time{}, "", decimal.Decimal{}, err
	}
	amt, err := ParseAmount(v[9:])
	if err != nil {
		return time.Time{}, "", decimal.Decimal{}, err
	}
	return date, v[6:9], amt, nil
}

// decodeParty maps fields 50A/50K and 59/59A onto the Party variant.
// Option A identifies the party by BIC; option K and the bare field give
// name and address lines. An optional leading /account line applies to both.
func decodeParty(fld Field) (Party, error) {
	var lines = strings.Split(fld.Value, "\n")
	var party = Party{Option: fld.Option}

	if len(lines) > 0 && strings.HasPrefix(lines[0], "/") {
		party.Account = strings.TrimPrefix(lines[0], "/")
		lines = lines[1:]
	}

	switch fld.Option {
	case "A":
		party.Kind = PartyWithBIC
		if len(lines) == 0 {
			return Party{}, &DecodingError{Reason: BadFormat, Tag: fld.FullTag(),
				Detail: "party has no BIC line"}
		}
		party.BIC = strings.TrimSpace(lines[0])
		if len(lines) > 1 {
			party.Name = lines[1:]
		}
	case "", "K":
		party.Kind = PartyNameAddress
		if len(lines) == 0 {
			return Party{}, &DecodingError{Reason: BadFormat, Tag: fld.FullTag(),
				Detail: "party has no name line"}
		}
		party.Name = lines[:1]
		if len(lines) > 1 {
			party.Address = lines[1:]
		}
	default:
		return Party{}, &DecodingError{Reason: UnsupportedOption, Tag: fld.FullTag(),
			Detail: fmt.Sprintf("option %s is not supported for field %s", fld.Option, fld.Tag)}
	}
	return party, nil
}

// decodeInstitution maps institution fields by option letter:
// A carries a BIC, B and C an account or location, D name and address lines.
func decodeInstitution(fld Field, allowed string) (Institution, error) {
	if fld.Option == "" || !strings.Contains(allowed, fld.Option) {
		return Institution{}, &DecodingError{Reason: UnsupportedOption, Tag: fld.FullTag(),
			Detail: fmt.Sprintf("option %q is not supported for field %s", fld.Option, fld.Tag)}
	}
	switch fld.Option {
	case "A":
		return Institution{Option: "A", BIC: strings.TrimSpace(fld.Value)}, nil
	case "B", "C":
		return Institution{Option: fld.Option,
			Account: strings.TrimPrefix(strings.TrimSpace(fld.Value), "/")}, nil
	default: // "D"
		return Institution{Option: "D", NameAddress: strings.Split(fld.Value, "\n")}, nil
	}
}
