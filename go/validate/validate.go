// Package validate enforces SWIFT syntactic rules over a decoded MT103.
// All violations are collected rather than short-circuited, so callers can
// surface a single batch error message.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finwire/mtflow/go/swift"
)

// Violation is a single syntactic rule failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Report collects the violations of one validation pass.
// An empty report is success.
type Report struct {
	Violations []Violation `json:"violations"`
}

// OK reports whether validation passed.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Error renders all violations as one message, or "" when the report is clean.
func (r Report) Error() string {
	if r.OK() {
		return ""
	}
	var parts = make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return strings.Join(parts, "; ")
}

func (r *Report) add(field, format string, args ...interface{}) {
	r.Violations = append(r.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	referenceRe = regexp.MustCompile(`^[A-Z0-9/\-?:().,'+\s]{1,16}$`)
	bicRe       = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	currencyRe  = regexp.MustCompile(`^[A-Za-z]{3}$`)

	maxAmount = decimal.RequireFromString("999999999999.99")
)

// DateWindow is how far a value date may lie from today in either direction.
const DateWindow = 365 * 24 * time.Hour

// Bank operation codes accepted in field 23B.
var operationCodes = map[string]bool{
	"CRED": true, "CRTS": true, "SPAY": true, "SPRI": true, "SSTD": true,
}

// Charge bearers accepted in field 71A.
var chargeBearers = map[string]bool{"BEN": true, "OUR": true, "SHA": true}

// Validator checks decoded MT103 messages against SWIFT syntax rules.
// Now is injectable for tests and defaults to time.Now.
type Validator struct {
	Now func() time.Time
}

// New returns a Validator using the wall clock.
func New() *Validator { return &Validator{Now: time.Now} }

// Validate runs every syntactic check and returns the collected report.
func (v *Validator) Validate(m *swift.MT103Message) Report {
	var r Report

	v.checkReference(&r, m.TransactionReference)
	v.checkOperationCode(&r, m.BankOperationCode)
	v.checkCurrency(&r, "32A", m.Currency)
	v.checkValueDate(&r, m.ValueDate)
	v.checkAmount(&r, "32A", m.Amount)

	if m.OriginalAmount != nil {
		v.checkCurrency(&r, "33B", m.OriginalCurrency)
		v.checkAmount(&r, "33B", *m.OriginalAmount)
	}

	v.checkParty(&r, "50", m.OrderingCustomer)
	v.checkParty(&r, "59", m.BeneficiaryCustomer)

	v.checkInstitutionBIC(&r, "52", m.OrderingInstitution)
	v.checkInstitutionBIC(&r, "53", m.SendersCorrespondent)
	v.checkInstitutionBIC(&r, "54", m.ReceiversCorrespondent)
	v.checkInstitutionBIC(&r, "56", m.IntermediaryInstitution)
	v.checkInstitutionBIC(&r, "57", m.AccountWithInstitution)

	v.checkLines(&r, "70", m.RemittanceInformation, 4, 35)
	v.checkLines(&r, "72", m.SenderToReceiverInfo, 6, 35)
	v.checkCharset(&r, "70", m.RemittanceInformation)
	v.checkCharset(&r, "72", m.SenderToReceiverInfo)

	v.checkCharges(&r, m.ChargeDetails)

	return r
}

func (v *Validator) checkReference(r *Report, ref string) {
	if !referenceRe.MatchString(strings.ToUpper(ref)) {
		r.add("20", "transaction reference %q must be 1-16 SWIFT X characters", ref)
	}
}

func (v *Validator) checkOperationCode(r *Report, code string) {
	if !operationCodes[code] {
		r.add("23B", "bank operation code %q is not one of CRED/CRTS/SPAY/SPRI/SSTD", code)
	}
}

func (v *Validator) checkCurrency(r *Report, field, ccy string) {
	if !currencyRe.MatchString(ccy) {
		r.add(field, "currency %q must be exactly 3 letters", ccy)
		return
	}
	if !swift.ValidCurrency(strings.ToUpper(ccy)) {
		r.add(field, "currency %q is not an ISO 4217 code", ccy)
	}
}

func (v *Validator) checkValueDate(r *Report, d time.Time) {
	if d.IsZero() {
		r.add("32A", "value date is absent")
		return
	}
	var now = v.Now()
	if d.Before(now.Add(-DateWindow)) || d.After(now.Add(DateWindow)) {
		r.add("32A", "value date %s is outside the +/-365 day window", d.Format("2006-01-02"))
	}
}

func (v *Validator) checkAmount(r *Report, field string, amt decimal.Decimal) {
	if amt.Sign() <= 0 {
		r.add(field, "amount %s must be positive", amt)
	}
	if amt.GreaterThan(maxAmount) {
		r.add(field, "amount %s exceeds the maximum of 999999999999.99", amt)
	}
	if amt.Exponent() < -2 {
		r.add(field, "amount %s has more than 2 fractional digits", amt)
	}
}

func (v *Validator) checkParty(r *Report, field string, p swift.Party) {
	v.checkCharset(r, field, p.Name)
	v.checkCharset(r, field, p.Address)
	v.checkLines(r, field, p.Name, 4, 35)
	v.checkLines(r, field, p.Address, 3, 35)

	switch p.Kind {
	case swift.PartyWithBIC:
		if !bicRe.MatchString(p.BIC) {
			r.add(field, "BIC %q is not a valid 8 or 11 character BIC", p.BIC)
		}
		if len(p.Address) > 0 {
			r.add(field, "BIC-identified party must not carry address lines")
		}
	case swift.PartyNameAddress:
		if len(joinedNonEmpty(p.Name)) == 0 {
			r.add(field, "party name is absent")
		}
		if len(joinedNonEmpty(p.Address)) == 0 {
			r.add(field, "name-and-address party must carry address lines")
		}
	default:
		r.add(field, "party variant is undetermined")
	}
}

func (v *Validator) checkInstitutionBIC(r *Report, field string, inst swift.Institution) {
	if inst.BIC != "" && !bicRe.MatchString(inst.BIC) {
		r.add(field, "BIC %q is not a valid 8 or 11 character BIC", inst.BIC)
	}
}

func (v *Validator) checkLines(r *Report, field string, lines []string, maxLines, maxLen int) {
	if len(lines) > maxLines {
		r.add(field, "has %d lines, at most %d allowed", len(lines), maxLines)
	}
	for _, line := range lines {
		if len(line) > maxLen {
			r.add(field, "line %q exceeds %d characters", line, maxLen)
		}
	}
}

// checkCharset enforces the SWIFT X character set: printable ASCII,
// 0x20 through 0x7E, with newline permitted only as the line separator
// (lines arrive pre-split).
func (v *Validator) checkCharset(r *Report, field string, lines []string) {
	for _, line := range lines {
		for _, c := range line {
			if c < 0x20 || c > 0x7E {
				r.add(field, "line %q contains a character outside the SWIFT X set", line)
				break
			}
		}
	}
}

func (v *Validator) checkCharges(r *Report, cd swift.ChargeDetails) {
	if cd.Bearer != "" && !chargeBearers[cd.Bearer] {
		r.add("71A", "charge bearer %q is not one of BEN/OUR/SHA", cd.Bearer)
	}
	if cd.Amount != nil {
		if cd.Currency == "" {
			r.add("71G", "charge amount requires a charge currency")
		} else {
			v.checkCurrency(r, "71G", cd.Currency)
		}
	}
}

func joinedNonEmpty(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, ""))
}
