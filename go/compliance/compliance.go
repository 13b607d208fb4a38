// Package compliance applies business-rule screening to syntactically valid
// MT103 messages. It is orthogonal to syntactic validation and runs after it.
package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/finwire/mtflow/go/swift"
)

// Severity orders compliance findings. A report passes iff it carries no
// violation of severity High or above.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return "Critical"
	}
}

// Violation is a single compliance finding.
type Violation struct {
	Type        string    `json:"type"`
	Field       string    `json:"field"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Report is the outcome of one compliance pass.
type Report struct {
	Violations []Violation `json:"violations"`
	Warnings   []Violation `json:"warnings"`
}

// Passed reports whether no violation reaches severity High.
func (r Report) Passed() bool {
	for _, v := range r.Violations {
		if v.Severity >= High {
			return false
		}
	}
	return true
}

// Error renders the blocking violations as one message.
func (r Report) Error() string {
	var parts []string
	for _, v := range r.Violations {
		if v.Severity >= High {
			parts = append(parts, fmt.Sprintf("%s (%s): %s", v.Type, v.Severity, v.Description))
		}
	}
	return strings.Join(parts, "; ")
}

var (
	criticalAmountLimit = decimal.RequireFromString("10000000")
	warningAmountLimit  = decimal.RequireFromString("1000000")
	smallChargeLimit    = decimal.RequireFromString("100")
)

// Checker applies the compliance rule set. Screen is the pluggable sanctions
// hook; Now is injectable for tests.
type Checker struct {
	Screen SanctionsScreen
	Now    func() time.Time
}

// New builds a Checker with the default keyword-based sanctions screen.
func New(sanctionsKeywords []string) *Checker {
	return &Checker{
		Screen: KeywordScreen(sanctionsKeywords),
		Now:    time.Now,
	}
}

// Check runs every compliance rule over the message.
func (c *Checker) Check(m *swift.MT103Message) Report {
	var r Report
	var now = c.Now()

	var violation = func(typ, field, desc string, sev Severity) {
		r.Violations = append(r.Violations, Violation{
			Type: typ, Field: field, Description: desc, Severity: sev, Timestamp: now,
		})
	}
	var warning = func(typ, field, desc string) {
		r.Warnings = append(r.Warnings, Violation{
			Type: typ, Field: field, Description: desc, Severity: Low, Timestamp: now,
		})
	}

	// Original currency and amount travel together, and the original
	// currency must differ from the settlement currency.
	var hasOrigCcy = m.OriginalCurrency != ""
	var hasOrigAmt = m.OriginalAmount != nil
	if hasOrigCcy != hasOrigAmt {
		violation("CrossFieldCurrency", "33B",
			"original currency and original amount must both be present or both absent", High)
	} else if hasOrigCcy && strings.EqualFold(m.OriginalCurrency, m.Currency) {
		violation("CrossFieldCurrency", "33B",
			"original currency equals the settlement currency", Low)
	}

	if !m.ValueDate.IsZero() {
		var distance = m.ValueDate.Sub(now)
		if distance < 0 {
			distance = -distance
		}
		if distance > 365*24*time.Hour {
			violation("ValueDateRange", "32A",
				fmt.Sprintf("value date %s is more than 365 days from today",
					m.ValueDate.Format("2006-01-02")), Medium)
		}
	}

	if a, b := m.OrderingCustomer.Account, m.BeneficiaryCustomer.Account; a != "" && b != "" &&
		strings.EqualFold(a, b) {
		violation("CustomerEquality", "50/59",
			"ordering and beneficiary accounts are identical", Medium)
	}

	if m.Amount.GreaterThan(criticalAmountLimit) {
		violation("AmountLimit", "32A",
			fmt.Sprintf("amount %s exceeds the 10,000,000 limit", m.Amount), Critical)
	} else if m.Amount.GreaterThanOrEqual(warningAmountLimit) {
		warning("AmountLimit", "32A",
			fmt.Sprintf("amount %s is at or above 1,000,000", m.Amount))
	}

	c.screenParty(&r, now, "50", m.OrderingCustomer)
	c.screenParty(&r, now, "59", m.BeneficiaryCustomer)

	// Defence-in-depth: re-check free text against the printable set even
	// though the syntactic validator already did.
	c.recheckCharset(&r, now, "70", m.RemittanceInformation)
	c.recheckCharset(&r, now, "72", m.SenderToReceiverInfo)

	if m.ChargeDetails.Bearer == "BEN" && m.Amount.LessThan(smallChargeLimit) {
		warning("ChargeBearerHeuristic", "71A",
			"bearer BEN with an amount under 100 is unusual")
	}

	return r
}

func (c *Checker) screenParty(r *Report, now time.Time, field string, p swift.Party) {
	if c.Screen == nil {
		return
	}
	var hit = c.Screen(strings.Join(p.Name, " "), p.Account)
	if hit == nil {
		return
	}
	log.WithFields(log.Fields{
		"field": field,
		"label": hit.Label,
		"sev":   hit.Severity.String(),
	}).Warn("sanctions screen hit")

	var v = Violation{
		Type: "SanctionsScreen", Field: field,
		Description: fmt.Sprintf("sanctions screen matched %q", hit.Label),
		Severity:    hit.Severity, Timestamp: now,
	}
	if hit.Severity >= Critical {
		r.Violations = append(r.Violations, v)
	} else {
		r.Warnings = append(r.Warnings, v)
	}
}

func (c *Checker) recheckCharset(r *Report, now time.Time, field string, lines []string) {
	for _, line := range lines {
		for _, ch := range line {
			if ch < 0x20 || ch > 0x7E {
				r.Violations = append(r.Violations, Violation{
					Type: "CharacterSet", Field: field,
					Description: fmt.Sprintf("line %q contains a non-printable character", line),
					Severity:    High, Timestamp: now,
				})
				break
			}
		}
	}
}
