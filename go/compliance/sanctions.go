package compliance

import "strings"

// ScreenHit is a sanctions screening outcome for one party.
type ScreenHit struct {
	Label    string
	Severity Severity
}

// SanctionsScreen is the pluggable screening hook. It receives the party's
// joined name lines and account, and returns nil when the party is clean.
type SanctionsScreen func(name, account string) *ScreenHit

// KeywordScreen is the default screen: a case-insensitive substring match of
// any configured keyword against the party name or account. Every keyword
// hit is Critical.
func KeywordScreen(keywords []string) SanctionsScreen {
	var lowered = make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return func(name, account string) *ScreenHit {
		var haystack = strings.ToLower(name + " " + account)
		for i, k := range lowered {
			if k != "" && strings.Contains(haystack, k) {
				return &ScreenHit{Label: keywords[i], Severity: Critical}
			}
		}
		return nil
	}
}
