package reconcile

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultBankLinkingCountries is used when no countries are configured.
var DefaultBankLinkingCountries = []string{"Venezuela"}

// BankLinkingPolicy decides which countries require a linked bank account.
// Countries compare after trimming, NFC normalization and case folding, so
// "VENEZUELA", " venezuela " and "Venezuela" are the same country.
type BankLinkingPolicy struct {
	countries map[string]struct{}
}

// NewBankLinkingPolicy builds a policy. A nil slice uses the defaults; an
// empty non-nil slice requires linking nowhere.
func NewBankLinkingPolicy(countries []string) BankLinkingPolicy {
	if countries == nil {
		countries = DefaultBankLinkingCountries
	}
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		if key := normalizeCountry(c); key != "" {
			set[key] = struct{}{}
		}
	}
	return BankLinkingPolicy{countries: set}
}

// RequiresBankAccountLinking reports whether customers in country must link
// a bank account before onboarding completes.
func (p BankLinkingPolicy) RequiresBankAccountLinking(country string) bool {
	key := normalizeCountry(country)
	if key == "" {
		return false
	}
	_, ok := p.countries[key]
	return ok
}

func normalizeCountry(country string) string {
	s := strings.Join(strings.Fields(country), " ")
	return cases.Fold().String(norm.NFC.String(s))
}
