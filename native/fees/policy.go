package fees

import (
	"strings"

	"github.com/holiman/uint256"
)

// Policy prices dispatched calls. A call's domain is the module prefix of its
// name ("dex" for "dex.make_order"); domains without an entry pay Default and
// Exempt domains never pay.
type Policy struct {
	Default Amount            `toml:"default" json:"default"`
	Domains map[string]Amount `toml:"domains" json:"domains"`
	Exempt  []string          `toml:"exempt" json:"exempt"`
}

// Clone returns a deep copy of the policy with normalised domain keys.
func (p Policy) Clone() Policy {
	clone := Policy{Default: p.Default.Clone()}
	clone.Domains = make(map[string]Amount, len(p.Domains))
	for domain, fee := range p.Domains {
		clone.Domains[NormalizeDomain(domain)] = fee.Clone()
	}
	for _, domain := range p.Exempt {
		clone.Exempt = append(clone.Exempt, NormalizeDomain(domain))
	}
	return clone
}

// NormalizeDomain canonicalises domain identifiers for consistent lookups.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// DomainOf returns the module prefix of a call name.
func DomainOf(call string) string {
	domain, _, _ := strings.Cut(call, ".")
	return NormalizeDomain(domain)
}

// FeeFor returns the fee charged for call. The result is never nil.
func (p Policy) FeeFor(call string) *uint256.Int {
	domain := DomainOf(call)
	for _, exempt := range p.Exempt {
		if NormalizeDomain(exempt) == domain {
			return new(uint256.Int)
		}
	}
	for name, fee := range p.Domains {
		if NormalizeDomain(name) == domain {
			return fee.Int()
		}
	}
	return p.Default.Int()
}
