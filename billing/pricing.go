package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING - Versioned billing constants
// =============================================================================

// Pricing holds the constants a settlement is computed with. Each sealed
// settlement stores the Pricing it used, so old settlements stay
// reproducible after prices change.
type Pricing struct {
	Version       string          `json:"version"`
	EffectiveFrom Month           `json:"effective_from"`
	BlockSize     int             `json:"block_size"`
	BlockPrice    decimal.Decimal `json:"block_price"` // VAT-inclusive
	EvalPrice     decimal.Decimal `json:"eval_price"`
	VATRate       decimal.Decimal `json:"vat_rate"`
}

// DefaultPricing returns the launch prices: blocks of 4 sessions at 120.00
// (VAT included), 20.00 per evaluation, 21% VAT.
func DefaultPricing() Pricing {
	return Pricing{
		Version:       "v1",
		EffectiveFrom: NewMonth(2000, 1),
		BlockSize:     4,
		BlockPrice:    decimal.RequireFromString("120.00"),
		EvalPrice:     decimal.RequireFromString("20.00"),
		VATRate:       decimal.RequireFromString("0.21"),
	}
}

// Validate checks the constants are usable.
func (p Pricing) Validate() error {
	switch {
	case p.Version == "":
		return &ValidationError{Field: "pricing.version", Message: "required"}
	case p.BlockSize <= 0:
		return &ValidationError{Field: "pricing.block_size", Message: "must be positive"}
	case p.BlockPrice.IsNegative():
		return &ValidationError{Field: "pricing.block_price", Message: "must not be negative"}
	case p.EvalPrice.IsNegative():
		return &ValidationError{Field: "pricing.eval_price", Message: "must not be negative"}
	case p.VATRate.IsNegative():
		return &ValidationError{Field: "pricing.vat_rate", Message: "must not be negative"}
	}
	return nil
}

// PricingSchedule is an ordered set of pricing versions.
type PricingSchedule struct {
	versions []Pricing
}

// NewPricingSchedule validates the versions and orders them by
// EffectiveFrom. Two versions may not start in the same month.
func NewPricingSchedule(versions ...Pricing) (*PricingSchedule, error) {
	if len(versions) == 0 {
		return nil, &ValidationError{Field: "pricing", Message: "at least one version required"}
	}
	sorted := make([]Pricing, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})

	seen := make(map[string]bool)
	for i, p := range sorted {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Version] {
			return nil, &ValidationError{Field: "pricing.version", Message: fmt.Sprintf("duplicate version %q", p.Version)}
		}
		seen[p.Version] = true
		if i > 0 && sorted[i-1].EffectiveFrom == p.EffectiveFrom {
			return nil, &ValidationError{Field: "pricing.effective_from",
				Message: fmt.Sprintf("versions %q and %q both start in %s", sorted[i-1].Version, p.Version, p.EffectiveFrom)}
		}
	}
	return &PricingSchedule{versions: sorted}, nil
}

// For returns the version in effect for the month: the latest one whose
// EffectiveFrom is not after it. Months before the first version use the
// first version.
func (s *PricingSchedule) For(m Month) Pricing {
	current := s.versions[0]
	for _, p := range s.versions[1:] {
		if m.Before(p.EffectiveFrom) {
			break
		}
		current = p
	}
	return current
}

// Versions returns a copy of all versions, oldest first.
func (s *PricingSchedule) Versions() []Pricing {
	out := make([]Pricing, len(s.versions))
	copy(out, s.versions)
	return out
}
