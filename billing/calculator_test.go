package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// =============================================================================
// DEDUCTION & TAX TESTS
// =============================================================================

func TestCalculate_MarchScenario(t *testing.T) {
	// GIVEN: One block (120.00 VAT-inclusive) and one evaluation
	// WHEN: Calculating the persisted amounts
	// THEN: base 99.17, deduction 20.00, net 79.17, tax 16.63, total 95.80

	a := billing.Calculate(billing.DefaultPricing(), money("120.00"), 1).Round()

	assertMoney(t, "120.00", a.Gross)
	assertMoney(t, "99.17", a.Base)
	assertMoney(t, "20.00", a.Deducted)
	assertMoney(t, "79.17", a.Net)
	assertMoney(t, "16.63", a.Tax)
	assertMoney(t, "95.80", a.Total)
	assert.Equal(t, 1, a.EvaluationCount)
}

func TestCalculate_DeductionClampedAtZero(t *testing.T) {
	// GIVEN: Deductions larger than the net base
	// WHEN: Calculating
	// THEN: Net, tax and total are zero, never negative

	a := billing.Calculate(billing.DefaultPricing(), money("120.00"), 10)

	assert.True(t, a.Net.IsZero())
	assert.True(t, a.Tax.IsZero())
	assert.True(t, a.Total.IsZero())
	assertMoney(t, "200", a.Deducted)
}

func TestCalculate_NoWork(t *testing.T) {
	a := billing.Calculate(billing.DefaultPricing(), decimal.Zero, 0)
	assert.True(t, a.Total.IsZero())
}

func TestCalculate_Properties(t *testing.T) {
	// For every combination of blocks and evaluations:
	//   net == max(0, base - deduction), never negative
	//   total == net * (1 + VAT)
	//   total / (1 + VAT) round-trips to net within rounding tolerance
	//   the rounded form keeps total == net + tax exactly

	p := billing.DefaultPricing()
	onePlusVAT := decimal.NewFromInt(1).Add(p.VATRate)
	tolerance := money("0.000001")

	for blocks := 0; blocks <= 10; blocks++ {
		for evals := 0; evals <= 8; evals++ {
			gross := p.BlockPrice.Mul(decimal.NewFromInt(int64(blocks)))
			a := billing.Calculate(p, gross, evals)

			assert.False(t, a.Net.IsNegative(), "blocks=%d evals=%d", blocks, evals)
			want := decimal.Max(decimal.Zero, a.Base.Sub(a.Deducted))
			assert.True(t, want.Equal(a.Net), "blocks=%d evals=%d", blocks, evals)
			assert.True(t, a.Net.Mul(onePlusVAT).Equal(a.Total), "blocks=%d evals=%d", blocks, evals)
			assert.True(t, a.Total.Div(onePlusVAT).Sub(a.Net).Abs().LessThan(tolerance), "blocks=%d evals=%d", blocks, evals)

			r := a.Round()
			assert.True(t, r.Net.Add(r.Tax).Equal(r.Total), "blocks=%d evals=%d", blocks, evals)
			assert.True(t, r.Total.Sub(a.Total).Abs().LessThanOrEqual(money("0.01")), "blocks=%d evals=%d", blocks, evals)
		}
	}
}

func TestCalculateBlocks_SumsBlockPrices(t *testing.T) {
	p := billing.DefaultPricing()
	blocks := []billing.Block{{Gross: p.BlockPrice}, {Gross: p.BlockPrice}}

	a := billing.CalculateBlocks(p, blocks, 0)

	assertMoney(t, "240", a.Gross)
	assert.Equal(t, 2, a.BlockCount)
}

// =============================================================================
// PRICING SCHEDULE TESTS
// =============================================================================

func TestPricingSchedule_PicksVersionInEffect(t *testing.T) {
	v1 := billing.DefaultPricing()
	v2 := billing.DefaultPricing()
	v2.Version = "v2"
	v2.EffectiveFrom = april
	v2.BlockPrice = money("150.00")

	s, err := billing.NewPricingSchedule(v2, v1)
	require.NoError(t, err)

	assert.Equal(t, "v1", s.For(march).Version)
	assert.Equal(t, "v2", s.For(april).Version)
	assert.Equal(t, "v2", s.For(april.Next()).Version)
	assert.Equal(t, "v1", s.For(billing.NewMonth(1999, 1)).Version)
	assert.Len(t, s.Versions(), 2)
}

func TestPricingSchedule_RejectsInvalid(t *testing.T) {
	_, err := billing.NewPricingSchedule()
	assert.ErrorIs(t, err, billing.ErrValidation)

	bad := billing.DefaultPricing()
	bad.BlockSize = 0
	_, err = billing.NewPricingSchedule(bad)
	assert.ErrorIs(t, err, billing.ErrValidation)

	dup := billing.DefaultPricing()
	dup.Version = "v2"
	_, err = billing.NewPricingSchedule(billing.DefaultPricing(), dup)
	assert.ErrorIs(t, err, billing.ErrValidation, "two versions in the same month")
}

func TestParseMonth(t *testing.T) {
	m, err := billing.ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, march, m)
	assert.Equal(t, "2025-03", m.String())
	assert.True(t, m.Contains(day(3, 31)))
	assert.False(t, m.Contains(day(4, 1)))
	assert.Equal(t, april, m.Next())
	assert.Equal(t, billing.NewMonth(2024, 12), billing.NewMonth(2025, 1).Previous())

	_, err = billing.ParseMonth("March")
	var vErr *billing.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
