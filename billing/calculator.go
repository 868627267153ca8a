package billing

import "github.com/shopspring/decimal"

// =============================================================================
// DEDUCTION & TAX CALCULATOR
// =============================================================================

// Calculate turns the month's gross block total and evaluation count into
// the settlement amounts:
//
//	base      = gross / (1 + VAT)
//	deduction = evalCount * EvalPrice
//	net       = max(0, base - deduction)
//	tax       = net * VAT
//	total     = net + tax
//
// Block prices are VAT-inclusive. Evaluation deductions are cash the trainer
// already collected, so they come off the net base before tax is re-applied.
// The result is full precision; call Round for the persisted form.
func Calculate(p Pricing, gross decimal.Decimal, evalCount int) Amounts {
	one := decimal.NewFromInt(1)
	base := gross.Div(one.Add(p.VATRate))
	deduction := p.EvalPrice.Mul(decimal.NewFromInt(int64(evalCount)))

	net := base.Sub(deduction)
	if net.IsNegative() {
		net = decimal.Zero
	}
	tax := net.Mul(p.VATRate)

	return Amounts{
		Gross:           gross,
		Base:            base,
		Deducted:        deduction,
		Net:             net,
		Tax:             tax,
		Total:           net.Add(tax),
		EvaluationCount: evalCount,
	}
}

// CalculateBlocks is Calculate with the gross derived from the blocks.
func CalculateBlocks(p Pricing, blocks []Block, evalCount int) Amounts {
	gross := decimal.Zero
	for _, b := range blocks {
		gross = gross.Add(b.Gross)
	}
	a := Calculate(p, gross, evalCount)
	a.BlockCount = len(blocks)
	return a
}
