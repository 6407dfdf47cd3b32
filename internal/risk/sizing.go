// Package risk implements the pre-trade veto, position sizing,
// session state machine, and end-of-day flatten scheduler.
package risk

import (
	"github.com/shopspring/decimal"
)

// SizingConfig carries the floors used by the three-way sizing
// constraint in spec.md section 4.4.
type SizingConfig struct {
	RiskPct          decimal.Decimal // fraction of equity risked per trade
	MaxCapitalPct    decimal.Decimal // fraction of equity allowed in one position
	MarginMultiplier decimal.Decimal
}

// SizingRequest is the input to ComputeSize.
type SizingRequest struct {
	Entry           decimal.Decimal
	Stop            decimal.Decimal
	Equity          decimal.Decimal
	AvailableFunds  decimal.Decimal
	RiskAmount      decimal.Decimal // optional override; zero means "not provided"
}

// LimitingFactor names which of the three constraints bound the
// recommended size.
type LimitingFactor string

const (
	LimitRisk    LimitingFactor = "risk"
	LimitCapital LimitingFactor = "capital"
	LimitMargin  LimitingFactor = "margin"
	LimitNone    LimitingFactor = "none"
)

// SizingResult is the output of ComputeSize.
type SizingResult struct {
	RecommendedShares decimal.Decimal
	LimitingFactor    LimitingFactor
	Warnings          []string
}

const gapHalvingThreshold = 20 // percent

// ComputeSize implements spec.md section 4.4's position-sizing
// algorithm exactly: three independent constraints (risk, capital,
// margin), the binding (minimum) one wins, and a gap_pct > 20% halves
// the risk-derived share count with a warning.
func ComputeSize(req SizingRequest, cfg SizingConfig) SizingResult {
	riskPerShare := req.Entry.Sub(req.Stop).Abs()
	if riskPerShare.LessThanOrEqual(decimal.Zero) {
		return SizingResult{
			RecommendedShares: decimal.Zero,
			LimitingFactor:    LimitNone,
			Warnings:          []string{"no risk buffer"},
		}
	}

	var warnings []string

	riskBudget := req.Equity.Mul(cfg.RiskPct)
	if req.RiskAmount.IsPositive() && req.RiskAmount.LessThan(riskBudget) {
		riskBudget = req.RiskAmount
	}
	sharesByRisk := riskBudget.Div(riskPerShare).Floor()

	if !req.Entry.IsZero() {
		gapPct := riskPerShare.Div(req.Entry).Mul(decimal.NewFromInt(100))
		if gapPct.GreaterThan(decimal.NewFromInt(gapHalvingThreshold)) {
			sharesByRisk = sharesByRisk.Div(decimal.NewFromInt(2)).Floor()
			warnings = append(warnings, "gap_pct exceeds 20%, risk-derived size halved")
		}
	}

	sharesByCapital := req.Equity.Mul(cfg.MaxCapitalPct).Div(req.Entry).Floor()

	marginMult := cfg.MarginMultiplier
	if marginMult.IsZero() {
		marginMult = decimal.NewFromInt(1)
	}
	sharesByMargin := req.AvailableFunds.Div(req.Entry.Mul(marginMult)).Floor()

	recommended := sharesByRisk
	factor := LimitRisk
	if sharesByCapital.LessThan(recommended) {
		recommended = sharesByCapital
		factor = LimitCapital
	}
	if sharesByMargin.LessThan(recommended) {
		recommended = sharesByMargin
		factor = LimitMargin
	}
	if recommended.IsNegative() {
		recommended = decimal.Zero
	}

	return SizingResult{
		RecommendedShares: recommended,
		LimitingFactor:    factor,
		Warnings:          warnings,
	}
}

// KellyFraction computes the classic Kelly criterion fraction
// p - q/b, clamped to [0,1], as a contributing input alongside
// ComputeSize's binding constraint — preserved from the teacher's
// sizing model as an advisory figure, not the binding one.
func KellyFraction(winRate, avgWin, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return decimal.Zero
	}
	b := avgWin.Div(avgLoss)
	if b.IsZero() {
		return decimal.Zero
	}
	q := decimal.NewFromInt(1).Sub(winRate)
	kelly := winRate.Sub(q.Div(b))
	if kelly.IsNegative() {
		return decimal.Zero
	}
	if kelly.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return kelly
}

// QuarterKelly applies a conservative fractional multiplier to the
// full Kelly fraction.
func QuarterKelly(full decimal.Decimal) decimal.Decimal {
	return full.Mul(decimal.NewFromFloat(0.25))
}
