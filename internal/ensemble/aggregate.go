package ensemble

import (
	"math"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"github.com/shopspring/decimal"
)

// AggregateResult is the computed ensemble score, confidence, and
// should_trade decision for one evaluation.
type AggregateResult struct {
	EnsembleScore       decimal.Decimal
	EnsembleConfidence  decimal.Decimal
	EnsembleShouldTrade bool
	Dispersion          decimal.Decimal
}

const defaultShouldTradeThreshold = 60

// Aggregate implements spec.md section 4.5's algorithm exactly:
// weighted_mean over compliant models, dispersion as the standard
// deviation of compliant scores, ensemble_score = weighted_mean *
// (1 - k*dispersion/50) clamped to [0,100], and ensemble_should_trade
// requiring both a score threshold and majority compliant-model
// agreement. Aggregation is a pure function: identical inputs and
// weights always produce a bit-identical result.
func Aggregate(outputs []types.ModelOutput, weights types.WeightSet, threshold decimal.Decimal) AggregateResult {
	if threshold.IsZero() {
		threshold = decimal.NewFromInt(defaultShouldTradeThreshold)
	}

	var compliantScores, compliantWeights, compliantConfidences []decimal.Decimal
	agreeCount, totalCompliant := 0, 0

	for _, out := range outputs {
		if !out.Compliant {
			continue
		}
		totalCompliant++
		w := weightFor(out.Provider, weights)
		compliantScores = append(compliantScores, out.Score)
		compliantWeights = append(compliantWeights, w)
		compliantConfidences = append(compliantConfidences, out.Confidence)
		if out.ShouldTrade != nil && *out.ShouldTrade {
			agreeCount++
		}
	}

	if totalCompliant == 0 {
		return AggregateResult{}
	}

	weightedMean := utils.WeightedMean(compliantScores, compliantWeights)
	dispersion := stdDev(compliantScores)

	k := weights.K
	ensembleScore := weightedMean.Mul(decimal.NewFromInt(1).Sub(k.Mul(dispersion).Div(decimal.NewFromInt(50))))
	ensembleScore = clamp(ensembleScore, decimal.Zero, decimal.NewFromInt(100))

	ensembleConfidence := utils.WeightedMean(compliantConfidences, compliantWeights)

	majorityAgrees := agreeCount*2 > totalCompliant
	shouldTrade := ensembleScore.GreaterThanOrEqual(threshold) && majorityAgrees

	return AggregateResult{
		EnsembleScore:       ensembleScore,
		EnsembleConfidence:  ensembleConfidence,
		EnsembleShouldTrade: shouldTrade,
		Dispersion:          dispersion,
	}
}

func weightFor(provider string, weights types.WeightSet) decimal.Decimal {
	switch provider {
	case "claude":
		return weights.Claude
	case "gpt4o":
		return weights.GPT4o
	case "gemini":
		return weights.Gemini
	default:
		return decimal.Zero
	}
}

func stdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	mean := utils.CalculateMean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values))))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
