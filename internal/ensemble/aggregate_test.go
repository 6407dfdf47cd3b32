package ensemble_test

import (
	"testing"

	"github.com/atlas-desktop/atlas-bridge/internal/ensemble"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
)

func boolPtr(b bool) *bool { return &b }

func equalWeights() types.WeightSet {
	third := decimal.NewFromFloat(1.0 / 3.0)
	return types.WeightSet{Claude: third, GPT4o: third, Gemini: third, K: decimal.NewFromFloat(1.0)}
}

func TestAggregateUnanimousAgreementTrades(t *testing.T) {
	outputs := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(80), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gpt4o", Score: decimal.NewFromInt(82), Confidence: decimal.NewFromInt(88), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gemini", Score: decimal.NewFromInt(78), Confidence: decimal.NewFromInt(85), Compliant: true, ShouldTrade: boolPtr(true)},
	}

	result := ensemble.Aggregate(outputs, equalWeights(), decimal.NewFromInt(60))

	if !result.EnsembleShouldTrade {
		t.Fatal("expected ensemble to recommend trading on unanimous agreement")
	}
	if result.EnsembleScore.LessThan(decimal.NewFromInt(60)) {
		t.Errorf("EnsembleScore = %s, expected >= threshold", result.EnsembleScore)
	}
}

func TestAggregateNonCompliantModelsExcluded(t *testing.T) {
	outputs := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(90), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gpt4o", Score: decimal.NewFromInt(10), Confidence: decimal.NewFromInt(10), Compliant: false, ShouldTrade: boolPtr(false)},
	}

	result := ensemble.Aggregate(outputs, equalWeights(), decimal.NewFromInt(60))

	if !result.EnsembleScore.Equal(decimal.NewFromInt(90)) {
		t.Errorf("EnsembleScore = %s, want 90 (non-compliant model excluded)", result.EnsembleScore)
	}
}

func TestAggregateAllNonCompliantReturnsZeroValue(t *testing.T) {
	outputs := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(90), Compliant: false},
		{Provider: "gpt4o", Score: decimal.NewFromInt(90), Compliant: false},
	}

	result := ensemble.Aggregate(outputs, equalWeights(), decimal.NewFromInt(60))

	if !result.EnsembleScore.IsZero() || result.EnsembleShouldTrade {
		t.Errorf("expected zero-value result when no model is compliant, got %+v", result)
	}
}

func TestAggregateMinorityAgreementDoesNotTrade(t *testing.T) {
	outputs := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(90), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gpt4o", Score: decimal.NewFromInt(90), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(false)},
		{Provider: "gemini", Score: decimal.NewFromInt(90), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(false)},
	}

	result := ensemble.Aggregate(outputs, equalWeights(), decimal.NewFromInt(60))

	if result.EnsembleShouldTrade {
		t.Fatal("expected no trade: only a minority of compliant models agreed")
	}
}

func TestAggregateHighDispersionPenalizesScore(t *testing.T) {
	weights := equalWeights()

	agreeing := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(80), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gpt4o", Score: decimal.NewFromInt(80), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gemini", Score: decimal.NewFromInt(80), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
	}
	scattered := []types.ModelOutput{
		{Provider: "claude", Score: decimal.NewFromInt(20), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gpt4o", Score: decimal.NewFromInt(80), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
		{Provider: "gemini", Score: decimal.NewFromInt(140), Confidence: decimal.NewFromInt(90), Compliant: true, ShouldTrade: boolPtr(true)},
	}

	agreed := ensemble.Aggregate(agreeing, weights, decimal.NewFromInt(60))
	spread := ensemble.Aggregate(scattered, weights, decimal.NewFromInt(60))

	if !spread.Dispersion.GreaterThan(agreed.Dispersion) {
		t.Fatalf("expected scattered scores to have higher dispersion: agreed=%s spread=%s", agreed.Dispersion, spread.Dispersion)
	}
	if !spread.EnsembleScore.LessThan(agreed.EnsembleScore) {
		t.Errorf("expected higher dispersion to penalize ensemble score: agreed=%s spread=%s", agreed.EnsembleScore, spread.EnsembleScore)
	}
}
