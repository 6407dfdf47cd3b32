package ensemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WeightSource supplies the currently active, immutable weight
// snapshot for a given regime. Readers take a reference for the
// duration of one evaluation; the weight store installs new snapshots
// by atomic swap, never in-place mutation.
type WeightSource interface {
	Active(regime types.Regime) types.WeightSet
}

// Evaluator runs the three-provider ensemble.
type Evaluator struct {
	logger        *zap.Logger
	providers     []Provider
	weights       WeightSource
	prefilter     Prefilter
	providerTimeout time.Duration
	threshold     decimal.Decimal
}

// Config configures an Evaluator.
type Config struct {
	ProviderTimeout time.Duration
	Threshold       decimal.Decimal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 30 * time.Second,
		Threshold:       decimal.NewFromInt(defaultShouldTradeThreshold),
	}
}

// New constructs an Evaluator over the given providers and weight
// source.
func New(logger *zap.Logger, providers []Provider, weights WeightSource, prefilter Prefilter, cfg Config) *Evaluator {
	return &Evaluator{
		logger:          logger.Named("ensemble"),
		providers:       providers,
		weights:         weights,
		prefilter:       prefilter,
		providerTimeout: cfg.ProviderTimeout,
		threshold:       cfg.Threshold,
	}
}

// Evaluate builds a deterministic prompt from the feature vector, fans
// out to all providers in parallel, and aggregates compliant outputs
// into a full Evaluation (including non-compliant per-model outputs,
// kept for observability). The result is not persisted here: the signal
// ingester returns it in its IngestResult and the evaluate action
// returns it to its caller; neither stores nor publishes it.
func (e *Evaluator) Evaluate(ctx context.Context, evaluationID, symbol string, direction types.BridgeSide, featureVector map[string]interface{}, regime types.Regime) (types.Evaluation, error) {
	prompt := buildPrompt(symbol, direction, featureVector)
	promptHash := utils.PromptHash(featureVector)

	outputs := e.fanOut(ctx, prompt)

	weights := e.weights.Active(regime)
	agg := Aggregate(outputs, weights, e.threshold)

	shouldTrade := agg.EnsembleShouldTrade
	if e.prefilter != nil {
		result := e.prefilter(featureVector)
		if !result.Allowed {
			shouldTrade = false
		}
	}

	eval := types.Evaluation{
		EvaluationID:        evaluationID,
		Symbol:               symbol,
		Direction:            direction,
		FeatureVector:        featureVector,
		ModelOutputs:         outputs,
		EnsembleScore:        agg.EnsembleScore,
		EnsembleConfidence:   agg.EnsembleConfidence,
		EnsembleShouldTrade:  shouldTrade,
		PromptHash:           promptHash,
		CreatedAt:            time.Now().UTC(),
	}

	return eval, nil
}

func (e *Evaluator) fanOut(ctx context.Context, prompt string) []types.ModelOutput {
	outputs := make([]types.ModelOutput, len(e.providers))
	var wg sync.WaitGroup
	for i, p := range e.providers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Evaluate(ctx, prompt, e.providerTimeout)
			if err != nil {
				e.logger.Error("provider evaluation failed", zap.String("provider", p.Name()), zap.Error(err))
				out = types.ModelOutput{Provider: p.Name(), Compliant: false, ComplianceFail: string(FailureAPIError)}
			}
			outputs[i] = out
		}()
	}
	wg.Wait()
	return outputs
}

// buildPrompt renders a deterministic prompt string from the feature
// vector: sorted keys so the same vector always yields the same
// prompt (and therefore the same prompt_hash).
func buildPrompt(symbol string, direction types.BridgeSide, featureVector map[string]interface{}) string {
	keys := make([]string, 0, len(featureVector))
	for k := range featureVector {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("Evaluate ")
	sb.WriteString(string(direction))
	sb.WriteString(" candidate for ")
	sb.WriteString(symbol)
	sb.WriteString(".\nFeatures:\n")
	for _, k := range keys {
		sb.WriteString("- ")
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(fmt.Sprintf("%v", featureVector[k]))
		sb.WriteString("\n")
	}
	return sb.String()
}
