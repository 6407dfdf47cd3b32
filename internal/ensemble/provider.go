// Package ensemble implements the three-model LLM ensemble evaluator:
// parallel fan-out, strict JSON-schema compliance checking, weighted
// aggregation with a disagreement penalty, and retention of every
// per-model output (compliant or not) in the returned Evaluation for
// observability. Persisting evaluations is left to the caller.
package ensemble

import (
	"context"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
)

// ComplianceFailureReason enumerates why a provider's output was
// rejected as non-compliant.
type ComplianceFailureReason string

const (
	FailureTimeout     ComplianceFailureReason = "timeout"
	FailureParseError  ComplianceFailureReason = "parse_error"
	FailureSchemaError ComplianceFailureReason = "schema_error"
	FailureAPIError    ComplianceFailureReason = "api_error"
	FailureMissingKey  ComplianceFailureReason = "missing_key"
)

// Provider is the single interface every model integration implements.
// Aggregation matches providers to weights by Name() in weightFor,
// which knows only "claude", "gpt4o" and "gemini"; a provider with any
// other name gets zero weight.
type Provider interface {
	Name() string
	Evaluate(ctx context.Context, prompt string, timeout time.Duration) (types.ModelOutput, error)
}

// PrefilterResult is returned by a cheap, feature-vector-only check
// that can block should_trade without skipping model calls.
type PrefilterResult struct {
	Allowed bool
	Flags   []string
}

// Prefilter inspects a feature vector and may force should_trade to
// false for observability-only evaluations.
type Prefilter func(featureVector map[string]interface{}) PrefilterResult
