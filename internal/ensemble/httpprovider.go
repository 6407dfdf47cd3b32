package ensemble

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPProvider adapts a generic chat-completion HTTP endpoint to the
// Provider interface, using a retryable client so transient upstream
// failures (5xx, connection errors) are retried with capped exponential
// backoff (no jitter). A request that still fails is reported as a
// non-compliant output (api_error, or timeout once the deadline has
// passed) with a nil error.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	httpClient *retryablehttp.Client
}

// NewHTTPProvider constructs an HTTPProvider with a bounded-retry
// client (3 attempts, capped exponential backoff).
func NewHTTPProvider(logger *zap.Logger, name, endpoint, apiKey, model string) *HTTPProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil // silence retryablehttp's own logging; zap owns ours
	return &HTTPProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: client,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type chatRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Score       float64 `json:"score"`
	ShouldTrade *bool   `json:"should_trade"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Evaluate sends the prompt to the provider's endpoint and parses the
// response into a schema-validated ModelOutput, or returns a
// ComplianceFailure reason via the output's ComplianceFail field.
func (p *HTTPProvider) Evaluate(ctx context.Context, prompt string, timeout time.Duration) (types.ModelOutput, error) {
	if p.apiKey == "" {
		return noncompliant(p.name, FailureMissingKey), nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, _ := json.Marshal(chatRequest{Model: p.model, Prompt: prompt})
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return noncompliant(p.name, FailureAPIError), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return noncompliant(p.name, FailureTimeout), nil
		}
		return noncompliant(p.name, FailureAPIError), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return noncompliant(p.name, FailureAPIError), nil
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return noncompliant(p.name, FailureParseError), nil
	}

	if parsed.Score < 0 || parsed.Score > 100 || parsed.Confidence < 0 || parsed.Confidence > 1 {
		return noncompliant(p.name, FailureSchemaError), nil
	}

	out := types.ModelOutput{
		Provider:    p.name,
		Score:       decimalFromFloat(parsed.Score),
		ShouldTrade: parsed.ShouldTrade,
		Confidence:  decimalFromFloat(parsed.Confidence),
		Reasoning:   parsed.Reasoning,
		Compliant:   true,
		LatencyMS:   latency.Milliseconds(),
	}
	return out, nil
}

func noncompliant(provider string, reason ComplianceFailureReason) types.ModelOutput {
	return types.ModelOutput{
		Provider:       provider,
		Compliant:      false,
		ComplianceFail: string(reason),
	}
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
