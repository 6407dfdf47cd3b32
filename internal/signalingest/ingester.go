package signalingest

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/features"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"go.uber.org/zap"
)

// Evaluator is the subset of ensemble.Evaluator the ingester needs,
// accepted as an interface so tests can substitute a stub.
type Evaluator interface {
	Evaluate(ctx context.Context, evaluationID, symbol string, direction types.BridgeSide, featureVector map[string]interface{}, regime types.Regime) (types.Evaluation, error)
}

// Config controls dedup and auto-evaluation behavior.
type Config struct {
	// DedupWindow suppresses repeat alerts for the same symbol and
	// direction within this window of the first accepted alert.
	DedupWindow time.Duration
	// AutoEvaluate triggers an ensemble evaluation for every accepted
	// alert that passes the dedup window.
	AutoEvaluate bool
}

func DefaultConfig() Config {
	return Config{DedupWindow: 5 * time.Minute, AutoEvaluate: true}
}

// Ingester accepts alerts from any wire format, deduplicates repeat
// fires, persists each accepted alert as a SignalReceived event, and
// optionally kicks off an ensemble evaluation.
type Ingester struct {
	logger    *zap.Logger
	store     *eventstore.Store
	pipeline  *features.Pipeline
	evaluator Evaluator
	cfg       Config

	mu      sync.Mutex
	lastSeen map[string]time.Time
}

// New constructs an Ingester. evaluator may be nil, in which case
// AutoEvaluate is ignored even if set in cfg.
func New(logger *zap.Logger, store *eventstore.Store, pipeline *features.Pipeline, evaluator Evaluator, cfg Config) *Ingester {
	return &Ingester{
		logger:    logger.Named("signal-ingester"),
		store:     store,
		pipeline:  pipeline,
		evaluator: evaluator,
		cfg:       cfg,
		lastSeen:  make(map[string]time.Time),
	}
}

// IngestResult reports what happened to one submitted alert.
type IngestResult struct {
	Accepted     bool
	Deduplicated bool
	SequenceID   int64
	Evaluation   *types.Evaluation
}

// Ingest parses and dedups an alert, persists it if accepted, and
// triggers an evaluation if auto-evaluation is enabled.
func (i *Ingester) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	alert, err := ParseJSON(raw)
	if err != nil {
		return IngestResult{}, err
	}
	return i.ingestAlert(ctx, alert)
}

func (i *Ingester) ingestAlert(ctx context.Context, alert Alert) (IngestResult, error) {
	if i.deduplicated(alert) {
		i.logger.Debug("alert deduplicated", zap.String("symbol", alert.Symbol), zap.String("direction", string(alert.Direction)))
		return IngestResult{Deduplicated: true}, nil
	}

	seq, err := i.store.Append(ctx, types.EventSignalReceived, alert)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{Accepted: true, SequenceID: seq}

	if i.cfg.AutoEvaluate && i.evaluator != nil && i.pipeline != nil {
		featureVector, regime := i.pipeline.Build(ctx, alert.Symbol, alert.ReceivedAt)
		evalID := utils.GenerateID("eval")
		eval, err := i.evaluator.Evaluate(ctx, evalID, alert.Symbol, alert.Direction, featureVector, regime)
		if err != nil {
			i.logger.Error("auto-evaluation failed", zap.String("symbol", alert.Symbol), zap.Error(err))
		} else {
			result.Evaluation = &eval
		}
	}

	return result, nil
}

func (i *Ingester) deduplicated(alert Alert) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	key := alert.dedupKey()
	now := alert.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if last, ok := i.lastSeen[key]; ok && now.Sub(last) < i.cfg.DedupWindow {
		return true
	}
	i.lastSeen[key] = now
	return false
}
