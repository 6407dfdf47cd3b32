// Package features builds deterministic feature vectors keyed by
// symbol and timestamp for the LLM ensemble. Feature formulas
// themselves (RVOL, VWAP deviation, ATR, gap %) are commodity numeric
// transforms out of scope per spec.md section 1; this package owns
// only the fan-out/assembly contract around them.
package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/regime"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source computes one named feature for a symbol at a point in time.
// Concrete implementations (RVOL, VWAP deviation, ATR, gap %, VPIN,
// OBI, ...) are commodity numeric transforms supplied by the caller.
type Source interface {
	Name() string
	Compute(ctx context.Context, symbol string, at time.Time) (interface{}, error)
}

// Pipeline fans a symbol's feature computation out across registered
// sources concurrently and assembles a single deterministic vector.
type Pipeline struct {
	logger  *zap.Logger
	regime  *regime.RegimeDetector
	sources []Source
}

// New constructs a Pipeline over the given feature sources.
func New(logger *zap.Logger, regimeDetector *regime.RegimeDetector, sources ...Source) *Pipeline {
	return &Pipeline{
		logger:  logger.Named("feature-pipeline"),
		regime:  regimeDetector,
		sources: sources,
	}
}

// Build computes every registered source for symbol at "at" and
// returns the assembled, deterministic feature vector plus the
// current regime classification for ensemble weight selection. A
// single source failure does not fail the whole build; the failing
// key is simply omitted and logged.
func (p *Pipeline) Build(ctx context.Context, symbol string, at time.Time) (map[string]interface{}, types.Regime) {
	vector := make(map[string]interface{}, len(p.sources)+2)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range p.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := src.Compute(ctx, symbol, at)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("feature source failed", zap.String("source", src.Name()), zap.Error(err))
				return
			}
			vector[src.Name()] = value
		}()
	}
	wg.Wait()

	vector["symbol"] = symbol
	vector["timestamp"] = at.UTC().Format(time.RFC3339)

	return vector, classifyRegime(p.regime)
}

func classifyRegime(detector *regime.RegimeDetector) types.Regime {
	if detector == nil {
		return types.RegimeNormal
	}
	state := detector.GetCurrentRegime()
	if state == nil {
		return types.RegimeNormal
	}
	switch state.Primary {
	case regime.RegimeHighVol:
		return types.RegimeHigh
	case regime.RegimeLowVol:
		return types.RegimeLow
	case regime.RegimeTrending, regime.RegimeBull, regime.RegimeBear:
		return types.RegimeTrending
	case regime.RegimeMeanReverting:
		return types.RegimeChop
	case regime.RegimeTransition:
		return types.RegimeVolatile
	default:
		return types.RegimeNormal
	}
}

// DecimalSource adapts a plain func into a Source returning a decimal.
type DecimalSource struct {
	SourceName string
	Fn         func(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

func (d DecimalSource) Name() string { return d.SourceName }

func (d DecimalSource) Compute(ctx context.Context, symbol string, at time.Time) (interface{}, error) {
	v, err := d.Fn(ctx, symbol, at)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.SourceName, err)
	}
	return v, nil
}
