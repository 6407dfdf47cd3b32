package features_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/features"
	"github.com/atlas-desktop/atlas-bridge/internal/regime"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestBuildAssemblesVectorFromAllSources(t *testing.T) {
	detector := regime.NewRegimeDetector(zap.NewNop(), regime.DefaultRegimeConfig())

	rvol := features.DecimalSource{
		SourceName: "rvol",
		Fn: func(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
			return decimal.NewFromFloat(1.5), nil
		},
	}
	vwapDev := features.DecimalSource{
		SourceName: "vwap_dev",
		Fn: func(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
			return decimal.NewFromFloat(-0.2), nil
		},
	}

	pipeline := features.New(zap.NewNop(), detector, rvol, vwapDev)

	at := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	vector, regimeClass := pipeline.Build(context.Background(), "BTC/USDT", at)

	if vector["symbol"] != "BTC/USDT" {
		t.Errorf("vector[symbol] = %v, want BTC/USDT", vector["symbol"])
	}
	if vector["timestamp"] != "2026-07-30T14:30:00Z" {
		t.Errorf("vector[timestamp] = %v, want 2026-07-30T14:30:00Z", vector["timestamp"])
	}
	if _, ok := vector["rvol"]; !ok {
		t.Error("vector missing rvol")
	}
	if _, ok := vector["vwap_dev"]; !ok {
		t.Error("vector missing vwap_dev")
	}
	if regimeClass != types.RegimeNormal {
		t.Errorf("regime = %v, want normal for a fresh detector", regimeClass)
	}
}

func TestBuildOmitsFailingSourceWithoutFailingWholeBuild(t *testing.T) {
	detector := regime.NewRegimeDetector(zap.NewNop(), regime.DefaultRegimeConfig())

	good := features.DecimalSource{
		SourceName: "atr",
		Fn: func(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
			return decimal.NewFromFloat(3.1), nil
		},
	}
	bad := features.DecimalSource{
		SourceName: "broken",
		Fn: func(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("upstream unavailable")
		},
	}

	pipeline := features.New(zap.NewNop(), detector, good, bad)
	vector, _ := pipeline.Build(context.Background(), "ETH/USDT", time.Now())

	if _, ok := vector["atr"]; !ok {
		t.Error("vector missing the successful source's value")
	}
	if _, ok := vector["broken"]; ok {
		t.Error("vector should not contain a key for the failing source")
	}
}

func TestBuildWithNilDetectorDefaultsToNormalRegime(t *testing.T) {
	pipeline := features.New(zap.NewNop(), nil)
	_, regimeClass := pipeline.Build(context.Background(), "SOL/USDT", time.Now())
	if regimeClass != types.RegimeNormal {
		t.Errorf("regime = %v, want normal with nil detector", regimeClass)
	}
}
