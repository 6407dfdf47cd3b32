package weights_test

import (
	"context"
	"testing"

	"github.com/atlas-desktop/atlas-bridge/internal/weights"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestUpdaterRewardsAgreeingModel(t *testing.T) {
	path := writeDoc(t, types.WeightSet{
		Claude: decimal.NewFromFloat(0.4),
		GPT4o:  decimal.NewFromFloat(0.4),
		Gemini: decimal.NewFromFloat(0.2),
		K:      decimal.NewFromFloat(1.5),
	})
	store, err := weights.Load(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer store.Close()

	updater := weights.NewUpdater(zap.NewNop(), store)

	err = updater.Observe(context.Background(), []weights.Outcome{
		{Provider: "gemini", MatchedTrade: true, RMultiple: decimal.NewFromFloat(2.0)},
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	active := store.Active(types.RegimeNormal)
	if !active.Gemini.GreaterThan(decimal.NewFromFloat(0.2)) {
		t.Errorf("expected gemini weight to rise above 0.2 after a matching trade, got %s", active.Gemini)
	}

	sum := active.Claude.Add(active.GPT4o).Add(active.Gemini)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Errorf("expected weights to renormalize to 1, got sum=%s", sum)
	}
}

func TestUpdaterAlphaNeverFloorsBelowEpsilon(t *testing.T) {
	path := writeDoc(t, types.WeightSet{
		Claude: decimal.NewFromFloat(0.4),
		GPT4o:  decimal.NewFromFloat(0.4),
		Gemini: decimal.NewFromFloat(0.2),
		K:      decimal.NewFromFloat(1.5),
	})
	store, err := weights.Load(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer store.Close()

	updater := weights.NewUpdater(zap.NewNop(), store)

	for i := 0; i < 50; i++ {
		err := updater.Observe(context.Background(), []weights.Outcome{
			{Provider: "claude", MatchedTrade: true, RMultiple: decimal.NewFromFloat(3.0)},
			{Provider: "gpt4o", MatchedTrade: true, RMultiple: decimal.NewFromFloat(3.0)},
		})
		if err != nil {
			t.Fatalf("Observe iteration %d: %v", i, err)
		}
	}

	alpha := updater.Alpha()
	if alpha["gemini"].LessThan(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected gemini's alpha to stay floored at epsilon, got %s", alpha["gemini"])
	}
}
