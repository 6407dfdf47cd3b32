package weights_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/atlas-bridge/internal/weights"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func writeDoc(t *testing.T, ws types.WeightSet) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.json")
	data := []byte(`{
		"claude": "` + ws.Claude.String() + `",
		"gpt4o": "` + ws.GPT4o.String() + `",
		"gemini": "` + ws.Gemini.String() + `",
		"k": "` + ws.K.String() + `"
	}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestLoadRejectsUnbalancedWeights(t *testing.T) {
	path := writeDoc(t, types.WeightSet{
		Claude: decimal.NewFromFloat(0.5),
		GPT4o:  decimal.NewFromFloat(0.5),
		Gemini: decimal.NewFromFloat(0.5),
		K:      decimal.NewFromFloat(1.5),
	})

	if _, err := weights.Load(zap.NewNop(), path); err == nil {
		t.Fatal("expected validation error for weights summing to 1.5")
	}
}

func TestLoadAndActive(t *testing.T) {
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

	active := store.Active(types.RegimeNormal)
	if !active.Claude.Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("expected claude weight 0.4, got %s", active.Claude)
	}
}

func TestWriteRejectsUnbalancedWeights(t *testing.T) {
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

	err = store.Write(types.WeightSet{
		Claude: decimal.NewFromFloat(0.9),
		GPT4o:  decimal.NewFromFloat(0.9),
		Gemini: decimal.NewFromFloat(0.9),
	})
	if err == nil {
		t.Fatal("expected write to reject weights that do not sum to 1")
	}
}

func TestActiveAppliesRegimeOverride(t *testing.T) {
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

	err = store.Write(types.WeightSet{
		Claude: decimal.NewFromFloat(0.4),
		GPT4o:  decimal.NewFromFloat(0.4),
		Gemini: decimal.NewFromFloat(0.2),
		K:      decimal.NewFromFloat(1.5),
		RegimeOverrides: map[types.Regime]types.WeightOverride{
			types.RegimeVolatile: {
				Claude: decimal.NewFromFloat(0.2),
				GPT4o:  decimal.NewFromFloat(0.2),
				Gemini: decimal.NewFromFloat(0.6),
				K:      decimal.NewFromFloat(2.0),
			},
		},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	active := store.Active(types.RegimeVolatile)
	if !active.Gemini.Equal(decimal.NewFromFloat(0.6)) {
		t.Errorf("expected volatile-regime override to apply, got gemini=%s", active.Gemini)
	}

	normal := store.Active(types.RegimeNormal)
	if !normal.Gemini.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("expected normal regime to keep base weight, got gemini=%s", normal.Gemini)
	}
}
