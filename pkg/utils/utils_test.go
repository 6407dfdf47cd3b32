package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGenerateIDAddsPrefix(t *testing.T) {
	id := GenerateID("eval")
	if !strings.HasPrefix(id, "eval_") {
		t.Errorf("expected eval_ prefix, got %q", id)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	a := GenerateID("")
	b := GenerateID("")
	if a == b {
		t.Error("expected two generated ids to differ")
	}
}

func TestClampDecimal(t *testing.T) {
	lo, hi := decimal.NewFromInt(0), decimal.NewFromInt(10)
	if got := ClampDecimal(decimal.NewFromInt(-5), lo, hi); !got.Equal(lo) {
		t.Errorf("expected clamp to floor at %s, got %s", lo, got)
	}
	if got := ClampDecimal(decimal.NewFromInt(15), lo, hi); !got.Equal(hi) {
		t.Errorf("expected clamp to ceiling at %s, got %s", hi, got)
	}
	mid := decimal.NewFromInt(5)
	if got := ClampDecimal(mid, lo, hi); !got.Equal(mid) {
		t.Errorf("expected in-range value unchanged, got %s", got)
	}
}

func TestCalculateMean(t *testing.T) {
	values := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3)}
	mean := CalculateMean(values)
	if !mean.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected mean 2, got %s", mean)
	}
}
