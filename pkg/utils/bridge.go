package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// RMultiple computes realized P&L per share divided by initial risk
// per share, sign-adjusted for side. Centralized here per the
// projection's single point of computation; callers never
// recompute it downstream.
func RMultiple(entry, stop, exit decimal.Decimal, isLong bool) decimal.Decimal {
	riskPerShare := entry.Sub(stop).Abs()
	if riskPerShare.IsZero() {
		return decimal.Zero
	}
	if isLong {
		return exit.Sub(entry).Div(riskPerShare)
	}
	return entry.Sub(exit).Div(riskPerShare)
}

// GivebackRatio is (MFE - realized) / MFE, the fraction of peak
// profit conceded before exit. Returns zero when MFE is zero or
// negative (nothing to give back).
func GivebackRatio(mfe, realized decimal.Decimal) decimal.Decimal {
	if mfe.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return mfe.Sub(realized).Div(mfe)
}

// FormatCurrency formats a decimal as a dollar amount. The permissive
// variant: a nil or zero-value decimal formats as "$0.00" rather than
// erroring.
func FormatCurrency(d decimal.Decimal) string {
	if d.Equal(decimal.Decimal{}) {
		return "$0.00"
	}
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	if neg {
		return "-$" + s
	}
	return "$" + s
}

// PromptHash computes a stable hash of a feature vector for ensemble
// drift detection. Keys are sorted before hashing so the hash is
// independent of map iteration order.
func PromptHash(featureVector map[string]interface{}) string {
	keys := make([]string, 0, len(featureVector))
	for k := range featureVector {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		v, _ := json.Marshal(featureVector[k])
		sb.Write(v)
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// WeightedMean computes Σ(weight_i × value_i) / Σ(weight_i) over the
// given slices, skipping pairs whose weight is zero. Returns zero when
// the total weight is zero.
func WeightedMean(values, weights []decimal.Decimal) decimal.Decimal {
	num := decimal.Zero
	den := decimal.Zero
	for i := range values {
		w := weights[i]
		if w.IsZero() {
			continue
		}
		num = num.Add(w.Mul(values[i]))
		den = den.Add(w)
	}
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}
