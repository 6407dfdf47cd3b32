package weights

import (
	"context"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Dirichlet posterior update constants, per spec.md 4.6.
var (
	decayFactor  = decimal.NewFromFloat(0.99)
	epsilonFloor = decimal.NewFromFloat(0.1)
	maxGain      = decimal.NewFromFloat(5.0)
)

// Updater tracks per-model Dirichlet concentration parameters (alpha)
// and derives the expected weight of each model as alpha_i / sum(alpha).
// It is the online-learning counterpart to Store: Store publishes
// snapshots, Updater decides what the next snapshot should be.
type Updater struct {
	logger *zap.Logger
	store  *Store

	alpha map[string]decimal.Decimal
}

// NewUpdater seeds the updater from the store's current snapshot,
// converting weights directly into initial alpha values.
func NewUpdater(logger *zap.Logger, store *Store) *Updater {
	snap := store.Active(types.RegimeNormal)
	alpha := map[string]decimal.Decimal{
		"claude": decimalOrFloor(snap.Claude),
		"gpt4o":  decimalOrFloor(snap.GPT4o),
		"gemini": decimalOrFloor(snap.Gemini),
	}
	return &Updater{
		logger: logger.Named("weight-updater"),
		store:  store,
		alpha:  alpha,
	}
}

func decimalOrFloor(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return epsilonFloor
	}
	return d
}

// Outcome is the directional feedback from one closed trade's
// evaluation: each model's directional call and whether it matched the
// realized outcome, scaled by the trade's r_multiple magnitude.
type Outcome struct {
	Provider     string
	MatchedTrade bool
	RMultiple    decimal.Decimal
}

// Observe applies the decay-then-reward update to every known model's
// alpha for one closed trade: alpha_i *= decay for all models, then
// alpha_i += min(|r_multiple|, 5.0) for models whose directional call
// matched the realized trade direction. Every alpha is floored at
// epsilon after decay so no model's influence ever reaches zero —
// a model that has gone cold can still recover if it starts agreeing
// with outcomes again.
func (u *Updater) Observe(ctx context.Context, outcomes []Outcome) error {
	for provider := range u.alpha {
		u.alpha[provider] = u.alpha[provider].Mul(decayFactor)
		if u.alpha[provider].LessThan(epsilonFloor) {
			u.alpha[provider] = epsilonFloor
		}
	}

	gain := decimal.Zero
	for _, o := range outcomes {
		if _, known := u.alpha[o.Provider]; !known {
			continue
		}
		if !o.MatchedTrade {
			continue
		}
		gain = decimal.Min(o.RMultiple.Abs(), maxGain)
		u.alpha[o.Provider] = u.alpha[o.Provider].Add(gain)
	}

	return u.publish(ctx)
}

func (u *Updater) publish(ctx context.Context) error {
	sum := decimal.Zero
	for _, a := range u.alpha {
		sum = sum.Add(a)
	}
	if sum.IsZero() {
		return nil
	}

	ws := types.WeightSet{
		Claude:     u.alpha["claude"].Div(sum),
		GPT4o:      u.alpha["gpt4o"].Div(sum),
		Gemini:     u.alpha["gemini"].Div(sum),
		K:          u.store.Active(types.RegimeNormal).K,
		SampleSize: u.store.Active(types.RegimeNormal).SampleSize + 1,
		Source:     "dirichlet-posterior",
	}
	return u.store.Write(ws)
}

// Alpha returns a copy of the current concentration parameters, for
// inspection (cmd/server's "weights show" subcommand).
func (u *Updater) Alpha() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(u.alpha))
	for k, v := range u.alpha {
		out[k] = v
	}
	return out
}
