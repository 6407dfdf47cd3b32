// Package signalingest parses inbound alert-stream webhooks (the
// TradingView-style alert shape the upstream analytics layer posts),
// deduplicates repeat fires within a short window, persists each
// accepted alert as a SignalReceived event, and optionally triggers an
// ensemble evaluation for it.
package signalingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
)

// Alert is a normalized inbound signal, regardless of wire format.
type Alert struct {
	Symbol     string                 `json:"symbol"`
	Direction  types.BridgeSide       `json:"direction"`
	Price      decimal.Decimal        `json:"price"`
	StopLoss   decimal.Decimal        `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal        `json:"takeProfit,omitempty"`
	Source     string                 `json:"source"`
	Strategy   string                 `json:"strategy,omitempty"`
	Comment    string                 `json:"comment,omitempty"`
	ReceivedAt time.Time              `json:"receivedAt"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// dedupKey identifies alerts that are "the same signal" for the
// purposes of the dedup window: same symbol, same direction. Price
// is intentionally excluded — a strategy re-firing on every tick at a
// slightly different price is still the same alert.
func (a Alert) dedupKey() string {
	return a.Symbol + "|" + string(a.Direction)
}

// tradingViewPayload mirrors the webhook body TradingView (or any
// compatible alert source) posts.
type tradingViewPayload struct {
	Ticker       string  `json:"ticker"`
	Action       string  `json:"action"`
	Price        float64 `json:"price"`
	Exchange     string  `json:"exchange"`
	Interval     string  `json:"interval"`
	Strategy     string  `json:"strategy"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Comment      string  `json:"comment"`
}

// ParseJSON parses a TradingView-style JSON alert body into an Alert.
// Falls back to ParsePlainText if the body does not look like JSON.
func ParseJSON(body []byte) (Alert, error) {
	var tv tradingViewPayload
	if err := json.Unmarshal(body, &tv); err == nil && tv.Ticker != "" {
		return Alert{
			Symbol:     normalizeSymbol(tv.Ticker),
			Direction:  parseDirection(tv.Action),
			Price:      decimal.NewFromFloat(tv.Price),
			StopLoss:   decimal.NewFromFloat(tv.StopLoss),
			TakeProfit: decimal.NewFromFloat(tv.TakeProfit),
			Source:     "tradingview",
			Strategy:   tv.Strategy,
			Comment:    tv.Comment,
			ReceivedAt: time.Now().UTC(),
			Metadata: map[string]interface{}{
				"exchange": tv.Exchange,
				"interval": tv.Interval,
			},
		}, nil
	}
	return ParsePlainText(string(body))
}

var (
	symbolRe = regexp.MustCompile(`([A-Z]{2,10})/?([A-Z]{3,4})?`)
	priceRe  = regexp.MustCompile(`(?:PRICE|@|AT)\s*[:=]?\s*\$?(\d+\.?\d*)`)
	stopRe   = regexp.MustCompile(`(?:SL|STOP|STOPLOSS)\s*[:=]?\s*\$?(\d+\.?\d*)`)
	targetRe = regexp.MustCompile(`(?:TP|TARGET|TAKEPROFIT)\s*[:=]?\s*\$?(\d+\.?\d*)`)
)

// ParsePlainText parses a free-form alert string, for sources that
// post plain text rather than JSON.
func ParsePlainText(text string) (Alert, error) {
	upper := strings.ToUpper(strings.TrimSpace(text))

	match := symbolRe.FindStringSubmatch(upper)
	if len(match) < 2 || match[1] == "" {
		return Alert{}, fmt.Errorf("signalingest: could not extract symbol from alert text")
	}
	symbol := match[1]
	if len(match) > 2 && match[2] != "" {
		symbol = match[1] + "/" + match[2]
	}

	direction := types.BridgeSide("")
	switch {
	case strings.Contains(upper, "BUY") || strings.Contains(upper, "LONG"):
		direction = types.SideBuy
	case strings.Contains(upper, "SELL") || strings.Contains(upper, "SHORT"):
		direction = types.SideSell
	default:
		return Alert{}, fmt.Errorf("signalingest: could not determine direction from alert text")
	}

	price := decimalFromMatch(priceRe, upper)
	stop := decimalFromMatch(stopRe, upper)
	target := decimalFromMatch(targetRe, upper)

	return Alert{
		Symbol:     symbol,
		Direction:  direction,
		Price:      price,
		StopLoss:   stop,
		TakeProfit: target,
		Source:     "plaintext",
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func decimalFromMatch(re *regexp.Regexp, text string) decimal.Decimal {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDirection(action string) types.BridgeSide {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy", "long":
		return types.SideBuy
	case "sell", "short":
		return types.SideSell
	default:
		return types.BridgeSide("")
	}
}

func normalizeSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
