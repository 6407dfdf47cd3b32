package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType tags the variant of a persisted Event.
type EventType string

const (
	EventOrderPlaced        EventType = "OrderPlaced"
	EventExecutionReceived  EventType = "ExecutionReceived"
	EventOrderStatusChanged EventType = "OrderStatusChanged"
	EventRegimeShifted      EventType = "RegimeShifted"
	EventRiskLimitBreached  EventType = "RiskLimitBreached"
	EventSessionLocked      EventType = "SessionLocked"
	EventSignalReceived     EventType = "SignalReceived"
	EventOutcomeRecorded    EventType = "OutcomeRecorded"
	EventSessionFlattened   EventType = "SessionFlattened"
	EventExitPlanChanged    EventType = "ExitPlanChanged"
)

// BridgeEvent is the canonical append-only event-store record.
//
// sequence_id is assigned by the store on append and is strictly
// increasing with no gaps; replaying events in sequence order must
// reproduce any prior read-model state.
type BridgeEvent struct {
	SequenceID int64           `json:"sequenceId"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    []byte          `json:"payload"`
}

// BridgeOrderStatus enumerates read-model order states.
type BridgeOrderStatus string

const (
	BridgeOrderSubmitted BridgeOrderStatus = "SUBMITTED"
	BridgeOrderPartial   BridgeOrderStatus = "PARTIAL"
	BridgeOrderFilled    BridgeOrderStatus = "FILLED"
	BridgeOrderCancelled BridgeOrderStatus = "CANCELLED"
	BridgeOrderRejected  BridgeOrderStatus = "REJECTED"
)

// BridgeSide is BUY or SELL, spelled per spec.md section 3.
type BridgeSide string

const (
	SideBuy  BridgeSide = "BUY"
	SideSell BridgeSide = "SELL"
)

// BridgeOrder is the order read model, keyed by OrderID.
type BridgeOrder struct {
	OrderID             string            `json:"orderId"`
	Symbol              string            `json:"symbol"`
	Side                BridgeSide        `json:"side"`
	OriginalQty         decimal.Decimal   `json:"originalQty"`
	FilledQty           decimal.Decimal   `json:"filledQty"`
	AvgPrice            decimal.Decimal   `json:"avgPrice"`
	Status              BridgeOrderStatus `json:"status"`
	LastUpdated         time.Time         `json:"lastUpdated"`
	ParentCorrelationID string            `json:"parentCorrelationId,omitempty"`
	OCAGroup            string            `json:"ocaGroup,omitempty"`
}

// BridgePosition is the position read model, keyed by symbol.
//
// SignedQty is positive for long, negative for short, zero for flat.
type BridgePosition struct {
	Symbol        string          `json:"symbol"`
	SignedQty     decimal.Decimal `json:"signedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	MFE           decimal.Decimal `json:"mfe"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ExitPlanState is the bracket/exit-plan state machine.
type ExitPlanState string

const (
	ExitPlanDraft      ExitPlanState = "draft"
	ExitPlanActive     ExitPlanState = "active"
	ExitPlanProtecting ExitPlanState = "protecting"
	ExitPlanScaling    ExitPlanState = "scaling"
	ExitPlanExited     ExitPlanState = "exited"
	ExitPlanCancelled  ExitPlanState = "cancelled"
)

// OverrideReason enumerates why an exit-plan field was overridden.
type OverrideReason string

const (
	ReasonRevenge        OverrideReason = "revenge"
	ReasonTooEarly        OverrideReason = "too_early"
	ReasonTooLate         OverrideReason = "too_late"
	ReasonFreeze          OverrideReason = "freeze"
	ReasonTilt            OverrideReason = "tilt"
	ReasonNews            OverrideReason = "news"
	ReasonTechnical       OverrideReason = "technical"
	ReasonSizing          OverrideReason = "sizing"
	ReasonManualOverride  OverrideReason = "manual_override"
	ReasonSystemError     OverrideReason = "system_error"
)

// TPRung is one rung of a take-profit ladder.
type TPRung struct {
	Label       string          `json:"label"`
	Price       decimal.Decimal `json:"price"`
	QtyFraction decimal.Decimal `json:"qtyFraction"`
}

// RunnerPolicy describes how the residual runner is managed post-protect.
type RunnerPolicy struct {
	TrailPct         decimal.Decimal `json:"trailPct,omitempty"`
	ATRMultiple      decimal.Decimal `json:"atrMultiple,omitempty"`
	TimeStop         *time.Duration  `json:"timeStop,omitempty"`
	BreakevenTrail   bool            `json:"breakevenTrail"`
}

// ExitOverride is one append-only log entry for an exit plan field change.
type ExitOverride struct {
	Field     string         `json:"field"`
	OldValue  string         `json:"oldValue"`
	NewValue  string         `json:"newValue"`
	Reason    OverrideReason `json:"reason"`
	Notes     string         `json:"notes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExitPlan is one per bracket.
type ExitPlan struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	Symbol        string          `json:"symbol"`
	State         ExitPlanState   `json:"state"`
	HardStop      decimal.Decimal `json:"hardStop"`
	TPLadder      []TPRung        `json:"tpLadder"`
	Runner        RunnerPolicy    `json:"runner"`
	ProtectRMult  decimal.Decimal `json:"protectRMultiple"`
	GivebackGuard decimal.Decimal `json:"givebackGuard"`
	Overrides     []ExitOverride  `json:"overrides"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ModelOutput is one LLM provider's raw evaluation.
type ModelOutput struct {
	Provider        string          `json:"provider"`
	Score           decimal.Decimal `json:"score"`
	ShouldTrade     *bool           `json:"shouldTrade"`
	Confidence      decimal.Decimal `json:"confidence"`
	Reasoning       string          `json:"reasoning"`
	Compliant       bool            `json:"compliant"`
	ComplianceFail  string          `json:"complianceFail,omitempty"`
	LatencyMS       int64           `json:"latencyMs"`
}

// Evaluation is one per trade candidate scored by the ensemble.
type Evaluation struct {
	EvaluationID        string                 `json:"evaluationId"`
	Symbol               string                 `json:"symbol"`
	Direction            BridgeSide             `json:"direction"`
	FeatureVector        map[string]interface{} `json:"featureVector"`
	ModelOutputs         []ModelOutput          `json:"modelOutputs"`
	EnsembleScore        decimal.Decimal        `json:"ensembleScore"`
	EnsembleConfidence   decimal.Decimal        `json:"ensembleConfidence"`
	EnsembleShouldTrade  bool                   `json:"ensembleShouldTrade"`
	PromptHash           string                 `json:"promptHash"`
	CreatedAt            time.Time              `json:"createdAt"`
}

// SessionState is the risk-session lifecycle.
type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionLocked SessionState = "locked"
	SessionClosed SessionState = "closed"
)

// RiskLimitsConfig holds the floors configured for a trading session.
type RiskLimitsConfig struct {
	MaxPositionPct       decimal.Decimal `json:"maxPositionPct"`
	MaxDailyLossPct      decimal.Decimal `json:"maxDailyLossPct"`
	MaxConcentrationPct  decimal.Decimal `json:"maxConcentrationPct"`
	VolatilityScalar     decimal.Decimal `json:"volatilityScalar"`
	MaxDailyTrades       int             `json:"maxDailyTrades"`
	ConsecutiveLossLimit int             `json:"consecutiveLossLimit"`
}

// Session is process-wide risk-session state.
type Session struct {
	Date              string           `json:"date"`
	RealizedPnL       decimal.Decimal  `json:"realizedPnl"`
	TradeCount        int              `json:"tradeCount"`
	ConsecutiveLosses int              `json:"consecutiveLosses"`
	Locked            bool             `json:"locked"`
	LockReason        string           `json:"lockReason,omitempty"`
	Limits            RiskLimitsConfig `json:"limits"`
	FiredFlattenToday bool             `json:"firedFlattenToday"`
}

// Regime is the coarse volatility/trend classification used to select
// ensemble weight overrides.
type Regime string

const (
	RegimeLow       Regime = "low"
	RegimeNormal    Regime = "normal"
	RegimeHigh      Regime = "high"
	RegimeTrending  Regime = "trending"
	RegimeChop      Regime = "chop"
	RegimeVolatile  Regime = "volatile"
)

// WeightSet is the ensemble's active model weights.
type WeightSet struct {
	Claude         decimal.Decimal            `json:"claude"`
	GPT4o          decimal.Decimal            `json:"gpt4o"`
	Gemini         decimal.Decimal            `json:"gemini"`
	K              decimal.Decimal            `json:"k"`
	RegimeOverrides map[Regime]WeightOverride `json:"regimeOverrides,omitempty"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
	SampleSize     int                        `json:"sampleSize"`
	Source         string                     `json:"source"`
}

// WeightOverride is a per-regime weight substitution.
type WeightOverride struct {
	Claude decimal.Decimal `json:"claude"`
	GPT4o  decimal.Decimal `json:"gpt4o"`
	Gemini decimal.Decimal `json:"gemini"`
	K      decimal.Decimal `json:"k"`
}

// SubscriptionKind enumerates broker-gateway subscription varieties.
type SubscriptionKind string

const (
	SubRealTimeBars    SubscriptionKind = "realTimeBars"
	SubAccountUpdates  SubscriptionKind = "accountUpdates"
	SubMarketDepth     SubscriptionKind = "marketDepth"
	SubQuoteSnapshot   SubscriptionKind = "quoteSnapshot"
)

// BridgeSubscription tracks one live subscription and its buffered data.
type BridgeSubscription struct {
	ID      string           `json:"id"`
	ReqID   int64            `json:"reqId"`
	Kind    SubscriptionKind `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
	Buffer  []OHLCV          `json:"-"`
}

// OutcomeRecord ties a completed trade back to its evaluation for the
// Dirichlet weight updater.
type OutcomeRecord struct {
	EvaluationID    string          `json:"evaluationId"`
	Symbol          string          `json:"symbol"`
	Regime          Regime          `json:"regime"`
	ActualDirection BridgeSide      `json:"actualDirection"`
	RMultiple       decimal.Decimal `json:"rMultiple"`
	RecordedAt      time.Time       `json:"recordedAt"`
}
