package models

import "time"

// SignalEvent is the kind of screening event delivered by the signal source.
type SignalEvent string

const (
	SignalEntered SignalEvent = "ENTERED"
	SignalLeft    SignalEvent = "LEFT"
)

// Signal is a single condition-screening event for a stock.
// Delivery is at-least-once and unordered across condition names.
type Signal struct {
	StockCode     string      `json:"stock_code"`
	StockName     string      `json:"stock_name,omitempty"`
	Event         SignalEvent `json:"event"`
	ConditionName string      `json:"condition_name"`
	ReceivedAt    time.Time   `json:"received_at"`
}

// CombineMode is the rule for turning condition memberships into one entry decision.
type CombineMode string

const (
	CombineAnd        CombineMode = "AND"
	CombineOr         CombineMode = "OR"
	CombineSequential CombineMode = "SEQUENTIAL"
)

// RejectReason explains why the filter engine declined a signal.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectAlreadyHeld   RejectReason = "already_held"
	RejectBlacklisted   RejectReason = "blacklisted"
	RejectMaxHoldings   RejectReason = "max_holdings"
	RejectMaxExposure   RejectReason = "max_exposure"
	RejectCooldown      RejectReason = "cooldown"
	RejectCombineMode   RejectReason = "combine_mode"
	RejectBuysHalted    RejectReason = "buys_halted"
	RejectMarketClosed  RejectReason = "market_closed"
	RejectZeroQuantity  RejectReason = "zero_quantity"
	RejectLeftEvent     RejectReason = "left_event"
	RejectDuplicateSet  RejectReason = "duplicate_member"
)
