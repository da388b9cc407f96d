package models

import "time"

// Holding is an open position. Created on a confirmed buy fill (via balance
// reconciliation), mutated by balance polls and exit evaluation, destroyed on
// a confirmed full sell. Pyramid count and trailing state live here rather
// than in side maps so they cannot drift from the position itself.
type Holding struct {
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name,omitempty"`
	Quantity     int64     `json:"quantity"`
	AveragePrice int64     `json:"average_price"`
	CurrentPrice int64     `json:"current_price"`
	EnteredAt    time.Time `json:"entered_at"`
	EntryReason  string    `json:"entry_reason,omitempty"`

	PyramidCount int `json:"pyramid_count"`

	// Trailing-stop state machine. Once armed it never returns to idle
	// for this holding's lifetime.
	TrailingArmed bool    `json:"trailing_armed"`
	HighWaterPct  float64 `json:"high_water_pct"`

	// Exiting marks that a sell intent has been enqueued, so exit
	// evaluation does not fire twice for the same position.
	Exiting bool `json:"exiting"`
}

// UnrealizedPct returns the unrealized gain/loss percent against the average
// buy price.
func (h *Holding) UnrealizedPct() float64 {
	if h.AveragePrice <= 0 {
		return 0
	}
	return float64(h.CurrentPrice-h.AveragePrice) / float64(h.AveragePrice) * 100
}

// Value returns the current valuation of the position.
func (h *Holding) Value() int64 {
	return h.CurrentPrice * h.Quantity
}

// ProfitLoss returns the unrealized profit/loss amount.
func (h *Holding) ProfitLoss() int64 {
	return (h.CurrentPrice - h.AveragePrice) * h.Quantity
}
