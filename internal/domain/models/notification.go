package models

import "time"

// NotificationLevel classifies an event for downstream routing/coloring.
type NotificationLevel string

const (
	NotifyInfo  NotificationLevel = "info"
	NotifyWarn  NotificationLevel = "warn"
	NotifyError NotificationLevel = "error"
)

// Notification is a preformatted, human-readable event destined for an
// external sink. Delivery is best-effort.
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	CreatedAt time.Time         `json:"created_at"`
}

// TradeRecord is a persisted execution decision, written after a worker
// submits an order. Best-effort bookkeeping, not position durability.
type TradeRecord struct {
	OrderID   string
	Side      OrderSide
	StockCode string
	StockName string
	Quantity  int64
	Price     int64
	Reason    string
	At        time.Time
}

// SignalRecord is a persisted accepted entry signal.
type SignalRecord struct {
	StockCode     string
	ConditionName string
	Quantity      int64
	At            time.Time
}
