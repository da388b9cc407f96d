package models

import "time"

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the execution style requested from the provider.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the local lifecycle of a dispatched order.
type OrderStatus string

const (
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderTimedOut  OrderStatus = "TIMED_OUT"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderTimedOut
}

// Intent is a decided-but-not-yet-executed order. Buy intents come from the
// filter engine, sell intents from exit evaluation or the ops API.
type Intent struct {
	Side      OrderSide
	StockCode string
	StockName string
	Quantity  int64
	Price     int64 // 0 for market orders
	OrderType OrderType
	Reason    string
	CreatedAt time.Time
}

// PendingOrder tracks a submitted order until balance reconciliation or the
// unfilled sweep resolves it.
type PendingOrder struct {
	OrderID     string
	Side        OrderSide
	StockCode   string
	Quantity    int64
	Price       int64
	OrderType   OrderType
	Reason      string
	SubmittedAt time.Time
	Status      OrderStatus
}

// Balance is a point-in-time account snapshot from the execution provider.
type Balance struct {
	TotalValue    int64
	AvailableCash int64
	Positions     []BalancePosition
}

// BalancePosition is one holding as reported by the provider.
type BalancePosition struct {
	StockCode    string
	StockName    string
	Quantity     int64
	AveragePrice int64
	CurrentPrice int64
}
