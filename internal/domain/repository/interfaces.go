package repository

import (
	"context"
	"time"

	"KHunter/internal/domain/models"
)

// SignalStream is the push-based condition-screening feed. Delivery is
// at-least-once, unordered across condition names, and may duplicate events.
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, conditions []string) error
	Read(ctx context.Context) (<-chan *models.Signal, <-chan error)
	Close() error
	IsConnected() bool
}

// Broker is the request/response execution provider.
type Broker interface {
	// Authenticate issues or refreshes the access credential and returns
	// its expiry.
	Authenticate(ctx context.Context) (time.Time, error)
	// TokenExpiry returns the expiry of the currently held credential,
	// zero if none was issued yet.
	TokenExpiry() time.Time
	GetPrice(ctx context.Context, stockCode string) (int64, error)
	GetBalance(ctx context.Context) (*models.Balance, error)
	SubmitOrder(ctx context.Context, side models.OrderSide, stockCode string, quantity, price int64, orderType models.OrderType) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// BlacklistStore is the operator-managed exclusion set. The core only reads.
type BlacklistStore interface {
	Load(ctx context.Context) ([]string, error)
}

// Recorder persists trading decisions for later analysis. Failures must never
// break the trading path.
type Recorder interface {
	RecordSignal(ctx context.Context, s *models.SignalRecord) error
	RecordTrade(ctx context.Context, t *models.TradeRecord) error
	Health(ctx context.Context) error
	Close() error
}

// Notifier accepts best-effort human-readable events without blocking.
type Notifier interface {
	Notify(level models.NotificationLevel, title, body string)
}

// Metrics records operational measurements.
type Metrics interface {
	RecordSignal(event, condition string)
	RecordReject(reason string)
	RecordOrder(side, result string)
	RecordQueueDepth(n int)
	RecordRateLimitWait(provider string, seconds float64)
	RecordHoldings(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
