package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fakeBroker struct {
	mu        sync.Mutex
	submitted []models.Intent
	fail      bool
}

func (b *fakeBroker) Authenticate(context.Context) (time.Time, error) { return time.Time{}, nil }
func (b *fakeBroker) TokenExpiry() time.Time                          { return time.Time{} }
func (b *fakeBroker) GetPrice(context.Context, string) (int64, error) { return 0, nil }
func (b *fakeBroker) GetBalance(context.Context) (*models.Balance, error) {
	return &models.Balance{}, nil
}
func (b *fakeBroker) CancelOrder(context.Context, string) error { return nil }

func (b *fakeBroker) SubmitOrder(_ context.Context, side models.OrderSide, code string, qty, price int64, ot models.OrderType) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("provider unavailable")
	}
	b.submitted = append(b.submitted, models.Intent{Side: side, StockCode: code, Quantity: qty, Price: price, OrderType: ot})
	return "ORD-1", nil
}

func (b *fakeBroker) orders() []models.Intent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Intent(nil), b.submitted...)
}

type fakeSink struct {
	mu     sync.Mutex
	orders []models.PendingOrder
}

func (s *fakeSink) Add(po models.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, po)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakeHalt struct{ halted bool }

func (h *fakeHalt) BuysHalted() bool { return h.halted }

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(_ models.NotificationLevel, title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)        {}
func (nopMetrics) RecordReject(string)                {}
func (nopMetrics) RecordOrder(string, string)         {}
func (nopMetrics) RecordQueueDepth(int)               {}
func (nopMetrics) RecordRateLimitWait(string, float64) {}
func (nopMetrics) RecordHoldings(int)                 {}
func (nopMetrics) RecordError(string)                 {}
func (nopMetrics) RecordLatency(string, float64)      {}

func buyIntent(code string) models.Intent {
	return models.Intent{
		Side:      models.SideBuy,
		StockCode: code,
		Quantity:  10,
		Price:     50_000,
		OrderType: models.OrderMarket,
		Reason:    "급등주",
		CreatedAt: time.Now(),
	}
}

func TestTryEnqueueFullDrops(t *testing.T) {
	q := NewQueue(2)
	if err := q.TryEnqueue(buyIntent("005930")); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := q.TryEnqueue(buyIntent("000660")); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := q.TryEnqueue(buyIntent("035720")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", q.Depth())
	}
}

func TestTryEnqueueAfterClose(t *testing.T) {
	q := NewQueue(4)
	q.Close()
	if err := q.TryEnqueue(buyIntent("005930")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestPoolSubmitsAndRegisters(t *testing.T) {
	q := NewQueue(8)
	broker := &fakeBroker{}
	sink := &fakeSink{}
	pool := NewPool(q, broker, sink, &fakeHalt{}, &fakeNotifier{}, nopMetrics{}, testLogger(t), 2)

	for _, code := range []string{"005930", "000660", "035720"} {
		if err := q.TryEnqueue(buyIntent(code)); err != nil {
			t.Fatalf("enqueue %s: %v", code, err)
		}
	}
	q.Close()

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(broker.orders()); got != 3 {
		t.Fatalf("submitted %d orders, want 3", got)
	}
	if sink.count() != 3 {
		t.Fatalf("registered %d pending orders, want 3", sink.count())
	}
}

func TestPoolHaltSuppressesBuysNotSells(t *testing.T) {
	q := NewQueue(8)
	broker := &fakeBroker{}
	sink := &fakeSink{}
	pool := NewPool(q, broker, sink, &fakeHalt{halted: true}, &fakeNotifier{}, nopMetrics{}, testLogger(t), 1)

	q.TryEnqueue(buyIntent("005930"))
	sell := buyIntent("000660")
	sell.Side = models.SideSell
	sell.Reason = "take_profit"
	q.TryEnqueue(sell)
	q.Close()

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	orders := broker.orders()
	if len(orders) != 1 {
		t.Fatalf("submitted %d orders, want 1 (sell only)", len(orders))
	}
	if orders[0].Side != models.SideSell {
		t.Fatalf("surviving order side = %s, want sell", orders[0].Side)
	}
}

func TestPoolSubmitFailureNotifies(t *testing.T) {
	q := NewQueue(4)
	broker := &fakeBroker{fail: true}
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	pool := NewPool(q, broker, sink, &fakeHalt{}, notifier, nopMetrics{}, testLogger(t), 1)

	q.TryEnqueue(buyIntent("005930"))
	q.Close()

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("failed submit must not register a pending order")
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one failure notification, got %d", notifier.count())
	}
}
