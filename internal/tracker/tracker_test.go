package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/pkg/logger"
)

type fakeBroker struct {
	mu        sync.Mutex
	bal       models.Balance
	canceled  []string
	cancelErr error
}

func (b *fakeBroker) Authenticate(context.Context) (time.Time, error) { return time.Time{}, nil }
func (b *fakeBroker) TokenExpiry() time.Time                          { return time.Time{} }
func (b *fakeBroker) GetPrice(context.Context, string) (int64, error) { return 0, nil }
func (b *fakeBroker) SubmitOrder(context.Context, models.OrderSide, string, int64, int64, models.OrderType) (string, error) {
	return "", nil
}

func (b *fakeBroker) GetBalance(context.Context) (*models.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.bal
	bal.Positions = append([]models.BalancePosition(nil), b.bal.Positions...)
	return &bal, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.canceled = append(b.canceled, orderID)
	return nil
}

func (b *fakeBroker) setPositions(total, cash int64, positions ...models.BalancePosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bal = models.Balance{TotalValue: total, AvailableCash: cash, Positions: positions}
}

type fakeQueue struct {
	mu      sync.Mutex
	intents []models.Intent
}

func (q *fakeQueue) TryEnqueue(intent models.Intent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, intent)
	return nil
}

func (q *fakeQueue) all() []models.Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Intent(nil), q.intents...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(_ models.NotificationLevel, title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)         {}
func (nopMetrics) RecordReject(string)                 {}
func (nopMetrics) RecordOrder(string, string)          {}
func (nopMetrics) RecordQueueDepth(int)                {}
func (nopMetrics) RecordRateLimitWait(string, float64) {}
func (nopMetrics) RecordHoldings(int)                  {}
func (nopMetrics) RecordError(string)                  {}
func (nopMetrics) RecordLatency(string, float64)       {}

type fixture struct {
	tracker  *Tracker
	broker   *fakeBroker
	queue    *fakeQueue
	notifier *fakeNotifier
	clock    *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.Local)
	f := &fixture{
		broker:   &fakeBroker{},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		clock:    &now,
	}
	f.tracker = New(cfg, f.broker, f.queue, f.notifier, nopMetrics{}, nil, log,
		WithClock(func() time.Time { return *f.clock }),
	)
	return f
}

func defaultConfig() Config {
	return Config{
		Rules: ExitRules{
			TakeProfitPct:   10,
			StopLossPct:     5,
			TrailingEnabled: true,
			TrailingTrigger: 2,
			TrailingRate:    1,
		},
		UnfilledTimeout:   time.Minute,
		SweepInterval:     5 * time.Second,
		ReconcileInterval: time.Second,
	}
}

func position(code string, qty, avg, cur int64) models.BalancePosition {
	return models.BalancePosition{StockCode: code, StockName: "종목" + code, Quantity: qty, AveragePrice: avg, CurrentPrice: cur}
}

func (f *fixture) reconcile(t *testing.T) {
	t.Helper()
	if err := f.tracker.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestReconcileConfirmsBuyFill(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.reconcile(t) // prime with an empty account

	f.tracker.Pending().Add(models.PendingOrder{
		OrderID: "ORD-1", Side: models.SideBuy, StockCode: "005930",
		Quantity: 10, OrderType: models.OrderMarket, Reason: "급등주",
		SubmittedAt: *f.clock, Status: models.OrderSubmitted,
	})

	f.broker.setPositions(1_000_000, 500_000, position("005930", 10, 50_000, 50_000))
	f.reconcile(t)

	if !f.tracker.Book().Has("005930") {
		t.Fatalf("holding not opened after fill")
	}
	if f.tracker.Pending().Count() != 0 {
		t.Fatalf("pending order not resolved")
	}
	if !f.notifier.has("매수 체결") {
		t.Fatalf("missing buy fill notification")
	}
	if total, cash := f.tracker.Balances(); total != 1_000_000 || cash != 500_000 {
		t.Fatalf("balances = %d/%d", total, cash)
	}
}

func TestReconcileConfirmsSellOnClose(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.broker.setPositions(1_000_000, 0, position("005930", 10, 50_000, 50_000))
	f.reconcile(t) // adopt the existing position

	f.tracker.Pending().Add(models.PendingOrder{
		OrderID: "ORD-2", Side: models.SideSell, StockCode: "005930",
		Quantity: 10, OrderType: models.OrderMarket, Reason: "take_profit",
		SubmittedAt: *f.clock, Status: models.OrderSubmitted,
	})

	f.broker.setPositions(1_050_000, 1_050_000)
	f.reconcile(t)

	if f.tracker.Book().Has("005930") {
		t.Fatalf("holding not closed after sell fill")
	}
	if f.tracker.Pending().Count() != 0 {
		t.Fatalf("pending sell not resolved")
	}
	if !f.notifier.has("매도 체결") {
		t.Fatalf("missing sell fill notification")
	}
}

func TestTrailingStopSequence(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 10_000))
	f.reconcile(t)

	// Profit walks 1.0% -> 2.5% -> 3.0% -> 1.8%. Arming happens at 2.5%,
	// the high water rises to 3.0%, and the 1.2 point give-back at 1.8%
	// crosses the 1.0 point trailing rate.
	for _, price := range []int64{10_100, 10_250, 10_300} {
		f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, price))
		f.reconcile(t)
		if n := len(f.queue.all()); n != 0 {
			t.Fatalf("exit fired early at price %d", price)
		}
	}

	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 10_180))
	f.reconcile(t)

	exits := f.queue.all()
	if len(exits) != 1 {
		t.Fatalf("expected one exit, got %d", len(exits))
	}
	if exits[0].Reason != "trailing_stop" || exits[0].Side != models.SideSell {
		t.Fatalf("unexpected exit %+v", exits[0])
	}
	if exits[0].Quantity != 10 || exits[0].OrderType != models.OrderMarket {
		t.Fatalf("exit must sell the full position at market, got %+v", exits[0])
	}
}

func TestTakeProfitExitFiresOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 10_000))
	f.reconcile(t)

	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 11_100))
	f.reconcile(t)
	f.reconcile(t) // still above threshold, must not fire again

	exits := f.queue.all()
	if len(exits) != 1 {
		t.Fatalf("expected exactly one exit, got %d", len(exits))
	}
	if exits[0].Reason != "take_profit" {
		t.Fatalf("reason = %q, want take_profit", exits[0].Reason)
	}
}

func TestStopLossExit(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 10_000))
	f.reconcile(t)

	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 9_400))
	f.reconcile(t)

	exits := f.queue.all()
	if len(exits) != 1 || exits[0].Reason != "stop_loss" {
		t.Fatalf("expected stop_loss exit, got %+v", exits)
	}
}

func TestMaxHoldExit(t *testing.T) {
	cfg := defaultConfig()
	cfg.Rules = ExitRules{MaxHold: 24 * time.Hour}
	f := newFixture(t, cfg)
	f.broker.setPositions(1_000_000, 0, position("005930", 10, 10_000, 10_000))
	f.reconcile(t)

	f.reconcile(t)
	if len(f.queue.all()) != 0 {
		t.Fatalf("max hold fired before the deadline")
	}

	*f.clock = f.clock.Add(25 * time.Hour)
	f.reconcile(t)

	exits := f.queue.all()
	if len(exits) != 1 || exits[0].Reason != "max_hold" {
		t.Fatalf("expected max_hold exit, got %+v", exits)
	}
}

func TestSweepCancelFailureNotifiesAndRetries(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.broker.cancelErr = errors.New("provider unavailable")

	f.tracker.Pending().Add(models.PendingOrder{
		OrderID: "ORD-3", Side: models.SideBuy, StockCode: "000660",
		Quantity: 5, Price: 90_000, OrderType: models.OrderLimit, Reason: "신고가",
		SubmittedAt: *f.clock, Status: models.OrderSubmitted,
	})

	*f.clock = f.clock.Add(2 * time.Minute)
	f.tracker.SweepOnce(context.Background())

	if !f.notifier.has("취소 실패") {
		t.Fatalf("missing cancel failure notification")
	}
	if f.tracker.Pending().Count() != 1 {
		t.Fatalf("order must stay submitted so the next sweep retries")
	}

	// The provider recovers and the next sweep completes the cancel.
	f.broker.cancelErr = nil
	f.tracker.SweepOnce(context.Background())
	if len(f.broker.canceled) != 1 || f.broker.canceled[0] != "ORD-3" {
		t.Fatalf("retry did not cancel, got %v", f.broker.canceled)
	}
	if f.tracker.Pending().Count() != 0 {
		t.Fatalf("canceled order still pending")
	}
}

func TestSweepCancelsAndResubmits(t *testing.T) {
	cfg := defaultConfig()
	cfg.ResubmitAsMarket = true
	f := newFixture(t, cfg)

	f.tracker.Pending().Add(models.PendingOrder{
		OrderID: "ORD-9", Side: models.SideBuy, StockCode: "000660",
		Quantity: 5, Price: 90_000, OrderType: models.OrderLimit, Reason: "신고가",
		SubmittedAt: *f.clock, Status: models.OrderSubmitted,
	})

	f.tracker.SweepOnce(context.Background())
	if len(f.broker.canceled) != 0 {
		t.Fatalf("swept an order inside its timeout")
	}

	*f.clock = f.clock.Add(2 * time.Minute)
	f.tracker.SweepOnce(context.Background())

	if len(f.broker.canceled) != 1 || f.broker.canceled[0] != "ORD-9" {
		t.Fatalf("cancel not issued, got %v", f.broker.canceled)
	}
	if f.tracker.Pending().Count() != 0 {
		t.Fatalf("canceled order still pending")
	}
	if !f.notifier.has("미체결 취소") {
		t.Fatalf("missing cancel notification")
	}

	resubmits := f.queue.all()
	if len(resubmits) != 1 {
		t.Fatalf("expected market resubmit, got %d intents", len(resubmits))
	}
	if resubmits[0].OrderType != models.OrderMarket || resubmits[0].Reason != "resubmit:신고가" {
		t.Fatalf("unexpected resubmit %+v", resubmits[0])
	}
}
