package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/pkg/logger"
)

type fakeStream struct {
	mu        sync.Mutex
	connected bool
	connects  int
	subs      int
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.connected = true
	return nil
}

func (s *fakeStream) Subscribe(context.Context, []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs++
	return nil
}

func (s *fakeStream) Read(context.Context) (<-chan *models.Signal, <-chan error) { return nil, nil }
func (s *fakeStream) Close() error                                               { return nil }

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

type fakeBroker struct {
	mu     sync.Mutex
	expiry time.Time
	auths  int
}

func (b *fakeBroker) Authenticate(context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auths++
	b.expiry = b.expiry.Add(23 * time.Hour)
	return b.expiry, nil
}

func (b *fakeBroker) TokenExpiry() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiry
}

func (b *fakeBroker) GetPrice(context.Context, string) (int64, error)     { return 0, nil }
func (b *fakeBroker) GetBalance(context.Context) (*models.Balance, error) { return nil, nil }
func (b *fakeBroker) SubmitOrder(context.Context, models.OrderSide, string, int64, int64, models.OrderType) (string, error) {
	return "", nil
}
func (b *fakeBroker) CancelOrder(context.Context, string) error { return nil }

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(_ models.NotificationLevel, title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
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

func newMonitor(t *testing.T, stream *fakeStream, broker *fakeBroker, clock *time.Time) *Monitor {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(stream, broker, &fakeNotifier{}, nopMetrics{}, log,
		30*time.Second, time.Hour,
		WithClock(func() time.Time { return *clock }),
	)
}

func TestPauseHaltsBuys(t *testing.T) {
	stream := &fakeStream{connected: true}
	clock := time.Now()
	m := newMonitor(t, stream, &fakeBroker{expiry: clock.Add(20 * time.Hour)}, &clock)

	if m.BuysHalted() {
		t.Fatalf("halted before pause")
	}
	m.Pause("manual")
	if !m.BuysHalted() {
		t.Fatalf("pause did not halt buys")
	}
	if s := m.Status(); !s.BuysHalted || s.PauseReason != "manual" {
		t.Fatalf("status %+v", s)
	}
	m.Resume()
	if m.BuysHalted() {
		t.Fatalf("resume did not release halt")
	}
}

func TestStreamDropHaltsWithoutRedial(t *testing.T) {
	stream := &fakeStream{connected: true}
	clock := time.Now()
	broker := &fakeBroker{expiry: clock.Add(20 * time.Hour)}
	notifier := &fakeNotifier{}
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := New(stream, broker, notifier, nopMetrics{}, log,
		30*time.Second, time.Hour,
		WithClock(func() time.Time { return clock }),
	)

	stream.drop()
	if !m.BuysHalted() {
		t.Fatalf("disconnected stream must halt buys")
	}

	// Repeated checks latch the halt, alert once, and never dial out.
	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	if stream.connects != 0 || stream.subs != 0 {
		t.Fatalf("connects=%d subs=%d, want 0/0 (operator restart only)", stream.connects, stream.subs)
	}
	if !m.BuysHalted() {
		t.Fatalf("halt must persist while the stream is down")
	}

	notifier.mu.Lock()
	titles := append([]string(nil), notifier.titles...)
	notifier.mu.Unlock()
	if len(titles) != 1 || titles[0] != "수신 단절" {
		t.Fatalf("notifications = %v, want single 수신 단절", titles)
	}
}

func TestTokenRefreshInsideMargin(t *testing.T) {
	stream := &fakeStream{connected: true}
	clock := time.Now()
	broker := &fakeBroker{expiry: clock.Add(20 * time.Hour)}
	m := newMonitor(t, stream, broker, &clock)

	m.CheckOnce(context.Background())
	if broker.auths != 0 {
		t.Fatalf("refreshed a token far from expiry")
	}

	clock = clock.Add(19*time.Hour + 30*time.Minute) // 30m left, margin is 1h
	m.CheckOnce(context.Background())
	if broker.auths != 1 {
		t.Fatalf("auths = %d, want 1", broker.auths)
	}
}
