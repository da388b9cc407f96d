package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/internal/domain/repository"
	"KHunter/pkg/logger"
)

// Status is a point-in-time view of the trading loop's vital signs.
type Status struct {
	StreamConnected bool      `json:"stream_connected"`
	BuysHalted      bool      `json:"buys_halted"`
	PauseReason     string    `json:"pause_reason,omitempty"`
	TokenExpiry     time.Time `json:"token_expiry"`
	LastCheck       time.Time `json:"last_check"`
}

// Monitor watches the signal stream and the broker credential. Buys halt
// while the operator has paused trading or the stream is disconnected;
// sells are never halted so positions can always be unwound. A dropped
// stream is never redialed here: the halt stays latched until the
// operator restarts the process.
type Monitor struct {
	stream   repository.SignalStream
	broker   repository.Broker
	notifier repository.Notifier
	metrics  repository.Metrics
	log      *logger.Logger
	interval time.Duration
	margin   time.Duration

	paused     atomic.Bool
	mu         sync.Mutex
	reason     string
	streamDown bool
	lastCheck  time.Time

	now func() time.Time
}

type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(stream repository.SignalStream, broker repository.Broker, notifier repository.Notifier, metrics repository.Metrics, log *logger.Logger, interval, margin time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		stream:   stream,
		broker:   broker,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		interval: interval,
		margin:   margin,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuysHalted reports whether buy-side dispatch is currently suspended.
func (m *Monitor) BuysHalted() bool {
	if m.paused.Load() {
		return true
	}
	return m.stream != nil && !m.stream.IsConnected()
}

// Pause latches the manual halt. Idempotent.
func (m *Monitor) Pause(reason string) {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()
	if m.paused.Swap(true) {
		return
	}
	m.log.Warn("trading paused", logger.String("reason", reason))
	m.notifier.Notify(models.NotifyWarn, "매수 중지", reason)
}

// Resume releases the manual halt. Idempotent.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.reason = ""
	m.mu.Unlock()
	if !m.paused.Swap(false) {
		return
	}
	m.log.Info("trading resumed")
	m.notifier.Notify(models.NotifyInfo, "매수 재개", "manual resume")
}

// Status returns the current health snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	reason, last := m.reason, m.lastCheck
	m.mu.Unlock()
	connected := m.stream == nil || m.stream.IsConnected()
	return Status{
		StreamConnected: connected,
		BuysHalted:      m.BuysHalted(),
		PauseReason:     reason,
		TokenExpiry:     m.broker.TokenExpiry(),
		LastCheck:       last,
	}
}

// Run performs periodic checks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one health pass: latch the buy-halt when the stream has
// dropped and refresh the broker credential before it expires.
func (m *Monitor) CheckOnce(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	m.lastCheck = now
	wasDown := m.streamDown
	m.mu.Unlock()

	m.checkStream(wasDown)
	m.checkToken(ctx, now)
}

func (m *Monitor) checkStream(wasDown bool) {
	if m.stream == nil {
		return
	}
	if m.stream.IsConnected() {
		if wasDown {
			m.setStreamDown(false)
			m.notifier.Notify(models.NotifyInfo, "수신 복구", "signal stream restored")
		}
		return
	}
	if wasDown {
		return
	}
	m.setStreamDown(true)
	m.metrics.RecordError("stream_down")
	m.log.Error("signal stream disconnected, operator restart required")
	m.notifier.Notify(models.NotifyError, "수신 단절",
		"signal stream disconnected, buys halted until restart")
}

func (m *Monitor) checkToken(ctx context.Context, now time.Time) {
	expiry := m.broker.TokenExpiry()
	if !expiry.IsZero() && expiry.Sub(now) > m.margin {
		return
	}
	newExpiry, err := m.broker.Authenticate(ctx)
	if err != nil {
		m.log.Error("token refresh failed", logger.Error(err))
		m.metrics.RecordError("token_refresh")
		m.notifier.Notify(models.NotifyError, "토큰 갱신 실패", err.Error())
		return
	}
	m.log.Info("token refreshed", logger.Any("expires_at", newExpiry))
}

func (m *Monitor) setStreamDown(down bool) {
	m.mu.Lock()
	m.streamDown = down
	m.mu.Unlock()
}
