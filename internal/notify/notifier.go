package notify

import (
	"context"
	"sync"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/pkg/logger"
)

// Sink delivers one notification to an external destination.
type Sink interface {
	Send(ctx context.Context, n models.Notification) error
}

// Notifier buffers notifications in a bounded in-memory queue and drains
// them to the configured sinks in the background. Notify never blocks:
// when the queue is full the oldest entry is discarded so fresh events
// survive a slow or dead sink.
type Notifier struct {
	mu     sync.Mutex
	buf    []models.Notification
	cap    int
	wake   chan struct{}
	sinks  []Sink
	log    *logger.Logger
	closed bool

	now func() time.Time
}

type Option func(*Notifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func New(capacity int, log *logger.Logger, sinks []Sink, opts ...Option) *Notifier {
	if capacity <= 0 {
		capacity = 100
	}
	n := &Notifier{
		cap:   capacity,
		wake:  make(chan struct{}, 1),
		sinks: sinks,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify enqueues a notification, dropping the oldest entry if full.
func (n *Notifier) Notify(level models.NotificationLevel, title, body string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if len(n.buf) >= n.cap {
		copy(n.buf, n.buf[1:])
		n.buf = n.buf[:len(n.buf)-1]
	}
	n.buf = append(n.buf, models.Notification{
		Level:     level,
		Title:     title,
		Body:      body,
		CreatedAt: n.now(),
	})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Depth returns the number of undelivered notifications.
func (n *Notifier) Depth() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buf)
}

// Run drains the queue until ctx is canceled. Sink failures are logged
// and the notification is discarded; delivery is best-effort.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.mu.Lock()
			n.closed = true
			n.mu.Unlock()
			return ctx.Err()
		case <-n.wake:
			n.drain(ctx)
		}
	}
}

func (n *Notifier) drain(ctx context.Context) {
	for {
		n.mu.Lock()
		if len(n.buf) == 0 {
			n.mu.Unlock()
			return
		}
		next := n.buf[0]
		copy(n.buf, n.buf[1:])
		n.buf = n.buf[:len(n.buf)-1]
		n.mu.Unlock()

		for _, sink := range n.sinks {
			if err := sink.Send(ctx, next); err != nil {
				n.log.Warn("notification delivery failed",
					logger.String("title", next.Title),
					logger.Error(err),
				)
			}
		}
	}
}
