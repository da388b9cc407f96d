package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/pkg/logger"
)

type captureSink struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (s *captureSink) Send(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *captureSink) all() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.sent...)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestNotifyDropsOldestWhenFull(t *testing.T) {
	n := New(3, testLogger(t), nil)

	for i := 0; i < 5; i++ {
		n.Notify(models.NotifyInfo, fmt.Sprintf("t%d", i), "")
	}
	if n.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", n.Depth())
	}

	// Oldest two were discarded: t2..t4 remain in order.
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, want := range []string{"t2", "t3", "t4"} {
		if n.buf[i].Title != want {
			t.Fatalf("buf[%d] = %q, want %q", i, n.buf[i].Title, want)
		}
	}
}

func TestRunDrainsToSinks(t *testing.T) {
	sink := &captureSink{}
	n := New(10, testLogger(t), []Sink{sink})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	n.Notify(models.NotifyInfo, "매수 체결", "005930 10주")
	n.Notify(models.NotifyWarn, "미체결 취소", "000660")

	deadline := time.After(2 * time.Second)
	for len(sink.all()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("sink got %d notifications, want 2", len(sink.all()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := sink.all()
	if got[0].Title != "매수 체결" || got[1].Title != "미체결 취소" {
		t.Fatalf("delivery order wrong: %+v", got)
	}

	cancel()
	<-done
	if n.Depth() != 0 {
		t.Fatalf("undrained depth = %d", n.Depth())
	}

	// After shutdown Notify is a no-op rather than a leak.
	n.Notify(models.NotifyInfo, "late", "")
	if n.Depth() != 0 {
		t.Fatalf("notify after close enqueued")
	}
}
