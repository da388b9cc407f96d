package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window pairs a cap with its trailing duration.
type window struct {
	span time.Duration
	cap  int
}

// log is a sliding record of recent request timestamps for one key.
type log struct {
	stamps []time.Time
}

// Limiter bounds outbound calls per provider key over one or more trailing
// windows. Check-and-record is atomic under the mutex, so concurrent workers
// can never overrun a cap.
type Limiter struct {
	mu      sync.Mutex
	windows []window
	m       map[string]*log
	now     func() time.Time
}

// New creates a limiter with a per-second cap and an optional per-hour cap
// (0 disables the hourly window).
func New(perSecond, perHour int) *Limiter {
	l := &Limiter{m: make(map[string]*log), now: time.Now}
	if perSecond > 0 {
		l.windows = append(l.windows, window{span: time.Second, cap: perSecond})
	}
	if perHour > 0 {
		l.windows = append(l.windows, window{span: time.Hour, cap: perHour})
	}
	return l
}

// Allow returns true if one call can be admitted for key right now. On admit
// the call is recorded; on deny nothing is recorded.
func (l *Limiter) Allow(key string) bool {
	if len(l.windows) == 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	lg, ok := l.m[key]
	if !ok {
		lg = &log{}
		l.m[key] = lg
	}

	// Evict entries older than the largest window.
	largest := l.windows[len(l.windows)-1].span
	cut := 0
	for cut < len(lg.stamps) && now.Sub(lg.stamps[cut]) >= largest {
		cut++
	}
	lg.stamps = lg.stamps[cut:]

	for _, w := range l.windows {
		count := 0
		for i := len(lg.stamps) - 1; i >= 0; i-- {
			if now.Sub(lg.stamps[i]) < w.span {
				count++
			} else {
				break
			}
		}
		if count >= w.cap {
			return false
		}
	}

	lg.stamps = append(lg.stamps, now)
	return true
}

// Wait blocks with bounded backoff until a call is admitted for key or the
// context is done. A denial is never a hard failure.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	backoff := 50 * time.Millisecond
	for {
		if l.Allow(key) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}
