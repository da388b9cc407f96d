package dispatch

import (
	"errors"
	"sync"

	"KHunter/internal/domain/models"
)

var (
	// ErrQueueFull is returned when the bounded queue cannot absorb
	// another intent. Callers drop and count rather than block.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("dispatch: queue closed")
)

// Queue is the bounded handoff between the signal path and the order
// workers. Enqueue never blocks.
type Queue struct {
	ch chan models.Intent

	mu     sync.Mutex
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan models.Intent, size)}
}

// TryEnqueue offers an intent to the queue without blocking.
func (q *Queue) TryEnqueue(intent models.Intent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- intent:
		return nil
	default:
		return ErrQueueFull
	}
}

// Items exposes the receive side for the worker pool.
func (q *Queue) Items() <-chan models.Intent {
	return q.ch
}

// Depth returns the number of queued intents.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close stops intake. Queued intents remain readable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
