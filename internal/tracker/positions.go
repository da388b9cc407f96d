package tracker

import (
	"sync"
	"time"

	"KHunter/internal/domain/models"
)

// Book is the synchronized holdings registry. The signal consumer's
// holdings-count check, worker completions, and timer tasks all read
// and write through it, never through a cached copy.
type Book struct {
	mu sync.RWMutex
	m  map[string]*models.Holding
}

func NewBook() *Book {
	return &Book{m: make(map[string]*models.Holding)}
}

// Has reports whether a position is open for the stock.
func (b *Book) Has(stockCode string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.m[stockCode]
	return ok
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.m)
}

// Snapshot returns copies of all open holdings.
func (b *Book) Snapshot() []models.Holding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Holding, 0, len(b.m))
	for _, h := range b.m {
		out = append(out, *h)
	}
	return out
}

// Each runs fn for every holding under the book lock. fn must not block.
func (b *Book) Each(fn func(h *models.Holding)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.m {
		fn(h)
	}
}

// ClearExiting drops the exiting flag so a later evaluation can retry,
// used when the sell could not be queued.
func (b *Book) ClearExiting(stockCode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.m[stockCode]; ok {
		h.Exiting = false
	}
}

// Sync reconciles the book against a provider balance snapshot. New codes
// open holdings, vanished codes close them, existing ones take the
// provider's quantity, average price and current price. Trailing state and
// entry metadata survive updates. Returns the opened positions, the ones
// whose quantity grew (pyramid fills), and the closed ones.
func (b *Book) Sync(positions []models.BalancePosition, now time.Time, pyramidCount func(stockCode string) int) (opened, grown, closed []models.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		seen[pos.StockCode] = struct{}{}
		if h, ok := b.m[pos.StockCode]; ok {
			prev := h.Quantity
			h.Quantity = pos.Quantity
			h.AveragePrice = pos.AveragePrice
			if pos.CurrentPrice > 0 {
				h.CurrentPrice = pos.CurrentPrice
			}
			if pyramidCount != nil {
				h.PyramidCount = pyramidCount(pos.StockCode)
			}
			if pos.Quantity > prev {
				grown = append(grown, *h)
			}
			continue
		}
		h := &models.Holding{
			StockCode:    pos.StockCode,
			StockName:    pos.StockName,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			CurrentPrice: pos.CurrentPrice,
			EnteredAt:    now,
		}
		if pyramidCount != nil {
			h.PyramidCount = pyramidCount(pos.StockCode)
		}
		if h.CurrentPrice == 0 {
			h.CurrentPrice = h.AveragePrice
		}
		b.m[pos.StockCode] = h
		opened = append(opened, *h)
	}

	for code, h := range b.m {
		if _, ok := seen[code]; !ok {
			closed = append(closed, *h)
			delete(b.m, code)
		}
	}
	return opened, grown, closed
}
