package tracker

import (
	"sync"
	"time"

	"KHunter/internal/domain/models"
)

// PendingTable tracks submitted orders until the provider confirms a fill
// or the unfilled sweep cancels them.
type PendingTable struct {
	mu sync.RWMutex
	m  map[string]*models.PendingOrder
}

func NewPendingTable() *PendingTable {
	return &PendingTable{m: make(map[string]*models.PendingOrder)}
}

// Add registers a newly submitted order.
func (t *PendingTable) Add(po models.PendingOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[po.OrderID] = &po
}

// Expired returns copies of submitted orders older than timeout.
func (t *PendingTable) Expired(now time.Time, timeout time.Duration) []models.PendingOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.PendingOrder
	for _, po := range t.m {
		if po.Status == models.OrderSubmitted && now.Sub(po.SubmittedAt) >= timeout {
			out = append(out, *po)
		}
	}
	return out
}

// SetStatus moves an order to a terminal status and drops it from the
// table. Returns false if the order is unknown or already terminal.
func (t *PendingTable) SetStatus(orderID string, status models.OrderStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	po, ok := t.m[orderID]
	if !ok || po.Status.Terminal() {
		return false
	}
	po.Status = status
	if status.Terminal() {
		delete(t.m, orderID)
	}
	return true
}

// ResolveFilled marks the oldest submitted order on the given side for the
// stock as filled. The provider balance feed confirms fills by position
// deltas rather than per-order callbacks, so resolution keys on the stock.
func (t *PendingTable) ResolveFilled(stockCode string, side models.OrderSide) (models.PendingOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest *models.PendingOrder
	for _, po := range t.m {
		if po.StockCode != stockCode || po.Side != side || po.Status != models.OrderSubmitted {
			continue
		}
		if oldest == nil || po.SubmittedAt.Before(oldest.SubmittedAt) {
			oldest = po
		}
	}
	if oldest == nil {
		return models.PendingOrder{}, false
	}
	filled := *oldest
	filled.Status = models.OrderFilled
	delete(t.m, oldest.OrderID)
	return filled, true
}

// Open returns copies of all non-terminal orders.
func (t *PendingTable) Open() []models.PendingOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.PendingOrder, 0, len(t.m))
	for _, po := range t.m {
		out = append(out, *po)
	}
	return out
}

// Count returns the number of open orders.
func (t *PendingTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
