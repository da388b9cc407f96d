package allocation

import "sync"

// Context carries everything a policy may need to size an order.
type Context struct {
	StockCode     string
	Price         int64
	TotalBalance  int64
	AvailableCash int64
}

// Policy converts an intent to buy into a share quantity. Zero or negative
// suppresses dispatch.
type Policy interface {
	Quantity(ctx Context) int64
}

// FixedAmount spends a fixed amount per entry.
type FixedAmount struct {
	Amount int64
}

func NewFixedAmount(amount int64) *FixedAmount {
	return &FixedAmount{Amount: amount}
}

func (p *FixedAmount) Quantity(ctx Context) int64 {
	if ctx.Price <= 0 {
		return 0
	}
	return p.Amount / ctx.Price
}

// Percentage spends a percentage of the total account balance per entry.
type Percentage struct {
	Percent float64
}

func NewPercentage(pct float64) *Percentage {
	return &Percentage{Percent: pct}
}

func (p *Percentage) Quantity(ctx Context) int64 {
	if ctx.Price <= 0 || ctx.TotalBalance <= 0 {
		return 0
	}
	amount := float64(ctx.TotalBalance) * p.Percent / 100
	return int64(amount / float64(ctx.Price))
}

// Pyramid splits a position's capital across sequential buy calls for the
// same stock: the first call allocates InitialPct of the total balance, the
// second AdditionalPct, later calls nothing. The per-stock counter is kept
// here only until balance reconciliation folds it into the Holding; Reset
// must be called when the position closes so a re-entry starts fresh.
type Pyramid struct {
	InitialPct    float64
	AdditionalPct float64

	mu    sync.Mutex
	calls map[string]int
}

func NewPyramid(initialPct, additionalPct float64) *Pyramid {
	return &Pyramid{
		InitialPct:    initialPct,
		AdditionalPct: additionalPct,
		calls:         make(map[string]int),
	}
}

func (p *Pyramid) Quantity(ctx Context) int64 {
	if ctx.Price <= 0 || ctx.TotalBalance <= 0 {
		return 0
	}

	p.mu.Lock()
	n := p.calls[ctx.StockCode]
	var pct float64
	switch n {
	case 0:
		pct = p.InitialPct
	case 1:
		pct = p.AdditionalPct
	default:
		pct = 0
	}
	if pct > 0 {
		p.calls[ctx.StockCode] = n + 1
	}
	p.mu.Unlock()

	if pct <= 0 {
		return 0
	}
	amount := float64(ctx.TotalBalance) * pct / 100
	return int64(amount / float64(ctx.Price))
}

// Count returns the number of allocation calls made for a stock.
func (p *Pyramid) Count(stockCode string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[stockCode]
}

// Reset clears the transient counter for a stock.
func (p *Pyramid) Reset(stockCode string) {
	p.mu.Lock()
	delete(p.calls, stockCode)
	p.mu.Unlock()
}
