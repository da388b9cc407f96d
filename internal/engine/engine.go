package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/internal/engine/allocation"
)

// HoldingsView is the live position registry consulted on every signal.
type HoldingsView interface {
	Has(stockCode string) bool
	Count() int
}

// BalanceView exposes the last reconciled account balance.
type BalanceView interface {
	Balances() (totalValue, availableCash int64)
}

// BlacklistView answers whether a stock is barred from entry.
type BlacklistView interface {
	Blacklisted(stockCode string) bool
}

// PriceSource quotes the current price for sizing an entry.
type PriceSource interface {
	Price(ctx context.Context, stockCode string) (int64, error)
}

// HaltView reports whether new entries are suspended.
type HaltView interface {
	BuysHalted() bool
}

// Engine turns raw condition signals into entry intents. It tracks which
// stocks are inside each screening condition, applies the structural
// filters and the configured combine mode, and sizes accepted entries
// through the allocation policy.
type Engine struct {
	mode        models.CombineMode
	conditions  []string
	window      time.Duration
	maxHoldings int
	maxExposure float64
	cooldown    time.Duration
	inHours     func(time.Time) bool

	holdings  HoldingsView
	balances  BalanceView
	blacklist BlacklistView
	prices    PriceSource
	policy    allocation.Policy
	halt      HaltView

	mu        sync.Mutex
	members   map[string]map[string]struct{}
	armed     map[string]time.Time
	lastEntry map[string]time.Time

	now func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Deps struct {
	Holdings  HoldingsView
	Balances  BalanceView
	Blacklist BlacklistView
	Prices    PriceSource
	Policy    allocation.Policy
	Halt      HaltView
}

type Settings struct {
	Mode        models.CombineMode
	Conditions  []string
	Window      time.Duration
	MaxHoldings int
	MaxExposure float64 // percent of total balance invested, 0 disables
	Cooldown    time.Duration
	InHours     func(time.Time) bool
}

func New(s Settings, d Deps, opts ...Option) *Engine {
	e := &Engine{
		mode:        s.Mode,
		conditions:  s.Conditions,
		window:      s.Window,
		maxHoldings: s.MaxHoldings,
		maxExposure: s.MaxExposure,
		cooldown:    s.Cooldown,
		inHours:     s.InHours,
		holdings:    d.Holdings,
		balances:    d.Balances,
		blacklist:   d.Blacklist,
		prices:      d.Prices,
		policy:      d.Policy,
		halt:        d.Halt,
		members:     make(map[string]map[string]struct{}),
		armed:       make(map[string]time.Time),
		lastEntry:   make(map[string]time.Time),
		now:         time.Now,
	}
	for _, c := range s.Conditions {
		e.members[c] = make(map[string]struct{})
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate processes one signal and returns the entry intent to dispatch,
// or the reason the signal was declined. An error is returned only for
// infrastructure failures such as a price lookup; declines are not errors.
func (e *Engine) Evaluate(ctx context.Context, sig *models.Signal) (*models.Intent, models.RejectReason, error) {
	now := e.now()

	e.mu.Lock()
	set, known := e.members[sig.ConditionName]
	if !known {
		set = make(map[string]struct{})
		e.members[sig.ConditionName] = set
	}

	if sig.Event == models.SignalLeft {
		delete(set, sig.StockCode)
		e.mu.Unlock()
		return nil, models.RejectLeftEvent, nil
	}

	if _, dup := set[sig.StockCode]; dup {
		e.mu.Unlock()
		return nil, models.RejectDuplicateSet, nil
	}
	set[sig.StockCode] = struct{}{}

	// The first leg of a sequence arms the stock for the window but never
	// triggers an entry on its own, whatever the other gates say.
	if e.mode == models.CombineSequential && len(e.conditions) == 2 && sig.ConditionName == e.conditions[0] {
		e.armed[sig.StockCode] = now
		e.mu.Unlock()
		return nil, models.RejectCombineMode, nil
	}

	if reason := e.gate(sig, now); reason != models.RejectNone {
		e.mu.Unlock()
		return nil, reason, nil
	}

	if !e.combineSatisfied(sig, now) {
		e.mu.Unlock()
		return nil, models.RejectCombineMode, nil
	}
	e.mu.Unlock()

	price, err := e.prices.Price(ctx, sig.StockCode)
	if err != nil {
		return nil, models.RejectNone, fmt.Errorf("price %s: %w", sig.StockCode, err)
	}

	total, cash := e.balances.Balances()
	qty := e.policy.Quantity(allocation.Context{
		StockCode:     sig.StockCode,
		Price:         price,
		TotalBalance:  total,
		AvailableCash: cash,
	})
	if qty <= 0 {
		return nil, models.RejectZeroQuantity, nil
	}

	e.mu.Lock()
	e.lastEntry[sig.StockCode] = now
	e.mu.Unlock()

	return &models.Intent{
		Side:      models.SideBuy,
		StockCode: sig.StockCode,
		StockName: sig.StockName,
		Quantity:  qty,
		Price:     price,
		OrderType: models.OrderMarket,
		Reason:    sig.ConditionName,
		CreatedAt: now,
	}, models.RejectNone, nil
}

// gate applies the structural filters. Caller holds e.mu.
func (e *Engine) gate(sig *models.Signal, now time.Time) models.RejectReason {
	if e.halt != nil && e.halt.BuysHalted() {
		return models.RejectBuysHalted
	}
	if e.inHours != nil && !e.inHours(now) {
		return models.RejectMarketClosed
	}
	if e.blacklist != nil && e.blacklist.Blacklisted(sig.StockCode) {
		return models.RejectBlacklisted
	}
	if e.holdings.Has(sig.StockCode) {
		return models.RejectAlreadyHeld
	}
	if last, ok := e.lastEntry[sig.StockCode]; ok && e.cooldown > 0 && now.Sub(last) < e.cooldown {
		return models.RejectCooldown
	}
	if e.maxHoldings > 0 && e.holdings.Count() >= e.maxHoldings {
		return models.RejectMaxHoldings
	}
	if e.maxExposure > 0 && e.balances != nil {
		total, cash := e.balances.Balances()
		if total > 0 && float64(total-cash)/float64(total)*100 >= e.maxExposure {
			return models.RejectMaxExposure
		}
	}
	return models.RejectNone
}

// combineSatisfied applies the configured combine mode. Caller holds e.mu.
func (e *Engine) combineSatisfied(sig *models.Signal, now time.Time) bool {
	switch e.mode {
	case models.CombineOr:
		return true
	case models.CombineAnd:
		for _, c := range e.conditions {
			if _, ok := e.members[c][sig.StockCode]; !ok {
				return false
			}
		}
		return true
	case models.CombineSequential:
		if len(e.conditions) != 2 || sig.ConditionName != e.conditions[1] {
			return false
		}
		armedAt, ok := e.armed[sig.StockCode]
		if !ok {
			return false
		}
		if now.Sub(armedAt) > e.window {
			delete(e.armed, sig.StockCode)
			return false
		}
		delete(e.armed, sig.StockCode)
		return true
	default:
		return false
	}
}

// MarketOpen reports whether a signal arriving now would pass the
// operating-hours gate.
func (e *Engine) MarketOpen() bool {
	if e.inHours == nil {
		return true
	}
	return e.inHours(e.now())
}

// ConditionMembers reports how many stocks sit inside each condition.
func (e *Engine) ConditionMembers() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.members))
	for name, set := range e.members {
		out[name] = len(set)
	}
	return out
}
