package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"KHunter/internal/domain/models"
	"KHunter/internal/domain/repository"
	"KHunter/pkg/logger"
	"KHunter/pkg/util"
)

// Enqueuer hands sell intents to the dispatch queue without blocking.
type Enqueuer interface {
	TryEnqueue(intent models.Intent) error
}

// PyramidPolicy is implemented by the pyramid allocation policy. The
// tracker folds its entry counters onto holdings and resets them when a
// position closes so the stock can be entered again later.
type PyramidPolicy interface {
	Count(stockCode string) int
	Reset(stockCode string)
}

// ExitRules are the thresholds applied to every open holding. Percentages
// are unrealized profit in percent, so a StopLossPct of 3 exits at -3%.
type ExitRules struct {
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingEnabled bool
	TrailingTrigger float64
	TrailingRate    float64
	MaxHold         time.Duration
}

// Tracker owns the holdings book and the pending order table. It polls the
// broker balance, diffs it against local state to confirm fills, sweeps
// unfilled orders past their timeout, and evaluates exit rules.
type Tracker struct {
	book     *Book
	pending  *PendingTable
	broker   repository.Broker
	queue    Enqueuer
	notifier repository.Notifier
	metrics  repository.Metrics
	recorder repository.Recorder
	log      *logger.Logger
	pyramid  PyramidPolicy

	rules             ExitRules
	unfilledTimeout   time.Duration
	sweepInterval     time.Duration
	reconcileInterval time.Duration
	resubmitAsMarket  bool

	balMu       sync.RWMutex
	lastBalance models.Balance

	primed bool
	now    func() time.Time
}

type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithPyramid attaches the pyramid policy for counter reconciliation.
func WithPyramid(p PyramidPolicy) Option {
	return func(t *Tracker) { t.pyramid = p }
}

type Config struct {
	Rules             ExitRules
	UnfilledTimeout   time.Duration
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	ResubmitAsMarket  bool
}

func New(cfg Config, broker repository.Broker, queue Enqueuer, notifier repository.Notifier, metrics repository.Metrics, recorder repository.Recorder, log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		book:              NewBook(),
		pending:           NewPendingTable(),
		broker:            broker,
		queue:             queue,
		notifier:          notifier,
		metrics:           metrics,
		recorder:          recorder,
		log:               log,
		rules:             cfg.Rules,
		unfilledTimeout:   cfg.UnfilledTimeout,
		sweepInterval:     cfg.SweepInterval,
		reconcileInterval: cfg.ReconcileInterval,
		resubmitAsMarket:  cfg.ResubmitAsMarket,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Book exposes the holdings registry for the filter engine and the ops API.
func (t *Tracker) Book() *Book { return t.book }

// Pending exposes the order table for the dispatch workers and the ops API.
func (t *Tracker) Pending() *PendingTable { return t.pending }

// Balances returns the last reconciled totals for allocation sizing.
func (t *Tracker) Balances() (totalValue, availableCash int64) {
	t.balMu.RLock()
	defer t.balMu.RUnlock()
	return t.lastBalance.TotalValue, t.lastBalance.AvailableCash
}

// Balance returns a copy of the last reconciled snapshot.
func (t *Tracker) Balance() models.Balance {
	t.balMu.RLock()
	defer t.balMu.RUnlock()
	b := t.lastBalance
	b.Positions = append([]models.BalancePosition(nil), t.lastBalance.Positions...)
	return b
}

// Run drives the reconcile and sweep loops until ctx is canceled. The
// first reconcile happens immediately so the book is populated before any
// signal is evaluated.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.ReconcileOnce(ctx); err != nil {
		t.log.Error("initial balance reconcile failed", logger.Error(err))
		t.metrics.RecordError("reconcile")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(t.reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := t.ReconcileOnce(ctx); err != nil {
					t.log.Error("balance reconcile failed", logger.Error(err))
					t.metrics.RecordError("reconcile")
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				t.SweepOnce(ctx)
			}
		}
	})

	return g.Wait()
}

// ReconcileOnce pulls the provider balance, applies it to the book,
// resolves pending orders confirmed by position deltas, and evaluates exit
// rules against the fresh prices.
func (t *Tracker) ReconcileOnce(ctx context.Context) error {
	bal, err := t.broker.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	t.balMu.Lock()
	t.lastBalance = *bal
	t.balMu.Unlock()

	now := t.now()
	var pyramidCount func(string) int
	if t.pyramid != nil {
		pyramidCount = t.pyramid.Count
	}
	opened, grown, closed := t.book.Sync(bal.Positions, now, pyramidCount)

	if !t.primed {
		// First reconcile after startup adopts whatever the account
		// already holds without treating it as a fresh fill.
		t.primed = true
		for _, h := range opened {
			t.log.Info("adopted existing position",
				logger.String("stock_code", h.StockCode),
				logger.Int64("quantity", h.Quantity),
			)
		}
		opened = nil
	}

	for _, h := range opened {
		t.resolveFill(ctx, h, models.SideBuy)
	}
	for _, h := range grown {
		t.resolveFill(ctx, h, models.SideBuy)
	}
	for _, h := range closed {
		t.resolveFill(ctx, h, models.SideSell)
		if t.pyramid != nil {
			t.pyramid.Reset(h.StockCode)
		}
	}

	t.metrics.RecordHoldings(t.book.Count())
	t.evaluateExits(now)
	return nil
}

// resolveFill matches a balance delta against the pending table and records
// the confirmed trade. A delta with no pending order is an externally made
// trade and is only logged.
func (t *Tracker) resolveFill(ctx context.Context, h models.Holding, side models.OrderSide) {
	po, ok := t.pending.ResolveFilled(h.StockCode, side)
	if !ok {
		t.log.Warn("position delta without pending order",
			logger.String("stock_code", h.StockCode),
			logger.String("side", string(side)),
		)
		return
	}

	t.metrics.RecordOrder(string(side), "filled")
	title := "매수 체결"
	if side == models.SideSell {
		title = "매도 체결"
	}
	body := fmt.Sprintf("%s(%s) %d주 @ %s원", h.StockName, h.StockCode, po.Quantity, util.FormatWon(h.CurrentPrice))
	if side == models.SideSell {
		body += fmt.Sprintf(" (%.2f%%)", h.UnrealizedPct())
	}
	t.notifier.Notify(models.NotifyInfo, title, body)
	t.log.Info("order filled",
		logger.String("order_id", po.OrderID),
		logger.String("stock_code", h.StockCode),
		logger.String("side", string(side)),
		logger.Int64("quantity", po.Quantity),
	)

	if t.recorder != nil {
		rec := &models.TradeRecord{
			OrderID:   po.OrderID,
			Side:      side,
			StockCode: h.StockCode,
			StockName: h.StockName,
			Quantity:  po.Quantity,
			Price:     h.CurrentPrice,
			Reason:    po.Reason,
			At:        t.now(),
		}
		if err := t.recorder.RecordTrade(ctx, rec); err != nil {
			t.log.Warn("trade record failed", logger.Error(err))
			t.metrics.RecordError("recorder")
		}
	}
}

// evaluateExits walks the book once and queues market sells for holdings
// that crossed a threshold. The exiting flag stops a holding from firing
// twice while its sell is in flight.
func (t *Tracker) evaluateExits(now time.Time) {
	var exits []models.Intent

	t.book.Each(func(h *models.Holding) {
		if h.Exiting || h.Quantity <= 0 {
			return
		}
		reason, ok := t.exitReason(h, now)
		if !ok {
			return
		}
		h.Exiting = true
		exits = append(exits, models.Intent{
			Side:      models.SideSell,
			StockCode: h.StockCode,
			StockName: h.StockName,
			Quantity:  h.Quantity,
			Price:     0,
			OrderType: models.OrderMarket,
			Reason:    reason,
			CreatedAt: now,
		})
	})

	for _, intent := range exits {
		if err := t.queue.TryEnqueue(intent); err != nil {
			t.book.ClearExiting(intent.StockCode)
			t.log.Error("exit enqueue failed",
				logger.String("stock_code", intent.StockCode),
				logger.String("reason", intent.Reason),
				logger.Error(err),
			)
			t.metrics.RecordError("exit_enqueue")
			continue
		}
		t.log.Info("exit queued",
			logger.String("stock_code", intent.StockCode),
			logger.String("reason", intent.Reason),
			logger.Int64("quantity", intent.Quantity),
		)
	}
}

// exitReason applies the rules to a single holding, updating trailing
// state in place. Called under the book lock.
func (t *Tracker) exitReason(h *models.Holding, now time.Time) (string, bool) {
	pct := h.UnrealizedPct()

	if t.rules.TrailingEnabled {
		if !h.TrailingArmed && pct >= t.rules.TrailingTrigger {
			h.TrailingArmed = true
			h.HighWaterPct = pct
		} else if h.TrailingArmed && pct > h.HighWaterPct {
			h.HighWaterPct = pct
		}
	}

	switch {
	case t.rules.TakeProfitPct > 0 && pct >= t.rules.TakeProfitPct:
		return "take_profit", true
	case t.rules.StopLossPct > 0 && pct <= -t.rules.StopLossPct:
		return "stop_loss", true
	case t.rules.TrailingEnabled && h.TrailingArmed && h.HighWaterPct-pct >= t.rules.TrailingRate:
		return "trailing_stop", true
	case t.rules.MaxHold > 0 && now.Sub(h.EnteredAt) >= t.rules.MaxHold:
		return "max_hold", true
	}
	return "", false
}

// CloseAll queues market sells for every open holding that is not already
// exiting. Returns the number of sells queued.
func (t *Tracker) CloseAll(reason string) int {
	now := t.now()
	var exits []models.Intent
	t.book.Each(func(h *models.Holding) {
		if h.Exiting || h.Quantity <= 0 {
			return
		}
		h.Exiting = true
		exits = append(exits, models.Intent{
			Side:      models.SideSell,
			StockCode: h.StockCode,
			StockName: h.StockName,
			Quantity:  h.Quantity,
			OrderType: models.OrderMarket,
			Reason:    reason,
			CreatedAt: now,
		})
	})

	queued := 0
	for _, intent := range exits {
		if err := t.queue.TryEnqueue(intent); err != nil {
			t.book.ClearExiting(intent.StockCode)
			t.log.Error("close-all enqueue failed",
				logger.String("stock_code", intent.StockCode),
				logger.Error(err),
			)
			t.metrics.RecordError("exit_enqueue")
			continue
		}
		queued++
	}
	if queued > 0 {
		t.notifier.Notify(models.NotifyWarn, "전량 청산",
			fmt.Sprintf("%d개 종목 청산 주문 접수", queued))
	}
	return queued
}

// SweepOnce cancels submitted orders that sat unfilled past the timeout.
// A canceled limit order is optionally resubmitted at market.
func (t *Tracker) SweepOnce(ctx context.Context) {
	expired := t.pending.Expired(t.now(), t.unfilledTimeout)
	for _, po := range expired {
		if err := t.broker.CancelOrder(ctx, po.OrderID); err != nil {
			// Leave it submitted so the next sweep retries the cancel.
			t.log.Error("unfilled cancel failed",
				logger.String("order_id", po.OrderID),
				logger.String("stock_code", po.StockCode),
				logger.Error(err),
			)
			t.metrics.RecordError("order_cancel")
			t.notifier.Notify(models.NotifyError, "취소 실패",
				fmt.Sprintf("%s %s 미체결 취소 실패: %v", po.StockCode, po.OrderID, err))
			continue
		}
		t.pending.SetStatus(po.OrderID, models.OrderCanceled)
		t.metrics.RecordOrder(string(po.Side), "canceled")
		t.log.Warn("unfilled order canceled",
			logger.String("order_id", po.OrderID),
			logger.String("stock_code", po.StockCode),
			logger.Duration("age", t.now().Sub(po.SubmittedAt)),
		)
		t.notifier.Notify(models.NotifyWarn, "미체결 취소",
			fmt.Sprintf("%s %s %d주 주문이 미체결로 취소되었습니다", po.StockCode, po.Side, po.Quantity))

		if t.resubmitAsMarket && po.OrderType == models.OrderLimit {
			intent := models.Intent{
				Side:      po.Side,
				StockCode: po.StockCode,
				Quantity:  po.Quantity,
				Price:     0,
				OrderType: models.OrderMarket,
				Reason:    "resubmit:" + po.Reason,
				CreatedAt: t.now(),
			}
			if err := t.queue.TryEnqueue(intent); err != nil {
				t.log.Error("resubmit enqueue failed",
					logger.String("stock_code", po.StockCode),
					logger.Error(err),
				)
				t.metrics.RecordError("resubmit_enqueue")
			}
		}
	}
}
