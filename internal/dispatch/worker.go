package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"KHunter/internal/domain/models"
	"KHunter/internal/domain/repository"
	"KHunter/pkg/logger"
)

// OrderSink receives successfully submitted orders for fill tracking.
type OrderSink interface {
	Add(po models.PendingOrder)
}

// HaltView reports whether buy-side dispatch is suspended.
type HaltView interface {
	BuysHalted() bool
}

// Pool drains the queue with a fixed set of workers. Each worker submits
// one order at a time against the broker, which enforces the provider
// rate limit internally.
type Pool struct {
	queue    *Queue
	broker   repository.Broker
	sink     OrderSink
	halt     HaltView
	notifier repository.Notifier
	metrics  repository.Metrics
	log      *logger.Logger
	workers  int
}

func NewPool(queue *Queue, broker repository.Broker, sink OrderSink, halt HaltView, notifier repository.Notifier, metrics repository.Metrics, log *logger.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:    queue,
		broker:   broker,
		sink:     sink,
		halt:     halt,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		workers:  workers,
	}
}

// Run blocks until the queue is closed and drained, or ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.work(ctx, id)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent, ok := <-p.queue.Items():
			if !ok {
				return nil
			}
			p.metrics.RecordQueueDepth(p.queue.Depth())
			p.process(ctx, id, intent)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int, intent models.Intent) {
	side := string(intent.Side)

	// A halt raised between acceptance and dequeue still stops buys.
	// Sells always go through so positions can be unwound.
	if intent.Side == models.SideBuy && p.halt != nil && p.halt.BuysHalted() {
		p.metrics.RecordOrder(side, "halted")
		p.log.Warn("buy suppressed, trading halted",
			logger.String("stock_code", intent.StockCode),
			logger.Int("worker", id),
		)
		return
	}

	start := time.Now()
	orderID, err := p.broker.SubmitOrder(ctx, intent.Side, intent.StockCode, intent.Quantity, intent.Price, intent.OrderType)
	p.metrics.RecordLatency("submit_order", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordOrder(side, "error")
		p.metrics.RecordError("order_submit")
		p.log.Error("order submit failed",
			logger.String("stock_code", intent.StockCode),
			logger.String("side", side),
			logger.Int64("quantity", intent.Quantity),
			logger.Error(err),
		)
		if p.notifier != nil {
			p.notifier.Notify(models.NotifyError, "주문 실패",
				intent.StockCode+" "+side+" order failed: "+err.Error())
		}
		return
	}

	if p.sink != nil {
		p.sink.Add(models.PendingOrder{
			OrderID:     orderID,
			Side:        intent.Side,
			StockCode:   intent.StockCode,
			Quantity:    intent.Quantity,
			Price:       intent.Price,
			OrderType:   intent.OrderType,
			Reason:      intent.Reason,
			SubmittedAt: time.Now(),
			Status:      models.OrderSubmitted,
		})
	}
	p.metrics.RecordOrder(side, "submitted")
	p.log.Info("order submitted",
		logger.String("order_id", orderID),
		logger.String("stock_code", intent.StockCode),
		logger.String("side", side),
		logger.Int64("quantity", intent.Quantity),
		logger.Int64("price", intent.Price),
		logger.String("reason", intent.Reason),
	)
}
