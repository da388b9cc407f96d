package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"KHunter/internal/dispatch"
	"KHunter/internal/engine"
	"KHunter/internal/health"
	"KHunter/internal/notify"
	"KHunter/internal/service/blacklist"
	"KHunter/internal/tracker"

	"KHunter/internal/domain/models"
	drepo "KHunter/internal/domain/repository"
	pkgch "KHunter/pkg/clickhouse"
	"KHunter/pkg/config"
	xhttp "KHunter/pkg/http"
	pkgkafka "KHunter/pkg/kafka"
	applogger "KHunter/pkg/logger"
	"KHunter/pkg/util"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	stream    drepo.SignalStream
	broker    drepo.Broker
	engine    *engine.Engine
	queue     *dispatch.Queue
	pool      *dispatch.Pool
	tracker   *tracker.Tracker
	monitor   *health.Monitor
	blacklist *blacklist.Store
	notifier  *notify.Notifier
	recorder  drepo.Recorder
	metrics   drepo.Metrics

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	producer    *pkgkafka.Producer
	chClient    *pkgch.Client
}

// New creates an App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	stream drepo.SignalStream,
	broker drepo.Broker,
	eng *engine.Engine,
	queue *dispatch.Queue,
	pool *dispatch.Pool,
	trk *tracker.Tracker,
	monitor *health.Monitor,
	bl *blacklist.Store,
	notifier *notify.Notifier,
	recorder drepo.Recorder,
	metrics drepo.Metrics,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		stream:    stream,
		broker:    broker,
		engine:    eng,
		queue:     queue,
		pool:      pool,
		tracker:   trk,
		monitor:   monitor,
		blacklist: bl,
		notifier:  notifier,
		recorder:  recorder,
		metrics:   metrics,
	}
}

// SetHTTPHandler injects the ops API handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// SetProducer hands the Kafka producer over for lifecycle management.
func (a *App) SetProducer(p *pkgkafka.Producer) { a.producer = p }

// SetClickHouse hands the ClickHouse client over for lifecycle management.
func (a *App) SetClickHouse(c *pkgch.Client) { a.chClient = c }

// Run starts everything and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	expiry, err := a.broker.Authenticate(ctx)
	if err != nil {
		return err
	}
	a.log.Info("broker authenticated",
		applogger.String("account", util.MaskAccount(a.cfg.KIS.AccountNumber)),
		applogger.Any("token_expiry", expiry),
	)

	if err := a.stream.Connect(ctx); err != nil {
		return err
	}
	if err := a.stream.Subscribe(ctx, a.cfg.Strategy.Conditions); err != nil {
		return err
	}
	a.log.Info("signal stream ready", applogger.Strings("conditions", a.cfg.Strategy.Conditions))

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsLogging(a.log, time.Second),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(a.notifier.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.tracker.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.monitor.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.blacklist.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.pool.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.consumeSignals(gctx)) })

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	a.notifier.Notify(models.NotifyInfo, "시스템 시작",
		"condition trading started: "+a.cfg.Strategy.CombineMode)

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownErr := a.shutdown()
	if err := g.Wait(); err != nil {
		a.log.Warn("worker group error", applogger.Error(err))
	}
	return shutdownErr
}

// consumeSignals is the single consumer of the signal stream. It drives
// the filter engine and queues accepted entries. The stream is read once
// per process: when it ends the health monitor latches the buy-halt and
// an operator restart brings signals back. Sells keep flowing from the
// tracker's exit checks in the meantime.
func (a *App) consumeSignals(ctx context.Context) error {
	signals, errs := a.stream.Read(ctx)
	if err := a.drainSignals(ctx, signals, errs); err != nil {
		return err
	}
	a.log.Warn("signal stream ended, restart required to resume entries")
	return nil
}

func (a *App) drainSignals(ctx context.Context, signals <-chan *models.Signal, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			a.log.Error("signal stream error", applogger.Error(err))
			a.metrics.RecordError("stream_read")
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			a.handleSignal(ctx, sig)
		}
	}
}

func (a *App) handleSignal(ctx context.Context, sig *models.Signal) {
	a.metrics.RecordSignal(string(sig.Event), sig.ConditionName)

	intent, reason, err := a.engine.Evaluate(ctx, sig)
	if err != nil {
		a.log.Error("signal evaluation failed",
			applogger.String("stock_code", sig.StockCode),
			applogger.Error(err),
		)
		a.metrics.RecordError("evaluate")
		return
	}
	if reason != models.RejectNone {
		a.metrics.RecordReject(string(reason))
		a.log.Debug("signal rejected",
			applogger.String("stock_code", sig.StockCode),
			applogger.String("condition", sig.ConditionName),
			applogger.String("reason", string(reason)),
		)
		return
	}

	if err := a.queue.TryEnqueue(*intent); err != nil {
		a.log.Error("entry enqueue failed",
			applogger.String("stock_code", intent.StockCode),
			applogger.Error(err),
		)
		a.metrics.RecordError("queue_full")
		return
	}
	a.metrics.RecordQueueDepth(a.queue.Depth())
	a.log.Info("entry queued",
		applogger.String("stock_code", intent.StockCode),
		applogger.String("condition", sig.ConditionName),
		applogger.Int64("quantity", intent.Quantity),
	)

	if a.recorder != nil {
		rec := &models.SignalRecord{
			StockCode:     intent.StockCode,
			ConditionName: sig.ConditionName,
			Quantity:      intent.Quantity,
			At:            time.Now(),
		}
		if err := a.recorder.RecordSignal(ctx, rec); err != nil {
			a.log.Warn("signal record failed", applogger.Error(err))
			a.metrics.RecordError("recorder")
		}
	}
}

// shutdown stops intake first, then drains and closes outward.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.stream.Close(); err != nil {
		a.log.Warn("stream close error", applogger.Error(err))
	}
	a.queue.Close()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Warn("recorder close error", applogger.Error(err))
		}
	} else if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
