package di

import (
	"context"
	"fmt"
	"time"

	"KHunter/internal/dispatch"
	"KHunter/internal/domain/models"
	drepo "KHunter/internal/domain/repository"
	"KHunter/internal/engine"
	"KHunter/internal/engine/allocation"
	"KHunter/internal/handler/api"
	"KHunter/internal/health"
	"KHunter/internal/notify"
	internalrepo "KHunter/internal/repository"
	"KHunter/internal/service/blacklist"
	"KHunter/internal/service/kis"
	"KHunter/internal/service/kiwoom"
	"KHunter/internal/service/ratelimit"
	"KHunter/internal/tracker"
	"KHunter/pkg/cache"
	pkgch "KHunter/pkg/clickhouse"
	"KHunter/pkg/config"
	xhttp "KHunter/pkg/http"
	pkgkafka "KHunter/pkg/kafka"
	applogger "KHunter/pkg/logger"
	"KHunter/pkg/metrics"
	"KHunter/pkg/server"
)

// ProvideLogger creates the application logger with the warn/error ring
// served by the ops API.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level, format := "info", "json"
	if cfg.Environment == "development" {
		level, format = "debug", "console"
	}
	log, err := applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
	if err != nil {
		return nil, err
	}
	return log.WithRing(256), nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideLimiter creates the shared provider rate limiter.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.PerHour)
}

// ProvideBroker creates the KIS execution client.
func ProvideBroker(cfg *config.Config, limiter *ratelimit.Limiter, m drepo.Metrics, log *applogger.Logger) drepo.Broker {
	return kis.New(kis.Config{
		BaseURL:       cfg.KIS.URL,
		AppKey:        cfg.KIS.AppKey,
		AppSecret:     cfg.KIS.AppSecret,
		AccountNumber: cfg.KIS.AccountNumber,
		ProductCode:   cfg.KIS.AccountProductCode,
		Timeout:       cfg.KIS.Timeout,
		RetryAttempts: cfg.KIS.RetryAttempts,
	}, limiter, m, log)
}

// ProvideStream creates the Kiwoom condition WebSocket stream.
func ProvideStream(cfg *config.Config, log *applogger.Logger) drepo.SignalStream {
	return kiwoom.New(
		cfg.Kiwoom.WebSocketURL,
		cfg.Kiwoom.AppKey,
		cfg.Kiwoom.AppSecret,
		cfg.Kiwoom.PingInterval,
		cfg.Kiwoom.Buffer,
		log,
	)
}

// ProvideRedisCache creates the Redis connection for the blacklist set.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	c, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return c, nil
}

// ProvideBlacklist creates the exclusion set store.
func ProvideBlacklist(cfg *config.Config, c *cache.RedisCache, log *applogger.Logger) *blacklist.Store {
	return blacklist.New(c, cfg.Redis.BlacklistKey, cfg.Redis.RefreshPeriod, log)
}

// ProvideKafkaProducer creates the Kafka producer for notification fanout.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideNotifier creates the bounded notification queue with the
// configured sinks.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) *notify.Notifier {
	var sinks []notify.Sink
	if len(cfg.Kafka.Brokers) > 0 && cfg.Notify.KafkaTopic != "" {
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Notify.KafkaTopic))
	}
	if cfg.Notify.WebhookURL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
		sinks = append(sinks, notify.NewWebhookSink(client, cfg.Notify.WebhookURL))
	}
	return notify.New(cfg.Notify.Capacity, log, sinks)
}

// ProvideNotifierIface exposes the queue behind the domain interface.
func ProvideNotifierIface(n *notify.Notifier) drepo.Notifier { return n }

// ProvideClickHouseClient creates the analytics store client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideRecorder creates the trade/signal recorder and applies the schema.
func ProvideRecorder(client *pkgch.Client) (drepo.Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return internalrepo.NewClickHouseRecorder(ctx, client)
}

// ProvidePolicy creates the configured capital allocation policy.
func ProvidePolicy(cfg *config.Config) (allocation.Policy, error) {
	switch cfg.Allocation.Policy {
	case "fixed_amount":
		return allocation.NewFixedAmount(cfg.Allocation.Amount), nil
	case "percentage":
		return allocation.NewPercentage(cfg.Allocation.Percent), nil
	case "pyramid":
		return allocation.NewPyramid(cfg.Allocation.InitialPct, cfg.Allocation.AdditionalPct), nil
	default:
		return nil, fmt.Errorf("unknown allocation policy %q", cfg.Allocation.Policy)
	}
}

// ProvideQueue creates the bounded dispatch queue.
func ProvideQueue(cfg *config.Config) *dispatch.Queue {
	return dispatch.NewQueue(cfg.Dispatch.QueueSize)
}

// ProvideTracker creates the position tracker.
func ProvideTracker(
	cfg *config.Config,
	broker drepo.Broker,
	queue *dispatch.Queue,
	notifier drepo.Notifier,
	m drepo.Metrics,
	recorder drepo.Recorder,
	policy allocation.Policy,
	log *applogger.Logger,
) *tracker.Tracker {
	opts := []tracker.Option{}
	if p, ok := policy.(*allocation.Pyramid); ok {
		opts = append(opts, tracker.WithPyramid(p))
	}
	return tracker.New(tracker.Config{
		Rules: tracker.ExitRules{
			TakeProfitPct:   cfg.Exit.TakeProfitPct,
			StopLossPct:     cfg.Exit.StopLossPct,
			TrailingEnabled: cfg.Exit.TrailingEnabled,
			TrailingTrigger: cfg.Exit.TrailingTrigger,
			TrailingRate:    cfg.Exit.TrailingRate,
			MaxHold:         cfg.Exit.MaxHold,
		},
		UnfilledTimeout:   cfg.Orders.UnfilledTimeout,
		SweepInterval:     cfg.Orders.SweepInterval,
		ReconcileInterval: cfg.Orders.ReconcileInterval,
		ResubmitAsMarket:  cfg.Orders.ResubmitAsMarket,
	}, broker, queue, notifier, m, recorder, log, opts...)
}

// ProvideMonitor creates the health monitor.
func ProvideMonitor(cfg *config.Config, stream drepo.SignalStream, broker drepo.Broker, notifier drepo.Notifier, m drepo.Metrics, log *applogger.Logger) *health.Monitor {
	return health.New(stream, broker, notifier, m, log,
		cfg.Health.Interval, cfg.Health.TokenRefreshMargin)
}

// brokerPrices adapts the broker to the engine's price lookup.
type brokerPrices struct{ broker drepo.Broker }

func (p brokerPrices) Price(ctx context.Context, stockCode string) (int64, error) {
	return p.broker.GetPrice(ctx, stockCode)
}

// ProvideEngine creates the filter engine over the live views.
func ProvideEngine(
	cfg *config.Config,
	trk *tracker.Tracker,
	bl *blacklist.Store,
	broker drepo.Broker,
	policy allocation.Policy,
	monitor *health.Monitor,
) *engine.Engine {
	return engine.New(
		engine.Settings{
			Mode:        models.CombineMode(cfg.Strategy.CombineMode),
			Conditions:  cfg.Strategy.Conditions,
			Window:      cfg.Strategy.SequentialWindow,
			MaxHoldings: cfg.Strategy.MaxHoldings,
			MaxExposure: cfg.Strategy.MaxExposurePct,
			Cooldown:    cfg.Strategy.EntryCooldown,
			InHours:     cfg.InOperatingHours,
		},
		engine.Deps{
			Holdings:  trk.Book(),
			Balances:  trk,
			Blacklist: bl,
			Prices:    brokerPrices{broker: broker},
			Policy:    policy,
			Halt:      monitor,
		},
	)
}

// ProvidePool creates the dispatch worker pool.
func ProvidePool(
	cfg *config.Config,
	queue *dispatch.Queue,
	broker drepo.Broker,
	trk *tracker.Tracker,
	monitor *health.Monitor,
	notifier drepo.Notifier,
	m drepo.Metrics,
	log *applogger.Logger,
) *dispatch.Pool {
	return dispatch.NewPool(queue, broker, trk.Pending(), monitor, notifier, m, log, cfg.Dispatch.Workers)
}

// ProvideOpsHandler creates the operator API handler.
func ProvideOpsHandler(monitor *health.Monitor, trk *tracker.Tracker, eng *engine.Engine, queue *dispatch.Queue, bl *blacklist.Store, log *applogger.Logger) xhttp.Handler {
	return api.NewOpsHandler(monitor, trk, eng, queue, bl, log)
}

// ProvideApp assembles the application.
func ProvideApp(
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
	m drepo.Metrics,
	handler xhttp.Handler,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
) *server.App {
	app := server.New(cfg, log, stream, broker, eng, queue, pool, trk, monitor, bl, notifier, recorder, m)
	app.SetHTTPHandler(handler)
	app.SetProducer(producer)
	app.SetClickHouse(chClient)
	return app
}
