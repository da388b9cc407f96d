//go:build wireinject
// +build wireinject

package di

import (
	"KHunter/pkg/config"
	"KHunter/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideLimiter,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// External services
		ProvideBroker,
		ProvideStream,
		ProvideBlacklist,
		ProvideRecorder,
		ProvideNotifier,
		ProvideNotifierIface,

		// Trading core
		ProvidePolicy,
		ProvideQueue,
		ProvideTracker,
		ProvideMonitor,
		ProvideEngine,
		ProvidePool,

		// Operator surface
		ProvideOpsHandler,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
