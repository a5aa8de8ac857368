//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalGate/pkg/config"
	"SignalGate/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCacheStore,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideIndicatorProvider,
		ProvidePositionProvider,
		ProvideDecisionSink,
		ProvideAuditStore,
		ProvideValidationCache,
		ProvideSwitchStore,

		// Use cases
		ProvideProfiles,
		ProvideOrchestratorConfig,
		ProvideRunRegistry,
		ProvideAuditProjector,
		ProvideOrchestrator,
		ProvideRunRequestsHandler,

		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
