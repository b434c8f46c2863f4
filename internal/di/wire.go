//go:build wireinject
// +build wireinject

package di

import (
	"OBFlow/pkg/config"
	"OBFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideStateStore,
		ProvideSpecCache,
		ProvideArchive,
		ProvideNotifier,

		// Exchange adapters
		ProvideStream,
		ProvideBroker,

		// Engine and HTTP surface
		ProvideEngine,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
