package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"OBFlow/internal/usecase"
	"OBFlow/pkg/config"
	xhttp "OBFlow/pkg/http"
	applogger "OBFlow/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	engine     *usecase.Engine
	handler    xhttp.Handler
	logger     *applogger.Logger
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	engine *usecase.Engine,
	handler xhttp.Handler,
	logger *applogger.Logger,
) *App {
	return &App{
		cfg:     cfg,
		engine:  engine,
		handler: handler,
		logger:  logger,
	}
}

// Run starts the engine and HTTP server and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.engine.Start(ctx); err != nil {
		a.logger.Error("engine start error", applogger.Error(err))
		return err
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops the HTTP surface first so probes fail fast, then
// drains the engine: final snapshots happen inside Engine.Stop.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown error", applogger.Error(err))
	}
	if err := a.engine.Stop(shutdownCtx); err != nil {
		a.logger.Warn("engine stop error", applogger.Error(err))
	}

	a.logger.Info("shutdown complete")
	return nil
}
