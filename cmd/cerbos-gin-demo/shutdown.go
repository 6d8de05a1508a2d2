package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/gin-cerbos/internal/config"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// run starts the server and blocks until a shutdown signal arrives.
func run(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.pushPolicies(ctx); err != nil {
		logger.Fatal("failed to push policies", observability.Error(err))
	}

	watcher := startConfigWatcher(ctx, app, configPath, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", observability.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", observability.Error(err))
	}

	shutdown(app, watcher, logger)
}

// startConfigWatcher hot-reloads route rules. Failure to watch is not fatal.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, app.reloadRules, config.WithLogger(logger))
	if err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

// shutdown drains the server and releases resources.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(ctx); err != nil {
		logger.Error("failed to stop http server gracefully", observability.Error(err))
	}

	app.close(ctx)
	logger.Info("shutdown complete")
}
