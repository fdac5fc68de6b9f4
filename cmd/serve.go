// -- cmd/serve.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/api"
	"github.com/xkilldash9x/mirage/internal/browser"
	"github.com/xkilldash9x/mirage/internal/browser/fingerprint"
	"github.com/xkilldash9x/mirage/internal/config"
	"github.com/xkilldash9x/mirage/internal/observability"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		prelaunch bool
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API and manages the shared browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal-aware context from main.go.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			components := initializeServeComponents(cfg, logger)
			defer components.Shutdown(cfg)

			if prelaunch {
				launchCtx, cancel := context.WithTimeout(ctx, cfg.Browser.LaunchTimeout)
				err := components.Manager.Initialize(launchCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("failed to prelaunch browser: %w", err)
				}
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr())
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
			}
			logger.Info("Mirage ready",
				zap.String("address", ln.Addr().String()),
				zap.String("environment", cfg.Server.Environment),
				zap.Bool("auth", cfg.Server.Auth.Enabled()),
			)

			if err := components.Server.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	serveCmd.Flags().StringVar(&host, "host", "", "Listen host. (Overrides config/env)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port. (Overrides config/env)")
	serveCmd.Flags().BoolVar(&prelaunch, "prelaunch", false, "Launch the browser before accepting requests instead of on first use.")

	return serveCmd
}

// serveComponents holds the wired services.
type serveComponents struct {
	Metrics  *observability.Metrics
	Manager  *browser.Manager
	Registry *browser.Registry
	Executor *browser.Executor
	Server   *api.Server
	logger   *zap.Logger
}

// initializeServeComponents handles dependency injection. Nothing here
// touches the browser; the manager launches lazily.
func initializeServeComponents(cfg *config.Config, logger *zap.Logger) *serveComponents {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	launcher := browser.NewChromiumLauncher(cfg.Browser, cfg.Fingerprint, logger)
	manager := browser.NewManager(launcher, logger)
	generator := fingerprint.NewGenerator(nil)

	registry := browser.NewRegistry(manager, generator, metrics, logger,
		browser.WithNavigationTimeout(cfg.Browser.CommandTimeout))
	executor := browser.NewExecutor(manager, metrics, cfg.Browser.CommandTimeout, logger)

	handlers := api.NewHandlers(logger, executor, registry, generator, manager, cfg.Server.IsDevelopment())
	server := api.NewServer(cfg.Server, cfg.Metrics, handlers, metrics.Handler(), logger)

	return &serveComponents{
		Metrics:  metrics,
		Manager:  manager,
		Registry: registry,
		Executor: executor,
		Server:   server,
		logger:   logger,
	}
}

// Shutdown closes every view, then the manager. The HTTP server has already
// drained by the time this runs.
func (sc *serveComponents) Shutdown(cfg *config.Config) {
	timeout := cfg.Browser.CloseTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sc.Registry.CloseAll(ctx); err != nil {
		sc.logger.Warn("Error while closing web views", zap.Error(err))
	}
	if err := sc.Manager.Close(ctx); err != nil {
		sc.logger.Warn("Error during browser manager shutdown", zap.Error(err))
	}
	sc.logger.Info("Mirage stopped")
}
