// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/config"
	"github.com/xkilldash9x/mirage/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds the command tree. Each call returns a fresh tree so
// flags and config never leak between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mirage",
		Short: "Mirage serves fingerprint-randomized headless browser sessions over HTTP.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				// Fall back to a basic logger so the failure is still visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mirage"})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting mirage", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

// Execute runs the root command with a signal-aware context and exits
// non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

// loadConfig layers defaults, the config file, .env and the environment.
func loadConfig(cfgFile string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	return config.NewConfigFromViper(v)
}

// configFromContext returns the config stored by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
