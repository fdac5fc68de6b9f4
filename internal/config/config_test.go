// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, EnvDevelopment, cfg.Server.Environment)
	assert.Equal(t, "*", cfg.Server.CORSOrigin)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.False(t, cfg.Server.Auth.Enabled())

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "mirage", cfg.Logger.ServiceName)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser.LaunchTimeout)
	assert.Equal(t, 30*time.Second, cfg.Browser.CommandTimeout)
	assert.Equal(t, 15*time.Second, cfg.Browser.CloseTimeout)

	assert.False(t, cfg.Fingerprint.EmulateTimezone)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Metrics.Namespace)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestServerConfigHelpers(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080, Environment: EnvProduction}
	assert.Equal(t, "127.0.0.1:8080", s.Addr())
	assert.False(t, s.IsDevelopment())

	s.Environment = EnvDevelopment
	assert.True(t, s.IsDevelopment())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port must be between 1 and 65535"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port must be between 1 and 65535"},
		{"bad environment", func(c *Config) { c.Server.Environment = "staging" }, "server.environment"},
		{"bad level", func(c *Config) { c.Logger.Level = "verbose" }, "logger.level"},
		{"rate limit rps", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RPS = 0
		}, "server.rate_limit.rps must be positive"},
		{"rate limit burst", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Burst = 0
		}, "server.rate_limit.burst must be positive"},
		{"body size", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.max_body_bytes"},
		{"command timeout", func(c *Config) { c.Browser.CommandTimeout = 0 }, "browser.command_timeout"},
		{"launch timeout", func(c *Config) { c.Browser.LaunchTimeout = -time.Second }, "browser.launch_timeout"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("disabled rate limit ignores values", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Server.RateLimit.RPS = 0
		cfg.Server.RateLimit.Burst = 0
		assert.NoError(t, cfg.Validate())
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("YAML overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")

		yamlConfig := []byte(`
server:
  port: 4100
  environment: production
  rate_limit:
    enabled: true
    rps: 5
    burst: 10
browser:
  headless: false
  command_timeout: 5s
  args: ["--disable-gpu"]
fingerprint:
  emulate_timezone: true
metrics:
  namespace: mirage
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 4100, cfg.Server.Port)
		assert.Equal(t, EnvProduction, cfg.Server.Environment)
		assert.True(t, cfg.Server.RateLimit.Enabled)
		assert.Equal(t, 5.0, cfg.Server.RateLimit.RPS)
		assert.Equal(t, 10, cfg.Server.RateLimit.Burst)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 5*time.Second, cfg.Browser.CommandTimeout)
		assert.Equal(t, []string{"--disable-gpu"}, cfg.Browser.Args)
		assert.True(t, cfg.Fingerprint.EmulateTimezone)
		assert.Equal(t, "mirage", cfg.Metrics.Namespace)
		// Untouched keys keep their defaults.
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("server.port", -1)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("home directory is expanded", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("logger.log_file", "~/mirage/mirage.log")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "mirage", "mirage.log"), cfg.Logger.LogFile)
	})
}

func TestBindEnv(t *testing.T) {
	t.Run("bare aliases", func(t *testing.T) {
		t.Setenv("PORT", "8181")
		t.Setenv("NODE_ENV", "test")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("CORS_ORIGIN", "https://example.com")

		v := viper.New()
		SetDefaults(v)
		require.NoError(t, BindEnv(v))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 8181, cfg.Server.Port)
		assert.Equal(t, EnvTest, cfg.Server.Environment)
		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, "https://example.com", cfg.Server.CORSOrigin)
	})

	t.Run("prefixed variable wins over alias", func(t *testing.T) {
		t.Setenv("PORT", "8181")
		t.Setenv("MIRAGE_SERVER_PORT", "9191")

		v := viper.New()
		SetDefaults(v)
		require.NoError(t, BindEnv(v))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
	})

	t.Run("nested keys through automatic env", func(t *testing.T) {
		t.Setenv("MIRAGE_BROWSER_HEADLESS", "false")

		v := viper.New()
		SetDefaults(v)
		require.NoError(t, BindEnv(v))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.False(t, cfg.Browser.Headless)
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MIRAGE_DOTENV_PROBE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MIRAGE_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("MIRAGE_DOTENV_PROBE"))
}
