// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Environment names understood by server.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// EnvPrefix is the prefix for environment variable overrides (MIRAGE_SERVER_PORT, ...).
const EnvPrefix = "MIRAGE"

// Config holds the entire application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" yaml:"fingerprint"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host"`
	Port            int             `mapstructure:"port" yaml:"port"`
	Environment     string          `mapstructure:"environment" yaml:"environment"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Auth            AuthConfig      `mapstructure:"auth" yaml:"auth"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment reports whether verbose error details may be exposed to clients.
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == EnvDevelopment
}

// RateLimitConfig configures the token bucket guarding /api.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// AuthConfig configures bearer token authentication. An empty secret disables it.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
}

// Enabled reports whether requests to /api must carry a valid token.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser engine.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// FingerprintConfig tunes how generated identities are applied.
type FingerprintConfig struct {
	EmulateTimezone bool `mapstructure:"emulate_timezone" yaml:"emulate_timezone"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rps", 20.0)
	v.SetDefault("server.rate_limit.burst", 40)
	v.SetDefault("server.auth.jwt_secret", "")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mirage")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.command_timeout", "30s")
	v.SetDefault("browser.close_timeout", "15s")

	// -- Fingerprint --
	v.SetDefault("fingerprint.emulate_timezone", false)

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "")
}

// BindEnv wires the MIRAGE_ prefixed environment and the bare variable names
// the service historically honored (PORT, NODE_ENV, LOG_LEVEL, CORS_ORIGIN).
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string][]string{
		"server.port":        {EnvPrefix + "_SERVER_PORT", "PORT"},
		"server.environment": {EnvPrefix + "_SERVER_ENVIRONMENT", "NODE_ENV"},
		"server.cors_origin": {EnvPrefix + "_SERVER_CORS_ORIGIN", "CORS_ORIGIN"},
		"logger.level":       {EnvPrefix + "_LOGGER_LEVEL", "LOG_LEVEL"},
		"server.auth.jwt_secret": {EnvPrefix + "_SERVER_AUTH_JWT_SECRET"},
	}
	for key, names := range aliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in filesystem paths.
func (c *Config) expandPaths() error {
	var err error
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	if c.Browser.UserDataDir, err = homedir.Expand(c.Browser.UserDataDir); err != nil {
		return fmt.Errorf("browser.user_data_dir: %w", err)
	}
	if c.Browser.ExecPath, err = homedir.Expand(c.Browser.ExecPath); err != nil {
		return fmt.Errorf("browser.exec_path: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("server.environment must be one of development, production, test")
	}
	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("logger.level %q is not a valid level", c.Logger.Level)
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RPS <= 0 {
			return fmt.Errorf("server.rate_limit.rps must be positive")
		}
		if c.Server.RateLimit.Burst <= 0 {
			return fmt.Errorf("server.rate_limit.burst must be positive")
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Browser.CommandTimeout <= 0 {
		return fmt.Errorf("browser.command_timeout must be a positive duration")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}
	return nil
}
