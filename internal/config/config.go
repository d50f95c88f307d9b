// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding file values.
const EnvPrefix = "RPCDISPATCH"

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Server configuration
	Server struct {
		// Host is the HTTP server host
		Host string `mapstructure:"host"`
		// Port is the HTTP server port
		Port int `mapstructure:"port" validate:"min=1,max=65535"`
		// Path is the endpoint accepting JSON-RPC POST requests
		Path string `mapstructure:"path" validate:"startswith=/"`
		// ReadTimeout is the maximum duration for reading the entire request
		ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`
		// IdleTimeout is the maximum amount of time to wait for the next request
		IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`
		// ShutdownTimeout bounds graceful shutdown
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
		// MaxBodyBytes caps the size of a request payload
		MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`
		// HealthPath serves the health report; empty disables it
		HealthPath string `mapstructure:"health_path" validate:"omitempty,startswith=/"`

		// CORS configuration; no allowed origins disables it
		CORS struct {
			AllowedOrigins   []string `mapstructure:"allowed_origins"`
			AllowCredentials bool     `mapstructure:"allow_credentials"`
			MaxAge           int      `mapstructure:"max_age" validate:"min=0"`
		} `mapstructure:"cors"`
	} `mapstructure:"server"`

	// WebSocket configuration
	WebSocket struct {
		// Enabled mounts the WebSocket endpoint
		Enabled bool `mapstructure:"enabled"`
		// Path is the WebSocket endpoint
		Path string `mapstructure:"path" validate:"required_if=Enabled true,omitempty,startswith=/"`
		// MaxMessageSize is the maximum message size
		MaxMessageSize int64 `mapstructure:"max_message_size" validate:"min=0"`
		// WriteWait is the time allowed to write a message to the peer
		WriteWait time.Duration `mapstructure:"write_wait" validate:"min=0"`
		// PongWait is the time allowed to read the next pong message from the peer
		PongWait time.Duration `mapstructure:"pong_wait" validate:"min=0"`
		// MaxInFlight bounds the messages handled at once per connection
		MaxInFlight int `mapstructure:"max_in_flight" validate:"min=0"`
	} `mapstructure:"websocket"`

	// Dispatcher configuration
	Dispatcher struct {
		// BatchConcurrency is the number of batch elements processed at once
		BatchConcurrency int `mapstructure:"batch_concurrency" validate:"min=1"`
		// MaxBatchSize rejects larger batches; zero disables the limit
		MaxBatchSize int `mapstructure:"max_batch_size" validate:"min=0"`
		// SentinelKey carries positional arguments inside named params
		SentinelKey string `mapstructure:"sentinel_key" validate:"required"`
		// Codec is the payload encoding, json or cbor
		Codec string `mapstructure:"codec" validate:"oneof=json cbor"`
	} `mapstructure:"dispatcher"`

	// Logging configuration
	Logging struct {
		// Level is the logging level
		Level string `mapstructure:"level" validate:"oneof=debug info warn error dpanic panic fatal"`
		// Format is the logging format (json or console)
		Format string `mapstructure:"format" validate:"oneof=json console"`
		// OutputPaths is the list of output paths for logs
		OutputPaths []string `mapstructure:"output_paths"`
	} `mapstructure:"logging"`

	// Metrics configuration
	Metrics struct {
		// Enabled exposes Prometheus metrics
		Enabled bool `mapstructure:"enabled"`
		// Path is the metrics endpoint
		Path string `mapstructure:"path" validate:"required_if=Enabled true,omitempty,startswith=/"`
	} `mapstructure:"metrics"`

	// RateLimit configuration
	RateLimit struct {
		// Enabled turns on per-client method rate limiting
		Enabled bool `mapstructure:"enabled"`
		// Backend is memory or redis
		Backend string `mapstructure:"backend" validate:"oneof=memory redis"`
		// Requests is the number of calls allowed per window
		Requests int `mapstructure:"requests" validate:"min=1"`
		// Window is the sliding window length
		Window time.Duration `mapstructure:"window" validate:"min=1ms"`

		// Redis backend settings
		Redis struct {
			Address  string `mapstructure:"address"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db" validate:"min=0"`
		} `mapstructure:"redis"`
	} `mapstructure:"rate_limit"`

	// Auth configuration
	Auth struct {
		// JWTSecret enables bearer authentication when set
		JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=16"`
		// Issuer is the expected token issuer
		Issuer string `mapstructure:"issuer"`
		// Audience is the expected token audience
		Audience string `mapstructure:"audience"`
		// TokenTTL is the lifetime of issued tokens
		TokenTTL time.Duration `mapstructure:"token_ttl" validate:"min=1s"`
	} `mapstructure:"auth"`
}

// LoadConfig loads the configuration from file and environment variables.
// It looks for rpcdispatch.yaml in the following locations:
// 1. Path specified in the CONFIG_FILE environment variable
// 2. ./configs directory
// 3. /etc/rpcdispatch directory
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads the configuration from configFile, or from the default search
// paths when it is empty. A missing file in the search paths is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rpcdispatch")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/rpcdispatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.path", "/rpc")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.health_path", "/health")
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.cors.max_age", 86400)

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_in_flight", 16)

	// Dispatcher defaults
	v.SetDefault("dispatcher.batch_concurrency", 1)
	v.SetDefault("dispatcher.max_batch_size", 0)
	v.SetDefault("dispatcher.sentinel_key", "__args")
	v.SetDefault("dispatcher.codec", "json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stderr"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.redis.address", "localhost:6379")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "rpcdispatch")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.token_ttl", "1h")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags. Every failing
// field is reported in a single error.
func Validate(config *Config) error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", e.Namespace(), e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AuthEnabled reports whether bearer authentication is configured.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// GetConfigString returns a formatted string with the current configuration
func GetConfigString(config *Config) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Environment: %s\n", config.Environment))
	sb.WriteString(fmt.Sprintf("Server: %s (path %s)\n", config.Addr(), config.Server.Path))
	sb.WriteString(fmt.Sprintf("Health Path: %q\n", config.Server.HealthPath))
	sb.WriteString(fmt.Sprintf("CORS Origins: %v\n", config.Server.CORS.AllowedOrigins))
	sb.WriteString(fmt.Sprintf("Codec: %s\n", config.Dispatcher.Codec))
	sb.WriteString(fmt.Sprintf("Batch Concurrency: %d\n", config.Dispatcher.BatchConcurrency))
	sb.WriteString(fmt.Sprintf("Max Batch Size: %d\n", config.Dispatcher.MaxBatchSize))
	sb.WriteString(fmt.Sprintf("WebSocket Enabled: %t\n", config.WebSocket.Enabled))
	sb.WriteString(fmt.Sprintf("Metrics Enabled: %t\n", config.Metrics.Enabled))
	sb.WriteString(fmt.Sprintf("Rate Limit: %t (%s, %d per %s)\n",
		config.RateLimit.Enabled, config.RateLimit.Backend, config.RateLimit.Requests, config.RateLimit.Window))
	sb.WriteString(fmt.Sprintf("Auth Enabled: %t\n", config.AuthEnabled()))

	return sb.String()
}
