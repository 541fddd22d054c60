// Package config loads the application configuration from a YAML file
// and CONCIERGE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"concierge/internal/session"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig          `mapstructure:"server"`
	Logging     LoggingConfig         `mapstructure:"logging"`
	Store       session.FactoryConfig `mapstructure:"store"`
	Orchestrate OrchestrateConfig     `mapstructure:"orchestrate"`
	Voice       VoiceConfig           `mapstructure:"voice"`
	SMTP        SMTPConfig            `mapstructure:"smtp"`
	OTP         OTPConfig             `mapstructure:"otp"`
	Leases      LeasesConfig          `mapstructure:"leases"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxConcurrent   int64         `mapstructure:"max_concurrent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	WSIdleTimeout   time.Duration `mapstructure:"ws_idle_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OrchestrateConfig carries the reasoning backend credentials.
type OrchestrateConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	InstanceID    string        `mapstructure:"instance_id"`
	AgentID       string        `mapstructure:"agent_id"`
	APIToken      string        `mapstructure:"api_token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxIterations int           `mapstructure:"max_iterations"`
}

// VoiceConfig carries the speech service credentials and tuning.
type VoiceConfig struct {
	DeepgramAPIKey string `mapstructure:"deepgram_api_key"`
	ListenModel    string `mapstructure:"listen_model"`
	SpeakModel     string `mapstructure:"speak_model"`
	Language       string `mapstructure:"language"`
	EndpointingMS  int    `mapstructure:"endpointing_ms"`
	Console        bool   `mapstructure:"console"`
}

// SMTPConfig carries outbound mail settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// OTPConfig tunes one-time password issuance.
type OTPConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LeasesConfig points at the lease/tenant database. Empty DSN leaves
// the lease tool routes unconfigured.
type LeasesConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration using the given viper instance, applying
// defaults, an optional concierge-config.yaml, and environment
// overrides. Pass viper.New() for an isolated instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetConfigName("concierge-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix("CONCIERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.max_concurrent", 10)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.ws_idle_timeout", "300s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.ttl_seconds", 3600)
	v.SetDefault("orchestrate.timeout", "60s")
	v.SetDefault("orchestrate.max_iterations", 50)
	v.SetDefault("voice.listen_model", "nova-2")
	v.SetDefault("voice.speak_model", "aura-asteria-en")
	v.SetDefault("voice.language", "en-US")
	v.SetDefault("voice.endpointing_ms", 300)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("otp.ttl", "5m")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
