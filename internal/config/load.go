package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. SCANNER_DATABASE_URL for database.url.
const EnvPrefix = "SCANNER"

// ErrMissingAPIKey is returned by RequireAnalysisKey when no provider key is configured.
var ErrMissingAPIKey = errors.New("analysis.api_key is required")

// ErrPoolTooSmall is returned when the connection pool cannot hold one
// lease transaction per worker plus headroom for other queries.
var ErrPoolTooSmall = errors.New("database.max_open_conns must be at least worker.count + 2")

// poolHeadroom is the number of connections kept free of lease transactions.
const poolHeadroom = 2

// Load reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence.
// An empty path searches for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = cfg.Database.assembleURL()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Database.MaxOpenConns < cfg.Worker.Count+poolHeadroom {
		return nil, fmt.Errorf("invalid configuration: %w (have %d, workers %d)",
			ErrPoolTooSmall, cfg.Database.MaxOpenConns, cfg.Worker.Count)
	}

	return &cfg, nil
}

// RequireAnalysisKey reports an error when the provider API key is missing.
// Only processes that talk to the provider call it.
func (c *Config) RequireAnalysisKey() error {
	if c.Analysis.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.host", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.lease_ttl", "15s")
	v.SetDefault("worker.idle_backoff", "5s")

	v.SetDefault("storage.upload_dir", "/data/uploads")
	v.SetDefault("storage.report_dir", "/data/reports")
	v.SetDefault("storage.max_upload_bytes", 50*1024*1024)

	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("analysis.requests_per_minute", 4)
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.max_poll_retries", 3)

	v.SetDefault("notify.channel", "scan_events")
	v.SetDefault("notify.baseline_limit", 100)
	v.SetDefault("notify.subscriber_buffer", 64)
}

// assembleURL builds a postgres URL from discrete settings, or returns ""
// when the required parts are missing.
func (d DatabaseConfig) assembleURL() string {
	if d.User == "" || d.Name == "" || d.Host == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	return u.String()
}
