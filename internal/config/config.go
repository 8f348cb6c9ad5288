package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Analysis AnalysisConfig `mapstructure:"analysis" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify"   validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// When URL is empty it is assembled from the individual connection parts.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required,url"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
}

// WorkerConfig controls the task lease queue consumers.
type WorkerConfig struct {
	Count       int           `mapstructure:"count"        validate:"gt=0"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"    validate:"gt=0"`
	IdleBackoff time.Duration `mapstructure:"idle_backoff" validate:"gt=0"`
}

// StorageConfig locates uploaded content and scan reports on disk.
type StorageConfig struct {
	UploadDir      string `mapstructure:"upload_dir"       validate:"required"`
	ReportDir      string `mapstructure:"report_dir"       validate:"required"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// AnalysisConfig configures the external analysis provider (VirusTotal).
type AnalysisConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"            validate:"required,url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"gt=0"`
	MaxPollRetries    uint64        `mapstructure:"max_poll_retries"`
}

// NotifyConfig configures change notification fan-out.
type NotifyConfig struct {
	Channel          string `mapstructure:"channel"           validate:"required,max=63"`
	BaselineLimit    int    `mapstructure:"baseline_limit"    validate:"gt=0"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer" validate:"gt=0"`
}
