// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// Monitoring configuration
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Sync configuration
	Sync SyncConfig `yaml:"sync"`

	// Transport configuration
	Transport TransportConfig `yaml:"transport"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Report configuration
	Report ReportConfig `yaml:"report"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// MonitoringConfig holds region monitoring settings.
type MonitoringConfig struct {
	// MaxRegions is the platform cap on concurrently monitored geofences.
	MaxRegions int `envconfig:"GEOSYNC_MAX_REGIONS" yaml:"max_regions"`
}

// SyncConfig holds synchronization pass settings.
type SyncConfig struct {
	// SanityThreshold is the pending-event count above which the engine
	// prefers discarding to unbounded growth.
	SanityThreshold int `envconfig:"GEOSYNC_SANITY_THRESHOLD" yaml:"sanity_threshold"`

	// MaxUploadAttempts bounds retry rounds once the queue is overloaded.
	MaxUploadAttempts int `envconfig:"GEOSYNC_MAX_UPLOAD_ATTEMPTS" yaml:"max_upload_attempts"`

	// BatchSize is the number of events per upload request.
	BatchSize int `envconfig:"GEOSYNC_BATCH_SIZE" yaml:"batch_size"`

	// UploadWorkers bounds concurrent upload requests in a pass.
	UploadWorkers int `envconfig:"GEOSYNC_UPLOAD_WORKERS" yaml:"upload_workers"`
}

// TransportConfig holds sync-transport settings.
type TransportConfig struct {
	BaseURL           string        `envconfig:"GEOSYNC_TRANSPORT_URL" yaml:"base_url"`
	Timeout           time.Duration `envconfig:"GEOSYNC_TRANSPORT_TIMEOUT" yaml:"timeout"`
	RequestsPerSecond float64       `envconfig:"GEOSYNC_TRANSPORT_RPS" yaml:"requests_per_second"`
	Burst             int           `envconfig:"GEOSYNC_TRANSPORT_BURST" yaml:"burst"`
}

// StorageConfig holds durable store settings.
type StorageConfig struct {
	Type     string `envconfig:"GEOSYNC_STORAGE_TYPE" yaml:"type"`
	Path     string `envconfig:"GEOSYNC_STORAGE_PATH" yaml:"path"`
	RedisURL string `envconfig:"GEOSYNC_REDIS_URL" yaml:"redis_url"`
}

// ReportConfig holds instrumentation sink settings.
type ReportConfig struct {
	Type         string `envconfig:"GEOSYNC_REPORT_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"GEOSYNC_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaTopic   string `envconfig:"GEOSYNC_KAFKA_TOPIC" yaml:"kafka_topic"`
	ClientID     string `envconfig:"GEOSYNC_KAFKA_CLIENT_ID" yaml:"client_id"`
}

// SchedulerConfig holds trigger scheduling settings.
type SchedulerConfig struct {
	// Coalesce is what happens to triggers arriving mid-pass:
	// "followup" defers them into a single follow-up pass, "drop" ignores them.
	Coalesce string `envconfig:"GEOSYNC_COALESCE" yaml:"coalesce"`

	// PassTimeout bounds a single synchronization pass.
	PassTimeout time.Duration `envconfig:"GEOSYNC_PASS_TIMEOUT" yaml:"pass_timeout"`

	// PeriodicInterval is the wake-up cadence of the daemon's periodic
	// trigger source. Zero disables it.
	PeriodicInterval time.Duration `envconfig:"GEOSYNC_PERIODIC_INTERVAL" yaml:"periodic_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"GEOSYNC_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"GEOSYNC_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Monitoring = MonitoringConfig{
		MaxRegions: 20,
	}

	cfg.Sync = SyncConfig{
		SanityThreshold:   20,
		MaxUploadAttempts: 3,
		BatchSize:         10,
		UploadWorkers:     2,
	}

	cfg.Transport = TransportConfig{
		BaseURL:           "http://localhost:8080",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}

	cfg.Storage = StorageConfig{
		Type:     "memory",
		RedisURL: "redis://localhost:6379",
	}

	cfg.Report = ReportConfig{
		Type:     "log",
		ClientID: "geosync-report",
	}

	cfg.Scheduler = SchedulerConfig{
		Coalesce:         "followup",
		PassTimeout:      time.Minute,
		PeriodicInterval: 15 * time.Minute,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Monitoring.MaxRegions < 1 {
		errs = append(errs, "max_regions must be positive")
	}

	if c.Sync.SanityThreshold < 1 {
		errs = append(errs, "sanity_threshold must be positive")
	}

	if c.Sync.MaxUploadAttempts < 1 {
		errs = append(errs, "max_upload_attempts must be positive")
	}

	if c.Sync.BatchSize < 1 {
		errs = append(errs, "batch_size must be positive")
	}

	if c.Sync.UploadWorkers < 1 {
		errs = append(errs, "upload_workers must be positive")
	}

	if c.Transport.BaseURL == "" {
		errs = append(errs, "transport base_url cannot be empty")
	}

	validStorage := map[string]bool{"memory": true, "file": true, "redis": true}
	if !validStorage[c.Storage.Type] {
		errs = append(errs, fmt.Sprintf("invalid storage type: %s (must be memory, file, or redis)", c.Storage.Type))
	}

	if c.Storage.Type == "file" && c.Storage.Path == "" {
		errs = append(errs, "storage path required for file storage")
	}

	validReport := map[string]bool{"log": true, "kafka": true}
	if !validReport[c.Report.Type] {
		errs = append(errs, fmt.Sprintf("invalid report type: %s (must be log or kafka)", c.Report.Type))
	}

	if c.Report.Type == "kafka" && c.Report.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers required for kafka report sink")
	}

	validCoalesce := map[string]bool{"followup": true, "drop": true}
	if !validCoalesce[c.Scheduler.Coalesce] {
		errs = append(errs, fmt.Sprintf("invalid coalesce policy: %s (must be followup or drop)", c.Scheduler.Coalesce))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
