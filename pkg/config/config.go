// Package config provides application configuration for tributary.
//
// Two inputs are kept apart on purpose: the application config (lake
// location, state directory, HTTP policy, quality thresholds), loaded
// with viper so every knob has an environment override, and the source
// catalog, a separate ordered YAML document parsed with yaml.v3 because
// sources run sequentially in declaration order and viper's map-based
// unmarshalling does not preserve order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrMissingLakeRoot  = errors.New("lake root must be set")
	ErrMissingStateDir  = errors.New("state directory must be set")
	ErrInvalidRetryMax  = errors.New("http retry max must not be negative")
	ErrInvalidTimeout   = errors.New("http request timeout must be positive")
	ErrInvalidThreshold = errors.New("quality max reject fraction must be within [0, 1]")
	ErrInvalidMaxPages  = errors.New("ingest max pages must be positive")
	ErrInvalidBatchSize = errors.New("ingest max batch size must be positive")
	ErrInvalidPartition = errors.New("lake default partition must be set")
)

// Default configuration values.
const (
	defaultStateDir          = "./state"
	defaultLakeRoot          = "./lake"
	defaultPartitionKey      = "ingest_date"
	defaultRequestTimeout    = 30 * time.Second
	defaultRetryMax          = 3
	defaultBackoffInitial    = 1500 * time.Millisecond
	defaultBackoffMax        = time.Minute
	defaultMaxPages          = 100
	defaultMaxBatchSize      = 5000
	defaultMaxRejectFraction = 0.2
)

// Config holds all application configuration for a tributary run.
type Config struct {
	Lake    LakeConfig    `mapstructure:"lake"`
	State   StateConfig   `mapstructure:"state"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Quality QualityConfig `mapstructure:"quality"`
	Samples SamplesConfig `mapstructure:"samples"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LakeConfig locates the bronze output layer.
type LakeConfig struct {
	Root             string `mapstructure:"root"`
	DefaultPartition string `mapstructure:"default_partition"`
}

// StateConfig locates the durable checkpoint store.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// HTTPConfig bounds outbound requests during extraction.
type HTTPConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// IngestConfig bounds one source run.
type IngestConfig struct {
	MaxPages     int `mapstructure:"max_pages"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

// QualityConfig holds the validation rejection policy.
type QualityConfig struct {
	// MaxRejectFraction is the per-batch rejected fraction above which a
	// run fails instead of landing partial data.
	MaxRejectFraction float64 `mapstructure:"max_reject_fraction"`
}

// SamplesConfig controls best-effort raw page capture.
type SamplesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// MetricsConfig controls the optional Prometheus scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from an optional file and the environment.
// When path is empty, config.yaml (or config.<env>.yaml when env is set)
// is searched in ., ./config, and /etc/tributary. A missing file is fine:
// defaults plus TRIBUTARY_* environment variables still apply.
func Load(path, env string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if path != "" {
		viperCfg.SetConfigFile(path)
	} else {
		name := "config"
		if env != "" {
			name = "config." + env
		}

		viperCfg.SetConfigName(name)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/tributary")
	}

	viperCfg.SetEnvPrefix("TRIBUTARY")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("lake.root", defaultLakeRoot)
	viperCfg.SetDefault("lake.default_partition", defaultPartitionKey)

	viperCfg.SetDefault("state.dir", defaultStateDir)

	viperCfg.SetDefault("http.request_timeout", defaultRequestTimeout)
	viperCfg.SetDefault("http.retry_max", defaultRetryMax)
	viperCfg.SetDefault("http.backoff_initial", defaultBackoffInitial)
	viperCfg.SetDefault("http.backoff_max", defaultBackoffMax)

	viperCfg.SetDefault("ingest.max_pages", defaultMaxPages)
	viperCfg.SetDefault("ingest.max_batch_size", defaultMaxBatchSize)

	viperCfg.SetDefault("quality.max_reject_fraction", defaultMaxRejectFraction)

	viperCfg.SetDefault("samples.enabled", false)
	viperCfg.SetDefault("samples.dir", "./samples")

	viperCfg.SetDefault("metrics.addr", "")
}

func validate(config *Config) error {
	if config.Lake.Root == "" {
		return ErrMissingLakeRoot
	}

	if config.Lake.DefaultPartition == "" {
		return ErrInvalidPartition
	}

	if config.State.Dir == "" {
		return ErrMissingStateDir
	}

	if config.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, config.HTTP.RequestTimeout)
	}

	if config.HTTP.RetryMax < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetryMax, config.HTTP.RetryMax)
	}

	if config.Quality.MaxRejectFraction < 0 || config.Quality.MaxRejectFraction > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, config.Quality.MaxRejectFraction)
	}

	if config.Ingest.MaxPages <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPages, config.Ingest.MaxPages)
	}

	if config.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, config.Ingest.MaxBatchSize)
	}

	return nil
}
