package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/assetcache/assetcache/pkg/errors"
)

var validate = validator.New()

// Configuration is the complete engine configuration. Constructed once at
// process start and treated as read-only for the process lifetime.
type Configuration struct {
	Cache   CacheStrategy   `yaml:"cache"`
	Preload PreloadStrategy `yaml:"preload"`
	Retry   RetryConfig     `yaml:"retry"`
	Fetch   FetchConfig     `yaml:"fetch"`
	Store   StoreConfig     `yaml:"store"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Logging LoggingConfig   `yaml:"logging"`
}

// CacheStrategy controls tier capacities, TTL, and tier-selection policy.
// Capacity and threshold fields accept human-readable sizes ("256MB", "2GB");
// Validate parses them into byte counts.
type CacheStrategy struct {
	VolatileCapacity    string            `yaml:"volatile_capacity" validate:"required"`
	DurableCapacity     string            `yaml:"durable_capacity" validate:"required"`
	DefaultTTL          time.Duration     `yaml:"default_ttl" validate:"gt=0"`
	PreloadMode         string            `yaml:"preload_mode" validate:"oneof=aggressive smart lazy"`
	CompressionLevel    int               `yaml:"compression_level" validate:"min=0,max=9"`
	SmallSizeThreshold  string            `yaml:"small_size_threshold" validate:"required"`
	MediumSizeThreshold string            `yaml:"medium_size_threshold" validate:"required"`
	EvictionFraction    float64           `yaml:"eviction_fraction" validate:"gt=0,lte=1"`
	MaintenanceInterval time.Duration     `yaml:"maintenance_interval" validate:"gt=0"`
	TypePriorities      map[string]string `yaml:"type_priorities"`

	volatileCapacityBytes int64
	durableCapacityBytes  int64
	smallThresholdBytes   int64
	mediumThresholdBytes  int64
}

// VolatileCapacityBytes returns the parsed volatile-tier byte ceiling.
// Valid only after Validate has run.
func (s *CacheStrategy) VolatileCapacityBytes() int64 { return s.volatileCapacityBytes }

// DurableCapacityBytes returns the parsed durable-tier byte ceiling.
func (s *CacheStrategy) DurableCapacityBytes() int64 { return s.durableCapacityBytes }

// SmallThresholdBytes returns the parsed small-asset size threshold.
func (s *CacheStrategy) SmallThresholdBytes() int64 { return s.smallThresholdBytes }

// MediumThresholdBytes returns the parsed medium-asset size threshold.
func (s *CacheStrategy) MediumThresholdBytes() int64 { return s.mediumThresholdBytes }

// PreloadStrategy controls anticipatory loading. PredictiveLoading and
// BehavioralLoading are part of the contract surface but not yet acted on.
type PreloadStrategy struct {
	Enabled           bool          `yaml:"enabled"`
	AssetTypes        []string      `yaml:"asset_types"`
	MaxConcurrent     int           `yaml:"max_concurrent" validate:"min=1"`
	AdaptiveMin       int           `yaml:"adaptive_min" validate:"min=1"`
	AdaptiveMax       int           `yaml:"adaptive_max" validate:"min=1"`
	PriorityOrder     []string      `yaml:"priority_order"`
	Quality           string        `yaml:"quality"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	PredictiveLoading bool          `yaml:"predictive_loading"`
	BehavioralLoading bool          `yaml:"behavioral_loading"`
}

// RetryConfig controls the load retry policy. MaxRetries counts additional
// attempts after the first, so total attempts = MaxRetries + 1.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" validate:"min=0"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gt=0"`
	Multiplier   float64       `yaml:"multiplier" validate:"gt=1"`
	Jitter       bool          `yaml:"jitter"`
}

// FetchConfig controls source transports.
type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxResponseSize string        `yaml:"max_response_size"`
	UserAgent       string        `yaml:"user_agent"`
	S3              S3Config      `yaml:"s3"`

	maxResponseBytes int64
}

// MaxResponseBytes returns the parsed response size cap (0 = unlimited).
func (f *FetchConfig) MaxResponseBytes() int64 { return f.maxResponseBytes }

// S3Config configures the s3:// fetcher. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// StoreConfig configures the durable tier.
type StoreConfig struct {
	Path        string        `yaml:"path" validate:"required"`
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// MetricsConfig configures the collector. ListenAddress, when set, serves
// prometheus metrics and a health endpoint on that address.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Namespace     string `yaml:"namespace"`
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path"`
}

// New returns a Configuration populated with defaults. Store.Path has no
// safe default and must be set before Validate.
func New() *Configuration {
	return &Configuration{
		Cache: CacheStrategy{
			VolatileCapacity:    "256MB",
			DurableCapacity:     "2GB",
			DefaultTTL:          time.Hour,
			PreloadMode:         "smart",
			CompressionLevel:    6,
			SmallSizeThreshold:  "5MB",
			MediumSizeThreshold: "20MB",
			EvictionFraction:    0.20,
			MaintenanceInterval: 10 * time.Minute,
			TypePriorities: map[string]string{
				"hero":       "high",
				"portrait":   "high",
				"background": "medium",
				"thumbnail":  "medium",
				"decorative": "low",
				"frame":      "low",
			},
		},
		Preload: PreloadStrategy{
			Enabled:       true,
			AssetTypes:    []string{"hero", "portrait", "background"},
			MaxConcurrent: 3,
			AdaptiveMin:   2,
			AdaptiveMax:   5,
			PriorityOrder: []string{"high", "medium", "low"},
			Quality:       "optimized",
			Timeout:       10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       false,
		},
		Fetch: FetchConfig{
			Timeout:         30 * time.Second,
			MaxResponseSize: "100MB",
			UserAgent:       "assetcache/1.0",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Store: StoreConfig{
			Path:        "assetcache.db",
			OpenTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "assetcache",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile merges configuration from a YAML file over the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad,
			fmt.Sprintf("failed to read config file %s", filename), err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad,
			fmt.Sprintf("failed to parse config file %s", filename), err)
	}

	return nil
}

// ApplyEnv overrides configuration from ASSETCACHE_* environment variables.
// Malformed values are ignored in favor of the existing setting; Validate
// catches anything that matters.
func (c *Configuration) ApplyEnv() {
	if val := os.Getenv("ASSETCACHE_VOLATILE_CAPACITY"); val != "" {
		c.Cache.VolatileCapacity = val
	}
	if val := os.Getenv("ASSETCACHE_DURABLE_CAPACITY"); val != "" {
		c.Cache.DurableCapacity = val
	}
	if val := os.Getenv("ASSETCACHE_DEFAULT_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("ASSETCACHE_PRELOAD_MODE"); val != "" {
		c.Cache.PreloadMode = strings.ToLower(val)
	}
	if val := os.Getenv("ASSETCACHE_MAINTENANCE_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.MaintenanceInterval = d
		}
	}
	if val := os.Getenv("ASSETCACHE_PRELOAD_ENABLED"); val != "" {
		c.Preload.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ASSETCACHE_PRELOAD_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Preload.MaxConcurrent = n
		}
	}
	if val := os.Getenv("ASSETCACHE_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if val := os.Getenv("ASSETCACHE_FETCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Fetch.Timeout = d
		}
	}
	if val := os.Getenv("ASSETCACHE_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("ASSETCACHE_METRICS_ADDRESS"); val != "" {
		c.Metrics.ListenAddress = val
	}
	if val := os.Getenv("ASSETCACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv("ASSETCACHE_LOG_FORMAT"); val != "" {
		c.Logging.Format = strings.ToLower(val)
	}
}

// Validate checks the configuration, parses human-readable sizes, and
// returns a structured error on the first problem found. Invalid
// configuration fails fast; nothing is silently coerced.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigValidation,
			formatValidationError(err), err)
	}

	var err error
	if c.Cache.volatileCapacityBytes, err = ParseSize(c.Cache.VolatileCapacity); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid volatile_capacity", err)
	}
	if c.Cache.durableCapacityBytes, err = ParseSize(c.Cache.DurableCapacity); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid durable_capacity", err)
	}
	if c.Cache.smallThresholdBytes, err = ParseSize(c.Cache.SmallSizeThreshold); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid small_size_threshold", err)
	}
	if c.Cache.mediumThresholdBytes, err = ParseSize(c.Cache.MediumSizeThreshold); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid medium_size_threshold", err)
	}
	if c.Fetch.MaxResponseSize != "" {
		if c.Fetch.maxResponseBytes, err = ParseSize(c.Fetch.MaxResponseSize); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid max_response_size", err)
		}
	}

	if c.Cache.volatileCapacityBytes <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			"volatile_capacity must be greater than zero")
	}
	if c.Cache.durableCapacityBytes <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			"durable_capacity must be greater than zero")
	}
	if c.Cache.mediumThresholdBytes <= c.Cache.smallThresholdBytes {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(
			"medium_size_threshold (%s) must be greater than small_size_threshold (%s)",
			c.Cache.MediumSizeThreshold, c.Cache.SmallSizeThreshold))
	}
	if c.Preload.AdaptiveMax < c.Preload.AdaptiveMin {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(
			"adaptive_max (%d) must be at least adaptive_min (%d)",
			c.Preload.AdaptiveMax, c.Preload.AdaptiveMin))
	}
	if c.Preload.MaxConcurrent < c.Preload.AdaptiveMin || c.Preload.MaxConcurrent > c.Preload.AdaptiveMax {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(
			"max_concurrent (%d) must lie within [adaptive_min, adaptive_max] = [%d, %d]",
			c.Preload.MaxConcurrent, c.Preload.AdaptiveMin, c.Preload.AdaptiveMax))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(
			"max_delay (%v) must be at least initial_delay (%v)",
			c.Retry.MaxDelay, c.Retry.InitialDelay))
	}
	for assetType, priority := range c.Cache.TypePriorities {
		switch priority {
		case "high", "medium", "low":
		default:
			return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(
				"type_priorities[%s]: unknown priority %q (must be high, medium, or low)",
				assetType, priority))
		}
	}

	return nil
}

// ParseSize parses a human-readable size string ("256MB", "2GB", "512KB",
// "1048576") into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "TB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %v", value)
	}

	return int64(value * float64(multiplier)), nil
}

// formatValidationError renders validator errors into readable per-field
// messages.
func formatValidationError(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	var msgs []string
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return strings.Join(msgs, "; ")
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
