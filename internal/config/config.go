package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Gazetteer  GazetteerConfig  `yaml:"gazetteer" mapstructure:"gazetteer"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Validator  ValidatorConfig  `yaml:"validator" mapstructure:"validator"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the validated cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the facility registry. File loads an in-memory
// registry from CSV/XLSX; DatabaseURL selects the Postgres registry instead.
type RegistryConfig struct {
	File        string `yaml:"file" mapstructure:"file"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GazetteerConfig configures country/subdivision data and bounding boxes.
type GazetteerConfig struct {
	Admin1File      string `yaml:"admin1_file" mapstructure:"admin1_file"`
	ShapefilePath   string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	NominatimBounds bool   `yaml:"nominatim_bounds" mapstructure:"nominatim_bounds"`
	NominatimURL    string `yaml:"nominatim_url" mapstructure:"nominatim_url"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Google    ProviderConfig `yaml:"google" mapstructure:"google"`
	Nominatim ProviderConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Photon    ProviderConfig `yaml:"photon" mapstructure:"photon"`
	UserAgent string         `yaml:"user_agent" mapstructure:"user_agent"`
}

// ProviderConfig configures one geocoding provider. When LocalURL is set the
// provider is wrapped with a local-first fallback to BaseURL.
type ProviderConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	LocalURL         string  `yaml:"local_url" mapstructure:"local_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LocalTimeoutSecs int     `yaml:"local_timeout_secs" mapstructure:"local_timeout_secs"`
}

// ResolverConfig configures candidate resolution.
type ResolverConfig struct {
	Workers             int     `yaml:"workers" mapstructure:"workers"`
	CacheFuzzyThreshold float64 `yaml:"cache_fuzzy_threshold" mapstructure:"cache_fuzzy_threshold"`
	ProviderTimeoutSecs int     `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	StoreTimeoutSecs    int     `yaml:"store_timeout_secs" mapstructure:"store_timeout_secs"`
}

// ValidatorConfig configures cross-source validation thresholds.
type ValidatorConfig struct {
	NeedsReview         float64 `yaml:"needs_review" mapstructure:"needs_review"`
	Pending             float64 `yaml:"pending" mapstructure:"pending"`
	BelowPolicy         string  `yaml:"below_policy" mapstructure:"below_policy"`
	SimilarityWeight    float64 `yaml:"similarity_weight" mapstructure:"similarity_weight"`
	ProximityWeight     float64 `yaml:"proximity_weight" mapstructure:"proximity_weight"`
	BoundsPenalty       float64 `yaml:"bounds_penalty" mapstructure:"bounds_penalty"`
	OutlierPenalty      float64 `yaml:"outlier_penalty" mapstructure:"outlier_penalty"`
	MinUsefulSimilarity float64 `yaml:"min_useful_similarity" mapstructure:"min_useful_similarity"`
	OutlierKM           float64 `yaml:"outlier_km" mapstructure:"outlier_km"`
	OutlierSigma        float64 `yaml:"outlier_sigma" mapstructure:"outlier_sigma"`
	H3Resolution        int     `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	ReverseTimeoutSecs  int     `yaml:"reverse_timeout_secs" mapstructure:"reverse_timeout_secs"`
	Workers             int     `yaml:"workers" mapstructure:"workers"`
}

// SimilarityConfig configures the name-similarity scorer.
type SimilarityConfig struct {
	Fuzzy bool `yaml:"fuzzy" mapstructure:"fuzzy"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// TemporalConfig configures the workflow worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOCATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "locate.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("gazetteer.nominatim_bounds", true)
	v.SetDefault("gazetteer.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("providers.user_agent", "facility-locator/1.0")
	v.SetDefault("providers.google.enabled", false)
	v.SetDefault("providers.google.rate_limit", 10.0)
	v.SetDefault("providers.google.timeout_secs", 10)
	v.SetDefault("providers.nominatim.enabled", true)
	v.SetDefault("providers.nominatim.rate_limit", 1.0)
	v.SetDefault("providers.nominatim.timeout_secs", 10)
	v.SetDefault("providers.nominatim.local_timeout_secs", 3)
	v.SetDefault("providers.photon.enabled", true)
	v.SetDefault("providers.photon.rate_limit", 2.0)
	v.SetDefault("providers.photon.timeout_secs", 10)
	v.SetDefault("providers.photon.local_timeout_secs", 3)
	v.SetDefault("resolver.workers", 8)
	v.SetDefault("resolver.cache_fuzzy_threshold", 0.80)
	v.SetDefault("resolver.provider_timeout_secs", 10)
	v.SetDefault("resolver.store_timeout_secs", 3)
	v.SetDefault("validator.needs_review", 0.60)
	v.SetDefault("validator.pending", 0.40)
	v.SetDefault("validator.below_policy", "rejected")
	v.SetDefault("validator.similarity_weight", 0.70)
	v.SetDefault("validator.proximity_weight", 0.30)
	v.SetDefault("validator.bounds_penalty", 0.8)
	v.SetDefault("validator.outlier_penalty", 0.9)
	v.SetDefault("validator.min_useful_similarity", 0.30)
	v.SetDefault("validator.outlier_km", 50.0)
	v.SetDefault("validator.outlier_sigma", 3.0)
	v.SetDefault("validator.h3_resolution", 7)
	v.SetDefault("validator.reverse_timeout_secs", 10)
	v.SetDefault("validator.workers", 8)
	v.SetDefault("similarity.fuzzy", true)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 30)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "facility-locator")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "resolve", "serve", "worker", "migrate" or "import".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve", "serve", "worker":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateEngine()...)
	case "migrate":
		errs = append(errs, c.validateStore()...)
	case "import":
		if c.Registry.DatabaseURL == "" {
			errs = append(errs, "registry.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateEngine() []string {
	var errs []string

	p := c.Providers
	if !p.Google.Enabled && !p.Nominatim.Enabled && !p.Photon.Enabled {
		errs = append(errs, "at least one of providers.google, providers.nominatim, providers.photon must be enabled")
	}
	if p.Google.Enabled && p.Google.APIKey == "" {
		errs = append(errs, "providers.google.api_key is required when google is enabled")
	}

	v := c.Validator
	if v.Pending < 0 || v.NeedsReview > 1 || v.Pending > v.NeedsReview {
		errs = append(errs, "validator thresholds must satisfy 0 <= pending <= needs_review <= 1")
	}
	if v.SimilarityWeight < 0 || v.ProximityWeight < 0 {
		errs = append(errs, "validator weights must be >= 0")
	}
	if v.BoundsPenalty < 0 || v.BoundsPenalty > 1 || v.OutlierPenalty < 0 || v.OutlierPenalty > 1 {
		errs = append(errs, "validator penalties must be between 0 and 1")
	}

	if c.Resolver.CacheFuzzyThreshold < 0 || c.Resolver.CacheFuzzyThreshold > 1 {
		errs = append(errs, "resolver.cache_fuzzy_threshold must be between 0 and 1")
	}
	if c.Resolver.Workers < 1 || c.Resolver.Workers > 64 {
		errs = append(errs, "resolver.workers must be between 1 and 64")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
