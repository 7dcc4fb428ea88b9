package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration
	BatchSize        int

	// Export orchestration.
	ExportMaxFeatures int
	PollInterval      time.Duration
	JobTimeout        time.Duration
	Workers           int

	// Indicator computation.
	ReduceCacheSize     int
	ReferenceStartYear  int
	VegetationStartYear int
	OnsetFallback       string // "MM-DD", empty to fail the year instead

	// Asset store.
	AssetRoot   string
	AssetPrefix string

	// Local file backend.
	ReductionsFile string
	ZonesDir       string

	// Compute backend. Empty URL selects the local file backend.
	ComputeAPIURL       string
	ComputeTokenURL     string
	ComputeClientID     string
	ComputeClientSecret string
	ComputeTimeout      time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("POLL_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	jobTimeout, err := parseDuration("JOB_TIMEOUT", "2h")
	if err != nil {
		return nil, err
	}
	computeTimeout, err := parseDuration("COMPUTE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}

	maxFeatures, err := parsePositiveInt("EXPORT_MAX_FEATURES", 15000)
	if err != nil {
		return nil, err
	}
	workers, err := parsePositiveInt("WORKERS", 8)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("REDUCE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	referenceStart, err := parsePositiveInt("REFERENCE_START_YEAR", 1981)
	if err != nil {
		return nil, err
	}
	vegetationStart, err := parsePositiveInt("VEGETATION_START_YEAR", 2000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "drought-run-requests"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "drought-zone-records"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "drought-severity-etl"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		BatchSize:        batchSize,

		ExportMaxFeatures: maxFeatures,
		PollInterval:      pollInterval,
		JobTimeout:        jobTimeout,
		Workers:           workers,

		ReduceCacheSize:     cacheSize,
		ReferenceStartYear:  referenceStart,
		VegetationStartYear: vegetationStart,
		OnsetFallback:       os.Getenv("ONSET_FALLBACK"),

		AssetRoot:   sharedcfg.EnvOrDefault("ASSET_ROOT", "./data/assets"),
		AssetPrefix: sharedcfg.EnvOrDefault("ASSET_PREFIX", "drought"),

		ReductionsFile: sharedcfg.EnvOrDefault("REDUCTIONS_FILE", "./data/reductions.csv"),
		ZonesDir:       sharedcfg.EnvOrDefault("ZONES_DIR", "./data/zones"),

		ComputeAPIURL:       os.Getenv("COMPUTE_API_URL"),
		ComputeTokenURL:     os.Getenv("COMPUTE_TOKEN_URL"),
		ComputeClientID:     os.Getenv("COMPUTE_CLIENT_ID"),
		ComputeClientSecret: os.Getenv("COMPUTE_CLIENT_SECRET"),
		ComputeTimeout:      computeTimeout,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.VegetationStartYear < cfg.ReferenceStartYear {
		return nil, errors.New("VEGETATION_START_YEAR must not precede REFERENCE_START_YEAR")
	}
	if cfg.OnsetFallback != "" {
		if _, err := time.Parse("01-02", cfg.OnsetFallback); err != nil {
			return nil, errors.New("invalid ONSET_FALLBACK: must be MM-DD")
		}
	}
	if cfg.ComputeTokenURL != "" && (cfg.ComputeClientID == "" || cfg.ComputeClientSecret == "") {
		return nil, errors.New("COMPUTE_TOKEN_URL is set but COMPUTE_CLIENT_ID or COMPUTE_CLIENT_SECRET is not")
	}

	return cfg, nil
}

// UsesComputeAPI reports whether a remote compute backend is configured.
func (c *Config) UsesComputeAPI() bool {
	return c.ComputeAPIURL != ""
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key + ": must be a positive duration")
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key + ": must be a positive integer")
	}
	return n, nil
}
