package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// Redis configuration. Optional: empty disables the shared verdict
	// cache backend and account history lookups.
	RedisURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Threat intel configuration. FeedURL optional: empty disables
	// remote feed fetching during refresh runs.
	ThreatIntelFeedURL         string
	ThreatIntelRefreshInterval time.Duration

	// Scan pipeline configuration
	ScanDeadline        time.Duration
	ProgramStageTimeout time.Duration
	PatternStageTimeout time.Duration
	MLStageTimeout      time.Duration
	AccountStageTimeout time.Duration
	MaxConcurrentScans  int
	CacheTTL            time.Duration

	// Risk policy. Weights are relative; thresholds are inclusive
	// band boundaries over the aggregate score.
	PatternStageWeight    float64
	MLStageWeight         float64
	ProgramStageWeight    float64
	AccountStageWeight    float64
	NeutralScore          float64
	DegradedWeightFactor  float64
	RiskThresholdLow      float64
	RiskThresholdMedium   float64
	RiskThresholdHigh     float64
	RiskThresholdCritical float64
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Redis configuration (optional)
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solguard-threat-intel")

	// Threat intel configuration
	cfg.ThreatIntelFeedURL = os.Getenv("THREAT_INTEL_FEED_URL")
	refreshInterval, err := parseDuration("THREAT_INTEL_REFRESH_INTERVAL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ThreatIntelRefreshInterval = refreshInterval
	}

	// Scan pipeline configuration
	for _, d := range []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"SCAN_DEADLINE", "2s", &cfg.ScanDeadline},
		{"PROGRAM_STAGE_TIMEOUT", "500ms", &cfg.ProgramStageTimeout},
		{"PATTERN_STAGE_TIMEOUT", "400ms", &cfg.PatternStageTimeout},
		{"ML_STAGE_TIMEOUT", "600ms", &cfg.MLStageTimeout},
		{"ACCOUNT_STAGE_TIMEOUT", "300ms", &cfg.AccountStageTimeout},
		{"SCAN_CACHE_TTL", "5m", &cfg.CacheTTL},
	} {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	// Risk policy configuration
	for _, f := range []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"STAGE_WEIGHT_PATTERN", 0.35, &cfg.PatternStageWeight},
		{"STAGE_WEIGHT_ML", 0.30, &cfg.MLStageWeight},
		{"STAGE_WEIGHT_PROGRAM", 0.20, &cfg.ProgramStageWeight},
		{"STAGE_WEIGHT_ACCOUNT", 0.15, &cfg.AccountStageWeight},
		{"DEGRADED_NEUTRAL_SCORE", 0.5, &cfg.NeutralScore},
		{"DEGRADED_WEIGHT_FACTOR", 0.25, &cfg.DegradedWeightFactor},
		{"RISK_THRESHOLD_LOW", 0.20, &cfg.RiskThresholdLow},
		{"RISK_THRESHOLD_MEDIUM", 0.40, &cfg.RiskThresholdMedium},
		{"RISK_THRESHOLD_HIGH", 0.70, &cfg.RiskThresholdHigh},
		{"RISK_THRESHOLD_CRITICAL", 0.90, &cfg.RiskThresholdCritical},
	} {
		v, err := parseFloat(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dest = v
	}

	maxScans, err := parseInt("MAX_CONCURRENT_SCANS", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxConcurrentScans = maxScans
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ScanDeadline < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ScanDeadline must be at least 100ms"))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"ProgramStageTimeout", c.ProgramStageTimeout},
		{"PatternStageTimeout", c.PatternStageTimeout},
		{"MLStageTimeout", c.MLStageTimeout},
		{"AccountStageTimeout", c.AccountStageTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		} else if d.value > c.ScanDeadline {
			errs = append(errs, fmt.Errorf("%s (%v) cannot exceed ScanDeadline (%v)", d.name, d.value, c.ScanDeadline))
		}
	}

	if c.MaxConcurrentScans < 1 {
		errs = append(errs, fmt.Errorf("MaxConcurrentScans must be at least 1"))
	}

	if c.CacheTTL < time.Second {
		errs = append(errs, fmt.Errorf("CacheTTL must be at least 1 second"))
	}

	if c.ThreatIntelRefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ThreatIntelRefreshInterval must be at least 1 minute"))
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"PatternStageWeight", c.PatternStageWeight},
		{"MLStageWeight", c.MLStageWeight},
		{"ProgramStageWeight", c.ProgramStageWeight},
		{"AccountStageWeight", c.AccountStageWeight},
	} {
		if w.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", w.name))
		}
	}

	if c.NeutralScore < 0 || c.NeutralScore > 1 {
		errs = append(errs, fmt.Errorf("NeutralScore must be in [0,1]"))
	}

	if c.DegradedWeightFactor <= 0 || c.DegradedWeightFactor > 1 {
		errs = append(errs, fmt.Errorf("DegradedWeightFactor must be in (0,1]"))
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"RiskThresholdLow", c.RiskThresholdLow},
		{"RiskThresholdMedium", c.RiskThresholdMedium},
		{"RiskThresholdHigh", c.RiskThresholdHigh},
		{"RiskThresholdCritical", c.RiskThresholdCritical},
	}
	for i, th := range thresholds {
		if th.value <= 0 || th.value > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1]", th.name))
		}
		if i > 0 && th.value <= thresholds[i-1].value {
			errs = append(errs, fmt.Errorf("%s must exceed %s", th.name, thresholds[i-1].name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Timeouts converts the configured durations into the scan timeout
// profile. Scan-type factors are fixed, not configurable.
func (c *Config) Timeouts() ScanTimeouts {
	return ScanTimeouts{
		Deadline: c.ScanDeadline,
		Program:  c.ProgramStageTimeout,
		Pattern:  c.PatternStageTimeout,
		ML:       c.MLStageTimeout,
		Account:  c.AccountStageTimeout,
	}
}

// ScanTimeouts mirrors the pipeline timeout profile without importing
// the scan package, keeping config dependency-free.
type ScanTimeouts struct {
	Deadline time.Duration
	Program  time.Duration
	Pattern  time.Duration
	ML       time.Duration
	Account  time.Duration
}

// Policy projects the configured risk policy. Like ScanTimeouts it
// mirrors the scan package's shape without importing it.
func (c *Config) Policy() ScanPolicy {
	return ScanPolicy{
		PatternWeight:        c.PatternStageWeight,
		MLWeight:             c.MLStageWeight,
		ProgramWeight:        c.ProgramStageWeight,
		AccountWeight:        c.AccountStageWeight,
		NeutralScore:         c.NeutralScore,
		DegradedWeightFactor: c.DegradedWeightFactor,
		ThresholdLow:         c.RiskThresholdLow,
		ThresholdMedium:      c.RiskThresholdMedium,
		ThresholdHigh:        c.RiskThresholdHigh,
		ThresholdCritical:    c.RiskThresholdCritical,
	}
}

// ScanPolicy holds the aggregation weights and risk band boundaries.
type ScanPolicy struct {
	PatternWeight        float64
	MLWeight             float64
	ProgramWeight        float64
	AccountWeight        float64
	NeutralScore         float64
	DegradedWeightFactor float64
	ThresholdLow         float64
	ThresholdMedium      float64
	ThresholdHigh        float64
	ThresholdCritical    float64
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
