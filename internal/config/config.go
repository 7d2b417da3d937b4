package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// NOAA Climate Data Online.
	NOAAToken   string
	NOAABaseURL string
	LocationID  string
	DatasetID   string
	DataTypes   []string
	Units       string
	PageLimit   int
	WindowDays  int

	// USDA NASS QuickStats. Yields are skipped when USDAKey is empty.
	USDAKey     string
	USDABaseURL string
	State       string
	Commodities []string

	StartYear int
	EndYear   int

	// Request pacing and HTTP 429 handling. USDARequestDelay paces
	// QuickStats requests, which are heavier than CDO pages.
	RequestDelay        time.Duration
	USDARequestDelay    time.Duration
	RateLimitBackoff    time.Duration
	MaxRateLimitBackoff time.Duration
	MaxRateLimitRetries int
	HTTPTimeout         time.Duration

	OutputDir string

	// Page cache. PageCacheSize 0 disables the in-memory tier; an empty
	// RedisAddr disables the Redis tier.
	PageCacheSize int
	RedisAddr     string
	RedisTTL      time.Duration

	// Optional sinks, enabled when set.
	KafkaBrokers []string
	KafkaTopic   string
	DatabaseURL  string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		NOAAToken:   sharedcfg.EnvOrDefault("NOAA_API_TOKEN", ""),
		NOAABaseURL: sharedcfg.EnvOrDefault("NOAA_BASE_URL", ""),
		LocationID:  sharedcfg.EnvOrDefault("NOAA_LOCATION_ID", "FIPS:17"),
		DatasetID:   sharedcfg.EnvOrDefault("NOAA_DATASET_ID", "GHCND"),
		DataTypes:   parseList(sharedcfg.EnvOrDefault("NOAA_DATATYPES", "TMAX,TMIN,TAVG,PRCP")),
		Units:       sharedcfg.EnvOrDefault("NOAA_UNITS", "metric"),

		USDAKey:     sharedcfg.EnvOrDefault("USDA_API_KEY", ""),
		USDABaseURL: sharedcfg.EnvOrDefault("USDA_BASE_URL", ""),
		State:       strings.ToUpper(sharedcfg.EnvOrDefault("USDA_STATE", "ILLINOIS")),
		Commodities: parseList(sharedcfg.EnvOrDefault("USDA_COMMODITIES", "CORN,SOYBEANS")),

		OutputDir:  sharedcfg.EnvOrDefault("OUTPUT_DIR", "data/raw"),
		RedisAddr:  sharedcfg.EnvOrDefault("REDIS_ADDR", ""),
		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "noaa-observations"),

		DatabaseURL:     sharedcfg.EnvOrDefault("DATABASE_URL", ""),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if brokers := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"NOAA_PAGE_LIMIT", 1000, 1, &cfg.PageLimit},
		{"NOAA_WINDOW_DAYS", 180, 1, &cfg.WindowDays},
		{"START_YEAR", 1990, 1850, &cfg.StartYear},
		{"END_YEAR", 2023, 1850, &cfg.EndYear},
		{"RATE_LIMIT_MAX_RETRIES", 3, 0, &cfg.MaxRateLimitRetries},
		{"PAGE_CACHE_SIZE", 256, 0, &cfg.PageCacheSize},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(f.key, f.def, f.min); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"REQUEST_DELAY", "200ms", &cfg.RequestDelay},
		{"USDA_REQUEST_DELAY", "1s", &cfg.USDARequestDelay},
		{"RATE_LIMIT_BACKOFF", "60s", &cfg.RateLimitBackoff},
		{"RATE_LIMIT_MAX_BACKOFF", "5m", &cfg.MaxRateLimitBackoff},
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"REDIS_TTL", "24h", &cfg.RedisTTL},
	}
	for _, f := range durations {
		if *f.dst, err = parseDuration(f.key, f.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NOAAToken == "" {
		return errors.New("NOAA_API_TOKEN is required")
	}
	if len(c.DataTypes) == 0 {
		return errors.New("NOAA_DATATYPES is required")
	}
	if c.Units != "metric" && c.Units != "standard" {
		return fmt.Errorf("invalid NOAA_UNITS %q: must be metric or standard", c.Units)
	}
	if c.PageLimit > 1000 {
		return fmt.Errorf("invalid NOAA_PAGE_LIMIT %d: CDO serves at most 1000", c.PageLimit)
	}
	if c.EndYear < c.StartYear {
		return fmt.Errorf("END_YEAR %d is before START_YEAR %d", c.EndYear, c.StartYear)
	}
	if c.USDAKey != "" && len(c.Commodities) == 0 {
		return errors.New("USDA_COMMODITIES is required when USDA_API_KEY is set")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("invalid HTTP_TIMEOUT: must be positive")
	}
	if c.MaxRateLimitBackoff < c.RateLimitBackoff {
		return errors.New("RATE_LIMIT_MAX_BACKOFF must not be less than RATE_LIMIT_BACKOFF")
	}
	return nil
}

// StartDate is the first day of StartYear.
func (c *Config) StartDate() time.Time {
	return time.Date(c.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// EndDate is the exclusive end of the range: the first day after EndYear.
func (c *Config) EndDate() time.Time {
	return time.Date(c.EndYear+1, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func parseInt(key string, def, minimum int) (int, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.Itoa(def))
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("invalid %s %d: must be at least %d", key, n, minimum)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, s)
	}
	return d, nil
}

// parseList splits a comma-separated list, upper-casing and dropping blanks.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
