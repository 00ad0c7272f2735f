package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/siteloom/growth/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	Cloud CloudConfig

	Bootstrap BootstrapConfig

	Database db.Config

	Redis RedisConfig

	RateLimit RateLimitConfig

	Scheduler SchedulerConfig
}

type CloudConfig struct {
	DeploymentID   string
	DeploymentName string
	Metrics        CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// BootstrapConfig controls first-run conveniences for self-hosted
// deployments. Cloud mode ignores it.
type BootstrapConfig struct {
	SeedDemoData bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig tunes the redis-backed ingest limiter. Rates are tokens
// per second.
type RateLimitConfig struct {
	Enabled       bool
	UserRate      float64
	UserBurst     int
	EndpointRate  float64
	EndpointBurst int
	SiteLockTTL   time.Duration
}

// SchedulerConfig carries the env-driven sweep settings; the scheduler package
// applies defaults for anything left zero.
type SchedulerConfig struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	RecoveryThreshold time.Duration

	FeaturingExpiryEnabled  bool
	ViralReevalEnabled      bool
	ShowcaseRefreshEnabled  bool
	CommissionReevalEnabled bool
	GrantExpiryEnabled      bool
	SideEffectDispatch      bool
	EventRecoveryEnabled    bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeOSS))
	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "growth"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Mode:         mode,
		Environment:  environment,
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			DeploymentID:   strings.TrimSpace(getenv("CLOUD_DEPLOYMENT_ID", "")),
			DeploymentName: getenv("CLOUD_DEPLOYMENT_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", true),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		Bootstrap: BootstrapConfig{
			SeedDemoData: getenvBool("BOOTSTRAP_SEED_DEMO_DATA", false),
		},
		Database: db.Config{
			Type:            getenv("DATABASE_TYPE", "postgres"),
			Host:            getenv("DATABASE_HOST", "localhost"),
			Port:            getenv("DATABASE_PORT", "5432"),
			Name:            getenv("DATABASE_NAME", "growth"),
			User:            getenv("DATABASE_USER", "postgres"),
			Password:        getenv("DATABASE_PASSWORD", "postgres"),
			SSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			MaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
			MaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
			ConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			UserRate:      getenvFloat("RATE_LIMIT_USER_RATE", 25),
			UserBurst:     int(getenvInt64("RATE_LIMIT_USER_BURST", 50)),
			EndpointRate:  getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 500),
			EndpointBurst: int(getenvInt64("RATE_LIMIT_ENDPOINT_BURST", 1000)),
			SiteLockTTL:   getenvDuration("RATE_LIMIT_SITE_LOCK_TTL", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			RunInterval:             getenvDuration("SCHEDULER_RUN_INTERVAL", 0),
			BatchSize:               int(getenvInt64("SCHEDULER_BATCH_SIZE", 0)),
			JobTimeout:              getenvDuration("SCHEDULER_JOB_TIMEOUT", 0),
			RecoveryThreshold:       getenvDuration("SCHEDULER_RECOVERY_THRESHOLD", 0),
			FeaturingExpiryEnabled:  getenvBool("SCHEDULER_FEATURING_EXPIRY_ENABLED", true),
			ViralReevalEnabled:      getenvBool("SCHEDULER_VIRAL_REEVAL_ENABLED", true),
			ShowcaseRefreshEnabled:  getenvBool("SCHEDULER_SHOWCASE_REFRESH_ENABLED", true),
			CommissionReevalEnabled: getenvBool("SCHEDULER_COMMISSION_REEVAL_ENABLED", true),
			GrantExpiryEnabled:      getenvBool("SCHEDULER_GRANT_EXPIRY_ENABLED", true),
			SideEffectDispatch:      getenvBool("SCHEDULER_SIDE_EFFECT_DISPATCH_ENABLED", true),
			EventRecoveryEnabled:    getenvBool("SCHEDULER_EVENT_RECOVERY_ENABLED", true),
		},
	}

	return cfg
}

const (
	ModeOSS        = "oss"
	ModeCloud      = "cloud"
	ModeStandalone = "standalone"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	case ModeStandalone, ModeOSS:
		return ModeOSS
	default:
		return ModeOSS
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
