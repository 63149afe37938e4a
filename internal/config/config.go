package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the whole application configuration, populated from
// environment variables (optionally seeded from .env by cmd/*).
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Helcim   HelcimConfig
	Terminal TerminalConfig
	Queue    QueueConfig
	Events   EventsConfig
	Job      JobConfig
}

type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Port        string
	Version     string
	LogLevel    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN renders a libpq style connection URL (used by cmd/migrate)
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// =====================================================
// HELCIM (terminal gateway)
// =====================================================

type HelcimConfig struct {
	Provider      string // helcim | mock
	APIURL        string
	APIToken      string
	WebhookSecret string
	Currency      string
	// DeviceMap maps a location id to the terminal device code paired there
	DeviceMap      map[string]string
	RequestTimeout time.Duration
}

// =====================================================
// TERMINAL RECONCILIATION
// =====================================================

type TerminalConfig struct {
	StoreBackend        string // memory | redis
	SessionTTL          time.Duration
	WebhookRecordTTL    time.Duration
	LastCompletedTTL    time.Duration
	AttributionWindow   time.Duration
	GatewayQueryTimeout time.Duration
	GatewayStartTimeout time.Duration
	JanitorInterval     time.Duration
	IdempotencyTTL      time.Duration
}

type QueueConfig struct {
	Concurrency    int
	WorkerEmbedded bool
}

type EventsConfig struct {
	Driver              string // asynq | kafka
	KafkaBrokers        []string
	PaymentCompletedTop string
}

type JobConfig struct {
	ReconcileCron      string
	ReconcileBatchSize int
	ReconcileOlderThan time.Duration

	// ReconcileAbandonAfter fails payments the gateway still reports pending
	ReconcileAbandonAfter time.Duration
}

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"

	EventsDriverAsynq = "asynq"
	EventsDriverKafka = "kafka"

	GatewayProviderHelcim = "helcim"
	GatewayProviderMock   = "mock"
)

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Terminal Payments API"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "terminal_payments"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			TokenTTL: getEnvDuration("JWT_TOKEN_TTL", 12*time.Hour),
		},
		Helcim: HelcimConfig{
			Provider:       getEnv("GATEWAY_PROVIDER", GatewayProviderMock),
			APIURL:         getEnv("HELCIM_API_URL", "https://api.helcim.com/v2"),
			APIToken:       getEnv("HELCIM_API_TOKEN", ""),
			WebhookSecret:  getEnv("HELCIM_WEBHOOK_SECRET", ""),
			Currency:       getEnv("HELCIM_CURRENCY", "CAD"),
			DeviceMap:      parseDeviceMap(getEnv("HELCIM_DEVICE_MAP", "")),
			RequestTimeout: getEnvDuration("HELCIM_REQUEST_TIMEOUT", 15*time.Second),
		},
		Terminal: TerminalConfig{
			StoreBackend:        getEnv("STORE_BACKEND", StoreBackendMemory),
			SessionTTL:          getEnvDuration("SESSION_TTL", 10*time.Minute),
			WebhookRecordTTL:    getEnvDuration("WEBHOOK_RECORD_TTL", 2*time.Minute),
			LastCompletedTTL:    getEnvDuration("LAST_COMPLETED_TTL", 90*time.Second),
			AttributionWindow:   getEnvDuration("ATTRIBUTION_WINDOW", 10*time.Minute),
			GatewayQueryTimeout: getEnvDuration("GATEWAY_QUERY_TIMEOUT", 3*time.Second),
			GatewayStartTimeout: getEnvDuration("GATEWAY_START_TIMEOUT", 10*time.Second),
			JanitorInterval:     getEnvDuration("STORE_JANITOR_INTERVAL", 30*time.Second),
			IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Queue: QueueConfig{
			Concurrency:    getEnvInt("QUEUE_CONCURRENCY", 10),
			WorkerEmbedded: getEnvBool("WORKER_EMBEDDED", true),
		},
		Events: EventsConfig{
			Driver:              getEnv("EVENTS_DRIVER", EventsDriverAsynq),
			KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
			PaymentCompletedTop: getEnv("KAFKA_TOPIC_PAYMENT_COMPLETED", "payment.completed"),
		},
		Job: JobConfig{
			ReconcileCron:         getEnv("JOB_RECONCILE_CRON", "*/5 * * * *"),
			ReconcileBatchSize:    getEnvInt("JOB_RECONCILE_BATCH_SIZE", 50),
			ReconcileOlderThan:    getEnvDuration("JOB_RECONCILE_OLDER_THAN", 10*time.Minute),
			ReconcileAbandonAfter: getEnvDuration("JOB_RECONCILE_ABANDON_AFTER", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks combinations that would make the service misbehave
func (c *Config) Validate() error {
	switch c.Terminal.StoreBackend {
	case StoreBackendMemory, StoreBackendRedis:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendMemory, StoreBackendRedis, c.Terminal.StoreBackend)
	}

	switch c.Events.Driver {
	case EventsDriverAsynq:
	case EventsDriverKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be set when EVENTS_DRIVER=kafka")
		}
	default:
		return fmt.Errorf("EVENTS_DRIVER must be %q or %q, got %q", EventsDriverAsynq, EventsDriverKafka, c.Events.Driver)
	}

	switch c.Helcim.Provider {
	case GatewayProviderMock:
	case GatewayProviderHelcim:
		if c.Helcim.APIToken == "" {
			return fmt.Errorf("HELCIM_API_TOKEN must be set when GATEWAY_PROVIDER=helcim")
		}
	default:
		return fmt.Errorf("GATEWAY_PROVIDER must be %q or %q, got %q", GatewayProviderHelcim, GatewayProviderMock, c.Helcim.Provider)
	}

	if c.Terminal.StoreBackend == StoreBackendMemory && !c.Queue.WorkerEmbedded {
		return fmt.Errorf("STORE_BACKEND=memory requires WORKER_EMBEDDED=true (a separate worker cannot see in-process sessions)")
	}

	if c.IsProduction() {
		if c.JWT.Secret == "your-secret-key-change-in-production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD must be set in production")
		}
		if c.Helcim.WebhookSecret == "" {
			return fmt.Errorf("HELCIM_WEBHOOK_SECRET must be set in production")
		}
		if c.Helcim.Provider == GatewayProviderMock {
			return fmt.Errorf("GATEWAY_PROVIDER=mock is not allowed in production")
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDeviceMap parses "L1:DEV1,L2:DEV2"
func parseDeviceMap(value string) map[string]string {
	devices := make(map[string]string)
	for _, pair := range splitList(value) {
		location, device, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		location, device = strings.TrimSpace(location), strings.TrimSpace(device)
		if location != "" && device != "" {
			devices[location] = device
		}
	}
	return devices
}
