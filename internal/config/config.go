// Package config loads the saga worker's configuration from the
// environment, following the same viper-backed pattern as the rest of
// this codebase's services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates every tunable the saga worker process needs.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	OTel     OTelConfig
	Stripe   StripeConfig
	Client   ClientConfig
	Lease    LeaseConfig
}

// AppConfig holds process identity.
type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

// ServerConfig holds the health-check listener.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds the saga state store's Postgres connection.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds the lease-manager's Redis connection.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the Redis address.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds the event bus connection.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
}

// OTelConfig holds tracing/metrics export settings.
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
	SampleRatio   float64
}

// StripeConfig holds the payment Service Client's Stripe transport.
type StripeConfig struct {
	SecretKey            string
	WebhookSecret        string
	AutoCapture          bool
	CurrencyDefault      string
	IdempotencyKeyPrefix string
}

// ClientConfig holds the outbound downstream endpoints the Service Client
// invokes for flight/hotel/car holds and notification dispatch.
type ClientConfig struct {
	FlightBaseURL       string
	HotelBaseURL        string
	CarBaseURL          string
	NotificationBaseURL string
	RequestTimeout      time.Duration
}

// LeaseConfig holds the single-writer lease and stranded-saga recovery scan.
type LeaseConfig struct {
	TTL          time.Duration
	ScanInterval time.Duration
}

// Load reads configuration from environment variables (and an optional
// .env file), applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // .env is optional; env vars still apply

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := bind(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "booking-orchestrator")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "0.1.0")

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "booking_orchestrator")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "booking-orchestrator")
	v.SetDefault("KAFKA_CLIENT_ID", "booking-orchestrator")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "booking-orchestrator")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_AUTO_CAPTURE", false)
	v.SetDefault("STRIPE_CURRENCY_DEFAULT", "usd")
	v.SetDefault("STRIPE_IDEMPOTENCY_KEY_PREFIX", "booking")

	v.SetDefault("CLIENT_FLIGHT_BASE_URL", "http://flight-inventory.internal")
	v.SetDefault("CLIENT_HOTEL_BASE_URL", "http://hotel-inventory.internal")
	v.SetDefault("CLIENT_CAR_BASE_URL", "http://car-inventory.internal")
	v.SetDefault("CLIENT_NOTIFICATION_BASE_URL", "http://notification.internal")
	v.SetDefault("CLIENT_REQUEST_TIMEOUT", "10s")

	v.SetDefault("LEASE_TTL", "30s")
	v.SetDefault("LEASE_SCAN_INTERVAL", "15s")
}

func bind(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:        v.GetString("APP_NAME"),
			Environment: v.GetString("APP_ENVIRONMENT"),
			Version:     v.GetString("APP_VERSION"),
		},
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetInt("DATABASE_PORT"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			DBName:          v.GetString("DATABASE_DBNAME"),
			SSLMode:         v.GetString("DATABASE_SSLMODE"),
			MaxConns:        int32(v.GetInt("DATABASE_MAX_CONNS")),
			MinConns:        int32(v.GetInt("DATABASE_MIN_CONNS")),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME"),
		},
		Redis: RedisConfig{
			Host:         v.GetString("REDIS_HOST"),
			Port:         v.GetInt("REDIS_PORT"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(v.GetString("KAFKA_BROKERS"), ","),
			ConsumerGroup: v.GetString("KAFKA_CONSUMER_GROUP"),
			ClientID:      v.GetString("KAFKA_CLIENT_ID"),
		},
		OTel: OTelConfig{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			ServiceName:   v.GetString("OTEL_SERVICE_NAME"),
			CollectorAddr: v.GetString("OTEL_COLLECTOR_ADDR"),
			SampleRatio:   v.GetFloat64("OTEL_SAMPLE_RATIO"),
		},
		Stripe: StripeConfig{
			SecretKey:            v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret:        v.GetString("STRIPE_WEBHOOK_SECRET"),
			AutoCapture:          v.GetBool("STRIPE_AUTO_CAPTURE"),
			CurrencyDefault:      v.GetString("STRIPE_CURRENCY_DEFAULT"),
			IdempotencyKeyPrefix: v.GetString("STRIPE_IDEMPOTENCY_KEY_PREFIX"),
		},
		Client: ClientConfig{
			FlightBaseURL:       v.GetString("CLIENT_FLIGHT_BASE_URL"),
			HotelBaseURL:        v.GetString("CLIENT_HOTEL_BASE_URL"),
			CarBaseURL:          v.GetString("CLIENT_CAR_BASE_URL"),
			NotificationBaseURL: v.GetString("CLIENT_NOTIFICATION_BASE_URL"),
			RequestTimeout:      v.GetDuration("CLIENT_REQUEST_TIMEOUT"),
		},
		Lease: LeaseConfig{
			TTL:          v.GetDuration("LEASE_TTL"),
			ScanInterval: v.GetDuration("LEASE_SCAN_INTERVAL"),
		},
	}
}

// Validate rejects configurations that would fail fast inside a component
// anyway, but with a clearer message at startup.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Lease.TTL <= 0 {
		return fmt.Errorf("lease TTL must be positive")
	}
	if c.App.Environment == "production" && c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required in production")
	}
	return nil
}

// IsProduction reports whether the process is running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
