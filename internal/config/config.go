package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort string

	ForceLocal bool
	DataDir    string

	LogLevel string

	DefaultEnergyPrice float64
	RegionPrices       map[string]float64
	PlatformAccount    string

	EstimatorURL string
	RouteURL     string
}

// New loads configuration from environment variables. The networked
// backends (Postgres, Redis, NATS) are optional as a group: when any of
// them is missing, or ECOCASH_FORCE_LOCAL=true, the service runs on the
// local file mirror instead.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:  os.Getenv("ECOCASH_POSTGRES_USER"),
		DBPass:  os.Getenv("ECOCASH_POSTGRES_PASSWORD"),
		DBHost:  os.Getenv("ECOCASH_POSTGRES_HOST"),
		DBPort:  os.Getenv("ECOCASH_POSTGRES_PORT"),
		DBName:  os.Getenv("ECOCASH_POSTGRES_DB"),
		SSLMode: os.Getenv("ECOCASH_POSTGRES_SSLMODE"),

		RedisHost: os.Getenv("ECOCASH_REDIS_HOST"),
		RedisPort: os.Getenv("ECOCASH_REDIS_PORT"),

		NatsHost: os.Getenv("ECOCASH_NATS_HOST"),
		NatsPort: os.Getenv("ECOCASH_NATS_PORT"),

		ApiPort: os.Getenv("ECOCASH_API_PORT"),

		ForceLocal: os.Getenv("ECOCASH_FORCE_LOCAL") == "true",
		DataDir:    os.Getenv("ECOCASH_DATA_DIR"),

		LogLevel: os.Getenv("ECOCASH_LOG_LEVEL"),

		DefaultEnergyPrice: getEnvFloat("ECOCASH_DEFAULT_ENERGY_PRICE", 0.40),
		PlatformAccount:    os.Getenv("ECOCASH_PLATFORM_ACCOUNT"),

		EstimatorURL: os.Getenv("ECOCASH_ESTIMATOR_URL"),
		RouteURL:     os.Getenv("ECOCASH_ROUTE_URL"),
	}

	prices, err := parseRegionPrices(os.Getenv("ECOCASH_REGION_PRICES"))
	if err != nil {
		return nil, err
	}
	cfg.RegionPrices = prices

	if cfg.ApiPort == "" {
		cfg.ApiPort = "8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	if cfg.RemoteCapable() {
		if cfg.DBUser == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("missing required env for database: ECOCASH_POSTGRES_USER/DB")
		}
	}

	return cfg, nil
}

// RemoteCapable reports whether the full networked stack is configured.
func (c *Config) RemoteCapable() bool {
	return c.DBHost != "" && c.RedisHost != "" && c.NatsHost != ""
}

// UseLocal reports whether the service should run on the file mirror.
func (c *Config) UseLocal() bool {
	return c.ForceLocal || !c.RemoteCapable()
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

// parseRegionPrices parses "north=0.42,south=0.38" into a price map.
func parseRegionPrices(raw string) (map[string]float64, error) {
	prices := make(map[string]float64)
	if raw == "" {
		return prices, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid region price entry %q, want region=price", pair)
		}
		price, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price for region %q: %w", key, err)
		}
		prices[key] = price
	}
	return prices, nil
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
