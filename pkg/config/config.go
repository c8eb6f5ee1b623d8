package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Simulation SimulationConfig
	Savings    SavingsConfig
	Metrics    MetricsConfig
	LogLevel   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// LockTimeout bounds how long a batch commit waits on a lock
	LockTimeout time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TopicReadings     string
	TopicPasses       string
	NumPartitions     int
	ReplicationFactor int
}

type SimulationConfig struct {
	Interval          time.Duration
	BatchSize         int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	// Seed 0 derives a seed from the wall clock
	Seed        int64
	Timezone    string
	CatalogFile string
}

// Location resolves the configured timezone
func (s SimulationConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// SeedOrNow returns the configured seed, or one derived from now when unset
func (s SimulationConfig) SeedOrNow() int64 {
	if s.Seed != 0 {
		return s.Seed
	}
	return time.Now().UnixNano()
}

type SavingsConfig struct {
	KWPerOptimization float64
	CostPerKWh        float64
	CO2KgPerKWh       float64
	ReadingInterval   time.Duration
}

type MetricsConfig struct {
	// Addr of the Prometheus endpoint; empty disables it
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvAsInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "energy_user"),
			Password:    getEnv("DB_PASSWORD", "energy_pass"),
			DBName:      getEnv("DB_NAME", "campus_energy"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			LockTimeout: getEnvAsDuration("DB_LOCK_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LeaseTTL: getEnvAsDuration("PASS_LEASE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvAsBool("KAFKA_ENABLED", true),
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings:     getEnv("KAFKA_TOPIC_READINGS", "energy.readings"),
			TopicPasses:       getEnv("KAFKA_TOPIC_PASSES", "energy.passes"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 6),
			ReplicationFactor: getEnvAsInt("KAFKA_REPLICATION_FACTOR", 1),
		},
		Simulation: SimulationConfig{
			Interval:          getEnvAsDuration("SIM_INTERVAL", 60*time.Second),
			BatchSize:         getEnvAsInt("SIM_BATCH_SIZE", 100),
			MaxAttempts:       getEnvAsInt("SIM_MAX_ATTEMPTS", 3),
			BackoffBase:       getEnvAsDuration("SIM_BACKOFF_BASE", 100*time.Millisecond),
			BackoffMultiplier: getEnvAsFloat("SIM_BACKOFF_MULTIPLIER", 2),
			Seed:              getEnvAsInt64("SIM_SEED", 0),
			Timezone:          getEnv("SIM_TIMEZONE", "Local"),
			CatalogFile:       getEnv("CATALOG_FILE", ""),
		},
		Savings: SavingsConfig{
			KWPerOptimization: getEnvAsFloat("SAVINGS_KW_PER_OPTIMIZATION", 1.5),
			CostPerKWh:        getEnvAsFloat("SAVINGS_COST_PER_KWH", 8.0),
			CO2KgPerKWh:       getEnvAsFloat("SAVINGS_CO2_KG_PER_KWH", 0.82),
			ReadingInterval:   getEnvAsDuration("SAVINGS_READING_INTERVAL", time.Minute),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9102"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the simulator cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.Interval <= 0 {
		errs = append(errs, fmt.Errorf("SIM_INTERVAL must be positive, got %s", c.Simulation.Interval))
	}
	if c.Simulation.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SIM_BATCH_SIZE must be positive, got %d", c.Simulation.BatchSize))
	}
	if c.Simulation.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("SIM_MAX_ATTEMPTS must be positive, got %d", c.Simulation.MaxAttempts))
	}
	if c.Simulation.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("SIM_BACKOFF_MULTIPLIER must be at least 1, got %g", c.Simulation.BackoffMultiplier))
	}
	if _, err := c.Simulation.Location(); err != nil {
		errs = append(errs, fmt.Errorf("SIM_TIMEZONE: %w", err))
	}
	if c.Savings.ReadingInterval <= 0 {
		errs = append(errs, fmt.Errorf("SAVINGS_READING_INTERVAL must be positive, got %s", c.Savings.ReadingInterval))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
