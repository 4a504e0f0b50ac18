package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Queue        QueueConfig
	LLM          LLMConfig
	Orchestrator OrchestratorConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	HealthTimeout    time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// QueueConfig holds work-queue configuration.
// VisibilityTimeout must exceed the worst-case total processing time of the
// longest worker plan, LLM calls included, or still-in-flight work gets
// redelivered to another consumer.
type QueueConfig struct {
	RedisURL          string
	RedisPassword     string
	Stream            string
	ConsumerGroup     string
	BlockWait         time.Duration
	VisibilityTimeout time.Duration
	MaxDeliveries     int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
}

// OrchestratorConfig holds consumer-side configuration
type OrchestratorConfig struct {
	Consumers     int
	StageTimeout  time.Duration
	MetricsAddr   string
	SweepInterval time.Duration
	// SweepAfter is how stale a processing job's updated_at must be before
	// the reconciler fails it. Defaults to 3x the visibility timeout.
	SweepAfter time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	visibility := getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 10*time.Minute)
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			HealthTimeout:    getEnvAsDuration("DB_HEALTH_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			RedisPassword:     getEnv("REDIS_PASSWORD", ""),
			Stream:            getEnv("QUEUE_STREAM", "jobs:v1:analysis"),
			ConsumerGroup:     getEnv("QUEUE_CONSUMER_GROUP", "orchestrators"),
			BlockWait:         getEnvAsDuration("QUEUE_BLOCK_WAIT", 5*time.Second),
			VisibilityTimeout: visibility,
			MaxDeliveries:     getEnvAsInt("QUEUE_MAX_DELIVERIES", 3),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			Consumers:     getEnvAsInt("ORCHESTRATOR_CONSUMERS", 2),
			StageTimeout:  getEnvAsDuration("ORCHESTRATOR_STAGE_TIMEOUT", 2*time.Minute),
			MetricsAddr:   getEnv("ORCHESTRATOR_METRICS_ADDR", ":9090"),
			SweepInterval: getEnvAsDuration("RECONCILER_SWEEP_INTERVAL", time.Minute),
			SweepAfter:    getEnvAsDuration("RECONCILER_SWEEP_AFTER", 3*visibility),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrValidation)
	}
	if c.Queue.Stream == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_STREAM is required", ErrValidation)
	}
	if c.Queue.MaxDeliveries < 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MAX_DELIVERIES must be >= 1", ErrValidation)
	}
	return nil
}
