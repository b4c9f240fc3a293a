package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	LogLevel        string
	Executor        string
	Workers         int
	JobCapacity     int
	JobTTL          time.Duration
	MaxPopulation   int
	MaxSteps        int
	PolicyRulesFile string
	JWTSecret       string
	JWTIssuer       string
	KafkaBrokers    []string
	KafkaTopic      string
	CORSOrigins     []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Production      bool
}

const (
	defaultAddr            = ":8000"
	defaultWorkers         = 4
	defaultJobCapacity     = 1000
	defaultJobTTL          = time.Hour
	defaultMaxPopulation   = 100000
	defaultMaxSteps        = 10000
	defaultKafkaTopic      = "simulation.jobs"
	defaultRequestTimeout  = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("SIM_ADDR", defaultAddr),
		LogLevel:        getEnv("SIM_LOG_LEVEL", "info"),
		Executor:        strings.ToLower(getEnv("SIM_EXECUTOR", "inline")),
		Workers:         getInt("SIM_WORKERS", defaultWorkers),
		JobCapacity:     getInt("SIM_JOB_CAPACITY", defaultJobCapacity),
		JobTTL:          getDuration("SIM_JOB_TTL", defaultJobTTL),
		MaxPopulation:   getInt("SIM_MAX_POPULATION", defaultMaxPopulation),
		MaxSteps:        getInt("SIM_MAX_STEPS", defaultMaxSteps),
		PolicyRulesFile: os.Getenv("SIM_POLICY_RULES_FILE"),
		JWTSecret:       firstNonEmpty(os.Getenv("SIM_JWT_SECRET"), os.Getenv("JWT_SECRET")),
		JWTIssuer:       os.Getenv("SIM_JWT_ISSUER"),
		KafkaBrokers:    splitList(os.Getenv("SIM_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("SIM_KAFKA_TOPIC", defaultKafkaTopic),
		CORSOrigins:     splitList(getEnv("SIM_CORS_ORIGINS", "*")),
		RequestTimeout:  getDuration("SIM_REQUEST_TIMEOUT", defaultRequestTimeout),
		ShutdownTimeout: getDuration("SIM_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
	nodeEnv := os.Getenv("NODE_ENV")
	cfg.Production = nodeEnv == "production"

	if cfg.Executor != "inline" && cfg.Executor != "pool" {
		return Config{}, fmt.Errorf("SIM_EXECUTOR must be inline or pool, got %q", cfg.Executor)
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("SIM_WORKERS must be positive")
	}
	if cfg.JobCapacity < 0 || cfg.JobTTL < 0 {
		return Config{}, fmt.Errorf("SIM_JOB_CAPACITY and SIM_JOB_TTL must not be negative")
	}
	if cfg.Production && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("SIM_JWT_SECRET (or JWT_SECRET) required in production")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
