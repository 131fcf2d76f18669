package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"positionCore/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Database
	DBPath string

	// Engine
	PersistTimeout     time.Duration // Bound on each durable-store operation
	MaxMutationRetries int           // Version-conflict retries before surfacing an error
	CompactionInterval time.Duration // How often the WAL is checkpointed
	RiskScanInterval   time.Duration // How often the open set is scanned for triggers

	// Logging
	LogLevel      logger.LogLevel
	LogFile       string // When set, logs go to a rotated file instead of stderr
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.DBPath = getEnv("DB_PATH", "./data/positions.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	persistTimeoutMs := getEnvAsInt("PERSIST_TIMEOUT_MS", 5000)
	if persistTimeoutMs <= 0 {
		errs = append(errs, "PERSIST_TIMEOUT_MS must be positive")
	}
	cfg.PersistTimeout = time.Duration(persistTimeoutMs) * time.Millisecond

	cfg.MaxMutationRetries = getEnvAsInt("MAX_MUTATION_RETRIES", 5)
	if cfg.MaxMutationRetries <= 0 {
		errs = append(errs, "MAX_MUTATION_RETRIES must be positive")
	}

	compactionMinutes := getEnvAsInt("COMPACTION_INTERVAL_MINUTES", 15)
	if compactionMinutes <= 0 {
		errs = append(errs, "COMPACTION_INTERVAL_MINUTES must be positive")
	}
	cfg.CompactionInterval = time.Duration(compactionMinutes) * time.Minute

	riskScanSeconds := getEnvAsInt("RISK_SCAN_INTERVAL_SECONDS", 5)
	if riskScanSeconds <= 0 {
		errs = append(errs, "RISK_SCAN_INTERVAL_SECONDS must be positive")
	}
	cfg.RiskScanInterval = time.Duration(riskScanSeconds) * time.Second

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 28)
	cfg.LogCompress = getEnvAsBool("LOG_COMPRESS", true)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
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

func getEnvAsBool(key string, defaultValue bool) bool {
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
