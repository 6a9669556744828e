package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap" // Use logger for loading errors
)

// Config holds all configuration for the relay.
type Config struct {
	AppEnv           string
	Port             string
	CORSAllowOrigins string
	CORSAllowMethods string
	CORSAllowHeaders string

	SQLiteDBPath string
	HistoryLimit int // Retention bound N for both the store and the tail buffer
	AssetsDir    string

	WSWriteWait  time.Duration // Per-subscriber send deadline
	TrimInterval time.Duration // Background store reconciliation cadence

	LogFilePath       string
	LogLevel          string
	LogRotateInterval int // Hour
	LogMaxSize        int // MB
	LogMaxBackups     int
	LogMaxAge         int // Days
	LogCompress       bool

	RelayLogEnabled bool   // Feed the service's own logs through the hub
	RelayLogLevel   string // Minimum level for the relay zap core
}

// LoadConfig reads configuration from environment variables or .env file
func LoadConfig(logger *zap.Logger) (*Config, error) { // logger can be nil here
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "local" // Default to local if not set
	}

	envFileName := fmt.Sprintf(".env.%s", appEnv)
	if _, err := os.Stat(envFileName); err == nil {
		if err := godotenv.Load(envFileName); err != nil {
			if logger != nil {
				logger.Warn("Error loading .env file, continuing with environment variables", zap.String("file", envFileName), zap.Error(err))
			}
		} else {
			if logger != nil {
				logger.Info("Loaded configuration", zap.String("file", envFileName))
			}
		}
	} else if appEnv == "local" {
		// Try loading .env.local by default if .env.local specifically exists
		if _, err := os.Stat(".env.local"); err == nil {
			if err := godotenv.Load(".env.local"); err != nil {
				if logger != nil {
					logger.Warn("Error loading .env.local file", zap.Error(err))
				}
			} else {
				if logger != nil {
					logger.Info("Loaded configuration from .env.local")
				}
			}
		} else {
			if logger != nil {
				logger.Warn(".env.local not found, relying on environment variables or defaults")
			}
		}
	} else {
		if logger != nil {
			logger.Warn("No specific .env file found for environment, relying on environment variables or defaults", zap.String("environment", appEnv))
		}
	}

	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "local"),
		Port:         getEnv("PORT", "3000"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/logs.db"),
		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 1000),
		AssetsDir:    getEnv("ASSETS_DIR", "./public"),

		LogFilePath:       getEnv("LOG_FILE_PATH", "./logs/app.log"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogRotateInterval: getEnvAsInt("LOG_ROTATE_INTERVAL", 1),
		LogMaxSize:        getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups:     getEnvAsInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:         getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:       getEnvAsBool("LOG_COMPRESS", false),

		RelayLogEnabled: getEnvAsBool("RELAY_LOG_ENABLED", false),
		RelayLogLevel:   strings.ToLower(getEnv("RELAY_LOG_LEVEL", "warn")),

		// --- Load CORS Settings ---
		// Default AllowOrigins to "*" for local, empty for others (forcing explicit setting)
		CORSAllowOrigins: getEnv("CORS_ALLOW_ORIGINS", func() string {
			if getEnv("APP_ENV", "local") == "local" || getEnv("APP_ENV", "local") == "development" {
				return "*" // Be permissive in local/dev
			}
			return "" // Force setting in prod/other envs
		}()),
		CORSAllowMethods: getEnv("CORS_ALLOW_METHODS", "GET,POST,HEAD,OPTIONS"),
		CORSAllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin,Content-Type,Accept,Authorization,X-Source,X-Level"),
		// --- End Load CORS ---
	}

	// Validation for LogLevel string here if desired
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "dpanic": true, "panic": true, "fatal": true}
	if !validLevels[cfg.LogLevel] {
		if logger != nil {
			logger.Warn("Invalid LOG_LEVEL specified, defaulting to 'info'", zap.String("invalidLevel", cfg.LogLevel))
		}
		cfg.LogLevel = "info" // Reset to default if invalid
	}
	if !validLevels[cfg.RelayLogLevel] {
		if logger != nil {
			logger.Warn("Invalid RELAY_LOG_LEVEL specified, defaulting to 'warn'", zap.String("invalidLevel", cfg.RelayLogLevel))
		}
		cfg.RelayLogLevel = "warn"
	}

	if cfg.HistoryLimit < 1 {
		if logger != nil {
			logger.Warn("HISTORY_LIMIT must be at least 1, defaulting to 1000", zap.Int("invalidLimit", cfg.HistoryLimit))
		}
		cfg.HistoryLimit = 1000
	}

	writeWaitSec := getEnvAsInt("WS_WRITE_WAIT_SECONDS", 10)
	cfg.WSWriteWait = time.Duration(writeWaitSec) * time.Second

	trimIntervalSec := getEnvAsInt("TRIM_INTERVAL_SECONDS", 300)
	cfg.TrimInterval = time.Duration(trimIntervalSec) * time.Second

	// Add warning for default/empty CORS origins in production
	if cfg.AppEnv != "local" && cfg.AppEnv != "development" && (cfg.CORSAllowOrigins == "*" || cfg.CORSAllowOrigins == "") {
		if logger != nil {
			logger.Warn("CORS_ALLOW_ORIGINS is set to '*' or is empty in a non-local/dev environment. This is insecure. Set specific origins for production.")
		}
		return nil, fmt.Errorf("CORS_ALLOW_ORIGINS must be set explicitly in production environments")
	}

	return cfg, nil
}

// Helper function to get env var or default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get env var as int or default
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// Helper function to get env var as bool or default
func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
