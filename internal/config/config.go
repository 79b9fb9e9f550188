package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port                     string
	AuthToken                string
	DBURL                    string
	ReadTimeoutSecs          int
	WriteTimeoutSecs         int
	IdleTimeoutSecs          int
	BatchWindowMs            int
	RetryBackoffMs           int
	MaxCommitAttempts        int
	ExpectedVotersPerSession int
	DBMaxConns               int
	DBMinConns               int
	DBMaxIdleSecs            int
	DBMaxLifeSecs            int
	DBConnTimeoutSecs        int
}

// Load reads configuration from the environment (and an optional .env file),
// applying defaults and validation.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AuthToken:                os.Getenv("AUTH_TOKEN"),
		DBURL:                    os.Getenv("DB_URL"),
		ReadTimeoutSecs:          getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:         getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:          getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		BatchWindowMs:            getEnvInt("BATCH_WINDOW_MS", 5000),
		RetryBackoffMs:           getEnvInt("RETRY_BACKOFF_MS", 10000),
		MaxCommitAttempts:        getEnvInt("MAX_COMMIT_ATTEMPTS", 5),
		ExpectedVotersPerSession: getEnvInt("EXPECTED_VOTERS_PER_SESSION", 100),
		DBMaxConns:               getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:               getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:            getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:            getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:        getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
	}

	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.BatchWindowMs <= 0 {
		return Config{}, fmt.Errorf("BATCH_WINDOW_MS must be positive")
	}
	if cfg.RetryBackoffMs <= 0 {
		return Config{}, fmt.Errorf("RETRY_BACKOFF_MS must be positive")
	}
	if cfg.MaxCommitAttempts <= 0 {
		return Config{}, fmt.Errorf("MAX_COMMIT_ATTEMPTS must be positive")
	}
	if cfg.ExpectedVotersPerSession <= 0 {
		return Config{}, fmt.Errorf("EXPECTED_VOTERS_PER_SESSION must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
