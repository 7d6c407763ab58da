package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath          string
	Port            int
	LogMode         string
	AdminToken      string
	RefreshInterval time.Duration
	RedisAddr       string
	RedisChannel    string
}

// Load reads an optional .env file from the working directory and then
// builds the configuration from DXP_* environment variables. Variables
// already set in the environment win over .env entries.
func Load() *Config {
	// Missing .env is the normal case
	_ = godotenv.Load()

	return &Config{
		DBPath:          getEnvOrDefault("DXP_DB_PATH", "./dxp.db"),
		Port:            getEnvInt("DXP_PORT", 8080),
		LogMode:         getEnvOrDefault("DXP_LOG_MODE", "dev"),
		AdminToken:      os.Getenv("DXP_ADMIN_TOKEN"),
		RefreshInterval: getEnvDuration("DXP_REFRESH_INTERVAL", 30*time.Second),
		RedisAddr:       os.Getenv("DXP_REDIS_ADDR"),
		RedisChannel:    getEnvOrDefault("DXP_REDIS_CHANNEL", "dxp:events"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
