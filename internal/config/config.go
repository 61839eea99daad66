// backend/internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"challenge-system/pkg/database"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	GoogleAPIKey       string
	ClerkSecretKey     string
	ClerkWebhookSecret string
	ClerkJWTKey        string
	ClerkAPIURL        string
	AllowedOrigins     []string

	DBDriver string
	DBPath   string
	Database database.Config

	RedisAddr        string
	GeminiModel      string
	GeneratorTimeout time.Duration
	ServerPort       string
	LogLevel         string
}

// Load reads the configuration from the environment. Secrets have no defaults:
// every missing one is reported in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		ClerkSecretKey:     os.Getenv("CLERK_SECRET_KEY"),
		ClerkWebhookSecret: os.Getenv("CLERK_WEBHOOK_SECRET"),
		ClerkJWTKey:        os.Getenv("CLERK_JWT_KEY"),
		ClerkAPIURL:        getEnv("CLERK_API_URL", "https://api.clerk.com"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:5174")),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DBPath:   getEnv("DB_PATH", "challenges.db"),
		Database: database.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "challenges"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		GeminiModel: getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	var missing []string
	for _, required := range []struct{ name, value string }{
		{"GOOGLE_API_KEY", cfg.GoogleAPIKey},
		{"CLERK_SECRET_KEY", cfg.ClerkSecretKey},
		{"CLERK_WEBHOOK_SECRET", cfg.ClerkWebhookSecret},
	} {
		if strings.TrimSpace(required.value) == "" {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	timeout, err := time.ParseDuration(getEnv("GENERATOR_TIMEOUT", "20s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid GENERATOR_TIMEOUT %q", os.Getenv("GENERATOR_TIMEOUT"))
	}
	cfg.GeneratorTimeout = timeout

	if cfg.DBDriver != DriverPostgres && cfg.DBDriver != DriverSQLite {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
