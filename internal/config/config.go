package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	GeminiTimeout        time.Duration

	// Execution sandbox
	ExecutorURL     string
	ExecutorTimeout time.Duration

	// Storage
	StoragePath string

	// Leaderboard
	LeaderboardCacheTTL time.Duration

	// Workers
	WorkerCount     int
	ChainMaxRetries int

	// Frontend
	FrontendURL string
}

var requiredKeys = []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "GEMINI_API_KEY"}

// Load layers, from lowest to highest precedence: defaults, the YAML file
// named by CONFIG_FILE, then environment variables (a .env file is loaded
// into the environment first).
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Env keys are used verbatim (DATABASE_URL), so YAML files use the same upper-case keys.
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(k.String(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required configuration not set: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Port:                 getOrDefault(k, "PORT", "8080"),
		Env:                  getOrDefault(k, "ENV", "development"),
		LogLevel:             getOrDefault(k, "LOG_LEVEL", ""),
		DatabaseURL:          k.String("DATABASE_URL"),
		RedisURL:             k.String("REDIS_URL"),
		JWTSecret:            k.String("JWT_SECRET"),
		GeminiAPIKey:         k.String("GEMINI_API_KEY"),
		GeminiModel:          getOrDefault(k, "GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiConcurrentReqs: getIntOrDefault(k, "GEMINI_CONCURRENT_REQUESTS", 5),
		GeminiTimeout:        time.Duration(getIntOrDefault(k, "GEMINI_TIMEOUT_SECONDS", 60)) * time.Second,
		ExecutorURL:          getOrDefault(k, "EXECUTOR_URL", "http://localhost:2000/api/v2/execute"),
		ExecutorTimeout:      time.Duration(getIntOrDefault(k, "EXECUTOR_TIMEOUT_SECONDS", 20)) * time.Second,
		StoragePath:          getOrDefault(k, "STORAGE_PATH", "./storage"),
		LeaderboardCacheTTL:  time.Duration(getIntOrDefault(k, "LEADERBOARD_CACHE_TTL_SECONDS", 30)) * time.Second,
		WorkerCount:          getIntOrDefault(k, "WORKER_COUNT", 3),
		ChainMaxRetries:      getIntOrDefault(k, "CHAIN_MAX_RETRIES", 2),
		FrontendURL:          getOrDefault(k, "FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg, nil
}

func getOrDefault(k *koanf.Koanf, key, defaultVal string) string {
	val := strings.TrimSpace(k.String(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getIntOrDefault(k *koanf.Koanf, key string, defaultVal int) int {
	val := strings.TrimSpace(k.String(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
