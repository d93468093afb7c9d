package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env         string
	LogLevel    string
	FrontendURL string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// Auth
	JWTSecret     string
	WebhookSecret string

	// Object storage (S3 / MinIO)
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3PublicURL string

	// Job queue
	QueueKeyPrefix    string
	QueueReconnectMin time.Duration
	QueueReconnectMax time.Duration

	// Retention
	RetentionDays  int
	CleanupCron    string
	CleanupLockTTL time.Duration

	// Videos
	PresignTTLSeconds       int
	UploadPresignTTLSeconds int
	DefaultLanguage         string
	SubmitRateLimit         int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                    getEnvOrDefault("PORT", "8080"),
		Env:                     getEnvOrDefault("ENV", "development"),
		LogLevel:                getEnvOrDefault("LOG_LEVEL", "info"),
		FrontendURL:             getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
		DatabaseURL:             mustGetEnv("DATABASE_URL"),
		MigrationsDir:           getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:                mustGetEnv("REDIS_URL"),
		JWTSecret:               mustGetEnv("JWT_SECRET"),
		WebhookSecret:           getEnvOrDefault("WEBHOOK_SECRET", ""),
		S3Endpoint:              getEnvOrDefault("S3_ENDPOINT", "http://localhost:9000"),
		S3Region:                getEnvOrDefault("S3_REGION", "us-east-1"),
		S3AccessKey:             getEnvOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:             getEnvOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:                getEnvOrDefault("S3_BUCKET", "videos"),
		S3PublicURL:             getEnvOrDefault("S3_PUBLIC_URL", ""),
		QueueKeyPrefix:          getEnvOrDefault("QUEUE_KEY_PREFIX", "queue:"),
		QueueReconnectMin:       getEnvAsDurationOrDefault("QUEUE_RECONNECT_MIN", time.Second),
		QueueReconnectMax:       getEnvAsDurationOrDefault("QUEUE_RECONNECT_MAX", 30*time.Second),
		RetentionDays:           getEnvAsIntOrDefault("RETENTION_DAYS", 3),
		CleanupCron:             getEnvOrDefault("CLEANUP_CRON", "0 0 * * *"),
		CleanupLockTTL:          getEnvAsDurationOrDefault("CLEANUP_LOCK_TTL", 6*time.Hour),
		PresignTTLSeconds:       getEnvAsIntOrDefault("PRESIGN_TTL_SECONDS", 3600),
		UploadPresignTTLSeconds: getEnvAsIntOrDefault("UPLOAD_PRESIGN_TTL_SECONDS", 900),
		DefaultLanguage:         getEnvOrDefault("DEFAULT_LANGUAGE", "vietnamese"),
		SubmitRateLimit:         getEnvAsIntOrDefault("SUBMIT_RATE_LIMIT", 30),
	}

	return cfg
}

// RetentionWindow is the age after which a video becomes eligible for cleanup.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
