package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/notetaker/backend/internal/recall"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Recall    RecallConfig
	Scheduler SchedulerConfig
	Google    GoogleConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/notetaker?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings for the dashboard API.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the transcript archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TranscriptsBucket    string
	PresignExpireMinutes int
}

// RecallConfig holds transcription provider settings. APIKey is the only required credential;
// its absence is reported through the bot configuration check rather than failing start-up.
type RecallConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string // optional; enables webhook signature verification
	BotName       string
	Language      string
}

// SchedulerConfig holds bot scheduler loop settings.
type SchedulerConfig struct {
	IntervalSec        int
	AutoStart          bool
	DefaultJoinMinutes int
	WindowHours        int
}

// GoogleConfig holds OAuth client settings used for calendar sync.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	SyncDays     int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Validate reports whether the provider credential is configured.
func (c RecallConfig) Validate() recall.Validation {
	return recall.ValidateConfiguration(c.APIKey)
}

// Interval returns the scheduler tick interval.
func (c SchedulerConfig) Interval() time.Duration {
	if c.IntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.IntervalSec) * time.Second
}

// Window returns how far ahead the scheduling pass looks for meetings.
func (c SchedulerConfig) Window() time.Duration {
	if c.WindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.WindowHours) * time.Hour
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "notetaker"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TranscriptsBucket:    getEnv("AWS_S3_TRANSCRIPTS_BUCKET", "notetaker-transcripts"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Recall: RecallConfig{
			APIKey:        os.Getenv("RECALL_API_KEY"),
			BaseURL:       getEnv("RECALL_API_BASE", "https://us-west-2.recall.ai/api/v1"),
			WebhookSecret: getEnv("RECALL_WEBHOOK_SECRET", ""),
			BotName:       getEnv("RECALL_BOT_NAME", "Transcription Bot"),
			Language:      getEnv("RECALL_TRANSCRIPT_LANGUAGE", "en"),
		},
		Scheduler: SchedulerConfig{
			IntervalSec:        getEnvInt("BOT_SCHEDULER_INTERVAL_SEC", 300),
			AutoStart:          getEnvBool("BOT_SCHEDULER_AUTOSTART", true),
			DefaultJoinMinutes: getEnvInt("BOT_DEFAULT_JOIN_MINUTES", 2),
			WindowHours:        getEnvInt("BOT_SCHEDULING_WINDOW_HOURS", 24),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			CalendarID:   getEnv("GOOGLE_CALENDAR_ID", "primary"),
			SyncDays:     getEnvInt("CALENDAR_SYNC_DAYS", 7),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
