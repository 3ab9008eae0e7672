package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Document store drivers.
const (
	DocStoreMemory    = "memory"
	DocStorePostgres  = "postgres"
	DocStoreFirestore = "firestore"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	DocStore  DocStoreConfig
	Calendar  CalendarConfig
	Presence  PresenceConfig
	Exports   ExportsConfig
	Assistant AssistantConfig
	Jobs      JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DocStoreConfig selects the document store backing events, attendance and social records.
type DocStoreConfig struct {
	Driver             string
	FirestoreProjectID string
	CredentialsFile    string
	NotifyChannel      string
}

// CalendarConfig tunes the month window and the REST cache.
type CalendarConfig struct {
	WindowPaddingDays int
	CacheTTL          time.Duration
	CacheEnabled      bool
	ResubscribeMax    time.Duration
}

// PresenceConfig controls heartbeat cadence and server-side expiry.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	TTL               time.Duration
	SweepSchedule     string
}

// ExportsConfig configures attendance export rendering and downloads.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupSchedule string
}

// AssistantConfig configures the generative assistant.
type AssistantConfig struct {
	APIKey            string
	Model             string
	ImageModel        string
	SystemInstruction string
	Timeout           time.Duration
}

// JobsConfig sizes the background worker pool.
type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.DocStore = DocStoreConfig{
		Driver:             strings.ToLower(v.GetString("DOCSTORE_DRIVER")),
		FirestoreProjectID: v.GetString("FIRESTORE_PROJECT_ID"),
		CredentialsFile:    v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		NotifyChannel:      v.GetString("DOCSTORE_NOTIFY_CHANNEL"),
	}

	padding := v.GetInt("CALENDAR_WINDOW_PADDING_DAYS")
	if padding < 0 {
		padding = 0
	}
	cfg.Calendar = CalendarConfig{
		WindowPaddingDays: padding,
		CacheTTL:          parseDuration(v.GetString("CALENDAR_CACHE_TTL"), 2*time.Minute),
		CacheEnabled:      v.GetBool("ENABLE_CALENDAR_CACHE"),
		ResubscribeMax:    parseDuration(v.GetString("CALENDAR_RESUBSCRIBE_MAX"), 30*time.Second),
	}

	cfg.Presence = PresenceConfig{
		HeartbeatInterval: parseDuration(v.GetString("PRESENCE_HEARTBEAT_INTERVAL"), time.Minute),
		TTL:               parseDuration(v.GetString("PRESENCE_TTL"), 150*time.Second),
		SweepSchedule:     v.GetString("PRESENCE_SWEEP_SCHEDULE"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupSchedule: v.GetString("EXPORTS_CLEANUP_SCHEDULE"),
	}

	cfg.Assistant = AssistantConfig{
		APIKey:            v.GetString("GEMINI_API_KEY"),
		Model:             v.GetString("ASSISTANT_MODEL"),
		ImageModel:        v.GetString("ASSISTANT_IMAGE_MODEL"),
		SystemInstruction: v.GetString("ASSISTANT_SYSTEM_INSTRUCTION"),
		Timeout:           parseDuration(v.GetString("ASSISTANT_TIMEOUT"), 60*time.Second),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "student_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "student-portal-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DOCSTORE_DRIVER", DocStorePostgres)
	v.SetDefault("FIRESTORE_PROJECT_ID", "")
	v.SetDefault("GOOGLE_APPLICATION_CREDENTIALS", "")
	v.SetDefault("DOCSTORE_NOTIFY_CHANNEL", "docstore_changes")

	v.SetDefault("CALENDAR_WINDOW_PADDING_DAYS", 7)
	v.SetDefault("CALENDAR_CACHE_TTL", "2m")
	v.SetDefault("ENABLE_CALENDAR_CACHE", true)
	v.SetDefault("CALENDAR_RESUBSCRIBE_MAX", "30s")

	v.SetDefault("PRESENCE_HEARTBEAT_INTERVAL", "60s")
	v.SetDefault("PRESENCE_TTL", "150s")
	v.SetDefault("PRESENCE_SWEEP_SCHEDULE", "@every 1m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_SCHEDULE", "@hourly")

	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("ASSISTANT_MODEL", "gemini-1.5-flash")
	v.SetDefault("ASSISTANT_IMAGE_MODEL", "gemini-2.0-flash-exp")
	v.SetDefault("ASSISTANT_SYSTEM_INSTRUCTION", "You are a helpful study assistant for students of this school. Answer concisely.")
	v.SetDefault("ASSISTANT_TIMEOUT", "60s")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
