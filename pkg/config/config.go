package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Seating  SeatingConfig
	Runs     RunsConfig
	Cache    CacheConfig
	Auth     AuthConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig controls the process logger. Dir, when set, receives the
// execution.log / errors.log pair.
type LogConfig struct {
	Level  string
	Format string
	Dir    string
}

// SeatingConfig holds run parameter defaults and engine fan-out limits.
type SeatingConfig struct {
	DefaultBuffer int
	DefaultMode   string
	SlotWorkers   int
	RenderWorkers int
	PhotosDir     string
}

// RunsConfig configures asynchronous seating runs and their artifacts.
type RunsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	MaxUploadBytes    int64
}

// CacheConfig toggles the Redis-backed plan cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// AuthConfig gates run endpoints behind bearer tokens.
type AuthConfig struct {
	Enabled bool
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags behaves like Load but lets command-line flags override
// environment values. Flag names use the env key in lower-kebab form, e.g.
// --seating-default-buffer binds SEATING_DEFAULT_BUFFER.
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
		Dir:    v.GetString("LOG_DIR"),
	}

	cfg.Seating = SeatingConfig{
		DefaultBuffer: v.GetInt("SEATING_DEFAULT_BUFFER"),
		DefaultMode:   strings.ToLower(v.GetString("SEATING_DEFAULT_MODE")),
		SlotWorkers:   v.GetInt("SEATING_SLOT_WORKERS"),
		RenderWorkers: v.GetInt("SEATING_RENDER_WORKERS"),
		PhotosDir:     v.GetString("SEATING_PHOTOS_DIR"),
	}

	maxUpload := v.GetInt64("RUNS_MAX_UPLOAD_BYTES")
	if maxUpload <= 0 {
		maxUpload = 64 * 1024 * 1024
	}
	cfg.Runs = RunsConfig{
		StorageDir:        v.GetString("RUNS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("RUNS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("RUNS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("RUNS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("RUNS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("RUNS_WORKER_RETRIES"),
		MaxUploadBytes:    maxUpload,
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_PLAN_CACHE"),
		TTL:     parseDuration(v.GetString("PLAN_CACHE_TTL"), 6*time.Hour),
	}

	cfg.Auth = AuthConfig{
		Enabled: v.GetBool("AUTH_ENABLED"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exam_seating")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "exam-seating")
	v.SetDefault("JWT_EXPIRATION", "12h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_DIR", "")

	v.SetDefault("SEATING_DEFAULT_BUFFER", 0)
	v.SetDefault("SEATING_DEFAULT_MODE", "dense")
	v.SetDefault("SEATING_SLOT_WORKERS", 4)
	v.SetDefault("SEATING_RENDER_WORKERS", 4)
	v.SetDefault("SEATING_PHOTOS_DIR", "photos")

	v.SetDefault("RUNS_STORAGE_DIR", "./runs")
	v.SetDefault("RUNS_SIGNED_URL_SECRET", "dev_runs_secret")
	v.SetDefault("RUNS_SIGNED_URL_TTL", "24h")
	v.SetDefault("RUNS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("RUNS_WORKER_CONCURRENCY", 1)
	v.SetDefault("RUNS_WORKER_RETRIES", 3)
	v.SetDefault("RUNS_MAX_UPLOAD_BYTES", 64*1024*1024)

	v.SetDefault("ENABLE_PLAN_CACHE", false)
	v.SetDefault("PLAN_CACHE_TTL", "6h")
	v.SetDefault("AUTH_ENABLED", false)
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
