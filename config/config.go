// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	Log          LogConfig
	Pricing      PricingConfig
	Notification NotificationConfig
	Disbursement DisbursementConfig
}

type DatabaseConfig struct {
	Path string
}

// RedisConfig configures the optional report cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PricingConfig points at a JSON price list. An empty File uses the built-in
// table.
type PricingConfig struct {
	File            string
	MinPaymentRatio float64
}

type NotificationConfig struct {
	QueueWorkers      int
	ResendConcurrency int
	DigestCron        string
}

type DisbursementConfig struct {
	NotifyTo []string
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{Path: v.GetString("DB_PATH")}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		TTL:      parseDuration(v.GetString("REPORT_CACHE_TTL"), time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	ratio := v.GetFloat64("MIN_PAYMENT_RATIO")
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	cfg.Pricing = PricingConfig{
		File:            v.GetString("PRICING_FILE"),
		MinPaymentRatio: ratio,
	}

	cfg.Notification = NotificationConfig{
		QueueWorkers:      v.GetInt("NOTIFY_QUEUE_WORKERS"),
		ResendConcurrency: v.GetInt("RESEND_CONCURRENCY"),
		DigestCron:        v.GetString("FAILURE_DIGEST_CRON"),
	}

	cfg.Disbursement = DisbursementConfig{
		NotifyTo: splitAndTrim(v.GetString("DISBURSEMENT_NOTIFY_TO")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_PATH", "./regengine.db")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REPORT_CACHE_TTL", "1m")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PRICING_FILE", "")
	v.SetDefault("MIN_PAYMENT_RATIO", 0.5)

	v.SetDefault("NOTIFY_QUEUE_WORKERS", 2)
	v.SetDefault("RESEND_CONCURRENCY", 4)
	v.SetDefault("FAILURE_DIGEST_CRON", "@every 15m")

	v.SetDefault("DISBURSEMENT_NOTIFY_TO", "")
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
