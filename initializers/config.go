package initializers

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	BaseURL  string
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string

	DBDriver string
	DBURL    string

	JWTSecret  string
	JWTTTL     time.Duration
	RefreshTTL time.Duration

	StorageProvider string
	UploadDir       string
	AWSRegion       string
	AWSBucket       string
	S3Endpoint      string
	S3Prefix        string

	RedisURL      string
	ShareCacheTTL time.Duration

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64

	AnonymousTTL        time.Duration
	ReaperEnabled       bool
	ReaperInterval      time.Duration
	RecycleBinRetention time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("JWT_TTL", "720h")
	v.SetDefault("REFRESH_TTL", "2160h")
	v.SetDefault("STORAGE_PROVIDER", "disk")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("S3_PREFIX", "files/")
	v.SetDefault("SHARE_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 1)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("MAX_UPLOAD_BYTES", 100<<20)
	v.SetDefault("ANONYMOUS_TTL", "24h")
	v.SetDefault("REAPER_ENABLED", false)
	v.SetDefault("REAPER_INTERVAL", "1h")
	v.SetDefault("RECYCLE_BIN_RETENTION", "720h")
}

// LoadConfig reads configuration from the environment, loading .env first
// unless running on Render.
func LoadConfig() (*Config, error) {
	if os.Getenv("RENDER") == "" {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return configFrom(v)
}

func configFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                v.GetString("PORT"),
		BaseURL:             v.GetString("BASE_URL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		DBDriver:            strings.ToLower(v.GetString("DB_DRIVER")),
		DBURL:               v.GetString("DB_URL"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		JWTTTL:              v.GetDuration("JWT_TTL"),
		RefreshTTL:          v.GetDuration("REFRESH_TTL"),
		StorageProvider:     strings.ToLower(v.GetString("STORAGE_PROVIDER")),
		UploadDir:           v.GetString("UPLOAD_DIR"),
		AWSRegion:           v.GetString("AWS_REGION"),
		AWSBucket:           v.GetString("AWS_BUCKET_NAME"),
		S3Endpoint:          v.GetString("S3_ENDPOINT"),
		S3Prefix:            v.GetString("S3_PREFIX"),
		RedisURL:            v.GetString("REDIS_URL"),
		ShareCacheTTL:       v.GetDuration("SHARE_CACHE_TTL"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
		RateLimitRPS:        v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:      v.GetInt("RATE_LIMIT_BURST"),
		MaxUploadBytes:      v.GetInt64("MAX_UPLOAD_BYTES"),
		AnonymousTTL:        v.GetDuration("ANONYMOUS_TTL"),
		ReaperEnabled:       v.GetBool("REAPER_ENABLED"),
		ReaperInterval:      v.GetDuration("REAPER_INTERVAL"),
		RecycleBinRetention: v.GetDuration("RECYCLE_BIN_RETENTION"),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL is not set")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.StorageProvider != "disk" && c.StorageProvider != "s3" {
		return fmt.Errorf("STORAGE_PROVIDER must be disk or s3, got %q", c.StorageProvider)
	}
	if c.StorageProvider == "s3" && c.AWSBucket == "" {
		return fmt.Errorf("AWS_BUCKET_NAME is required for s3 storage")
	}
	if c.AnonymousTTL <= 0 {
		return fmt.Errorf("ANONYMOUS_TTL must be positive")
	}
	return nil
}

// RequireJWTSecret is checked only by commands that serve requests.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
