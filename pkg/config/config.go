package config

import (
	"errors"
	"os"
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
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Storage   StorageConfig
	Uploads   UploadsConfig
	Reports   ReportsConfig
	Bootstrap BootstrapConfig
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
	Host         string
	Port         int
	Password     string
	DB           int
	CacheEnabled bool
	CacheTTL     time.Duration
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects between the S3-compatible bucket and the local uploads tree.
type StorageConfig struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	LocalDir        string
	TempDir         string
	TempTTL         time.Duration
	CleanupSchedule string
	PresignTTL      time.Duration
}

// UploadsConfig bounds request bodies and the image pipeline.
type UploadsConfig struct {
	MaxContentLength  int64
	PhotoMaxFileSize  int64
	ImageTargetSize   int64
	ImageMaxDimension int
	PhotoWorkers      int
	FormMaxFields     int
}

// ReportsConfig tunes PDF rendering and shared download links.
type ReportsConfig struct {
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	LogoPath          string
	MaxPhotosPerField int
	RenderWorkers     int
	RenderRetries     int
	CompanyFooter     string
}

// BootstrapConfig describes the administrator created on an empty database.
type BootstrapConfig struct {
	Email          string
	Password       string
	FullName       string
	DocumentNumber string
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:         v.GetString("REDIS_HOST"),
		Port:         v.GetInt("REDIS_PORT"),
		Password:     v.GetString("REDIS_PASSWORD"),
		DB:           v.GetInt("REDIS_DB"),
		CacheEnabled: v.GetBool("CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		EndpointURL:     strings.TrimSpace(v.GetString("R2_ENDPOINT_URL")),
		AccessKeyID:     strings.TrimSpace(v.GetString("R2_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(v.GetString("R2_SECRET_ACCESS_KEY")),
		Bucket:          v.GetString("R2_BUCKET_NAME"),
		Region:          v.GetString("R2_REGION"),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		TempDir:         v.GetString("STORAGE_TEMP_DIR"),
		TempTTL:         parseDuration(v.GetString("STORAGE_TEMP_TTL"), time.Hour),
		CleanupSchedule: v.GetString("STORAGE_CLEANUP_SCHEDULE"),
		PresignTTL:      parseDuration(v.GetString("STORAGE_PRESIGN_TTL"), time.Hour),
	}

	cfg.Uploads = UploadsConfig{
		MaxContentLength:  positiveInt64(v.GetInt64("MAX_CONTENT_LENGTH"), 10*1024*1024),
		PhotoMaxFileSize:  positiveInt64(v.GetInt64("PHOTO_MAX_FILE_SIZE"), 10*1024*1024),
		ImageTargetSize:   positiveInt64(v.GetInt64("IMAGE_TARGET_SIZE"), 512*1024),
		ImageMaxDimension: v.GetInt("IMAGE_MAX_DIMENSION"),
		PhotoWorkers:      v.GetInt("PHOTO_WORKERS"),
		FormMaxFields:     v.GetInt("FORM_MAX_FIELDS"),
	}

	cfg.Reports = ReportsConfig{
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		LogoPath:          v.GetString("REPORTS_LOGO_PATH"),
		MaxPhotosPerField: v.GetInt("REPORTS_MAX_PHOTOS_PER_FIELD"),
		RenderWorkers:     v.GetInt("REPORTS_RENDER_WORKERS"),
		RenderRetries:     v.GetInt("REPORTS_RENDER_RETRIES"),
		CompanyFooter:     v.GetString("REPORTS_COMPANY_FOOTER"),
	}

	cfg.Bootstrap = BootstrapConfig{
		Email:          v.GetString("INITIAL_USER_EMAIL"),
		Password:       v.GetString("INITIAL_USER_PASSWORD"),
		FullName:       v.GetString("INITIAL_USER_NAME"),
		DocumentNumber: v.GetString("INITIAL_USER_DOCUMENT"),
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
	v.SetDefault("DB_NAME", "erp_bacs")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("R2_ENDPOINT_URL", "")
	v.SetDefault("R2_ACCESS_KEY_ID", "")
	v.SetDefault("R2_SECRET_ACCESS_KEY", "")
	v.SetDefault("R2_BUCKET_NAME", "erp-bacs")
	v.SetDefault("R2_REGION", "auto")
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_TEMP_DIR", "./tmp")
	v.SetDefault("STORAGE_TEMP_TTL", "1h")
	v.SetDefault("STORAGE_CLEANUP_SCHEDULE", "@every 30m")
	v.SetDefault("STORAGE_PRESIGN_TTL", "1h")

	v.SetDefault("MAX_CONTENT_LENGTH", 10*1024*1024)
	v.SetDefault("PHOTO_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("IMAGE_TARGET_SIZE", 512*1024)
	v.SetDefault("IMAGE_MAX_DIMENSION", 2000)
	v.SetDefault("PHOTO_WORKERS", 4)
	v.SetDefault("FORM_MAX_FIELDS", 100)

	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_LOGO_PATH", "./static/logo.png")
	v.SetDefault("REPORTS_MAX_PHOTOS_PER_FIELD", 20)
	v.SetDefault("REPORTS_RENDER_WORKERS", 1)
	v.SetDefault("REPORTS_RENDER_RETRIES", 2)
	v.SetDefault("REPORTS_COMPANY_FOOTER", "BACS - Building Automation & Control Systems")

	v.SetDefault("INITIAL_USER_EMAIL", "")
	v.SetDefault("INITIAL_USER_PASSWORD", "")
	v.SetDefault("INITIAL_USER_NAME", "Administrador")
	v.SetDefault("INITIAL_USER_DOCUMENT", "0000000")
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

func positiveInt64(value, fallback int64) int64 {
	if value <= 0 {
		return fallback
	}
	return value
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
