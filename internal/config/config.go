package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"filegate/api/internal/dbx"
	"filegate/api/internal/lifecycle"
)

type Config struct {
	Addr        string
	DBDriver    dbx.Dialect
	DatabaseURL string
	SQLitePath  string
	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	CORSOrigin  string
	PublicURL   string

	TeamLeaderApproval lifecycle.Status
	AdminApproval      lifecycle.Status
	AutoSubmit         bool
	ReminderSchedule   string
	MaxUploadBytes     int64

	MeiliURL       string
	MeiliMasterKey string
	// Object storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis backs refresh sessions and notification pub/sub
	RedisURL string

	// First admin account, created at startup when the email is unknown
	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	ChromePath string
	LogLevel   slog.Level
	LogFormat  string
}

// Load reads the environment, after preloading .env when one exists.
// Nothing secret has a compiled-in default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := Config{
		Addr:             getenv("API_ADDR", ":8787"),
		DBDriver:         dbx.Dialect(strings.ToLower(getenv("DB_DRIVER", string(dbx.Postgres)))),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getenv("SQLITE_PATH", "./data/filegate.db"),
		JWTSecret:        os.Getenv("FILEGATE_JWT_SECRET"),
		CORSOrigin:       getenv("FILEGATE_CORS_ORIGIN", "*"),
		PublicURL:        getenv("FILEGATE_PUBLIC_URL", "http://localhost:5173"),
		ReminderSchedule: getenv("FILEGATE_REMINDER_SCHEDULE", "0 8 * * *"),
		MeiliURL:         os.Getenv("MEILI_URL"),
		MeiliMasterKey:   os.Getenv("MEILI_MASTER_KEY"),
		MinioEndpoint:    os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:      getenv("MINIO_BUCKET", "filegate"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Filegate"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ChromePath:   os.Getenv("CHROME_PATH"),

		BootstrapAdminEmail:    os.Getenv("FILEGATE_BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminPassword: os.Getenv("FILEGATE_BOOTSTRAP_ADMIN_PASSWORD"),
		LogFormat:              strings.ToLower(getenv("LOG_FORMAT", "text")),
	}

	cfg.AccessTTL = time.Duration(getenvInt("FILEGATE_ACCESS_TTL_SECONDS", 900, &errs)) * time.Second
	cfg.RefreshTTL = time.Duration(getenvInt("FILEGATE_REFRESH_TTL_SECONDS", 2592000, &errs)) * time.Second
	cfg.MaxUploadBytes = int64(getenvInt("FILEGATE_MAX_UPLOAD_BYTES", 100<<20, &errs))
	cfg.AutoSubmit = getenvBool("FILEGATE_AUTO_SUBMIT", false, &errs)
	cfg.MinioUseSSL = getenvBool("MINIO_USE_SSL", false, &errs)

	var err error
	if cfg.TeamLeaderApproval, err = lifecycle.ParseStatus(getenv("FILEGATE_TEAM_LEADER_APPROVAL_TARGET", string(lifecycle.StatusPendingAdmin))); err != nil {
		errs = append(errs, fmt.Errorf("FILEGATE_TEAM_LEADER_APPROVAL_TARGET: %w", err))
	}
	if cfg.AdminApproval, err = lifecycle.ParseStatus(getenv("FILEGATE_ADMIN_APPROVAL_TARGET", string(lifecycle.StatusFinalApproved))); err != nil {
		errs = append(errs, fmt.Errorf("FILEGATE_ADMIN_APPROVAL_TARGET: %w", err))
	}
	if cfg.LogLevel, err = parseLogLevel(getenv("LOG_LEVEL", "info")); err != nil {
		errs = append(errs, err)
	}

	switch cfg.DBDriver {
	case dbx.Postgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DB_DRIVER=postgres"))
		}
	case dbx.SQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want postgres or sqlite", cfg.DBDriver))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("FILEGATE_JWT_SECRET is required"))
	}
	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("FILEGATE_BOOTSTRAP_ADMIN_EMAIL and FILEGATE_BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", cfg.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// RoutingPolicy is the approval routing the lifecycle is built with.
func (c Config) RoutingPolicy() lifecycle.RoutingPolicy {
	return lifecycle.RoutingPolicy{TeamLeaderApprove: c.TeamLeaderApproval, AdminApprove: c.AdminApproval}
}

// SetupLogger installs the process-wide slog logger.
func SetupLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: want a positive integer, got %q", key, value))
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: want a boolean, got %q", key, value))
		return fallback
	}
	return parsed
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn or error", level)
	}
}
