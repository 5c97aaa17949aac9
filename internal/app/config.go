package app

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv        string
	Release       string
	LogLevel      string
	Port          string
	PublicBaseURL string
	SentryDSN     string

	DatabaseURL string
	DBPool      PoolSettings

	JWTSecret     string
	JWTAlgorithm  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
	SessionCache  int
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	MeRateLimitMax       int
	MeRateLimitWindow    time.Duration

	Mail MailSettings

	CloudinaryURL    string
	CloudinaryFolder string
	S3               S3Settings

	CronSecret       string
	CleanupSchedule  string
	CleanupBatchSize int

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type MailSettings struct {
	Server         string
	Port           int
	Username       string
	Password       string
	From           string
	FromName       string
	StartTLS       bool
	SSLTLS         bool
	UseCredentials bool
	ValidateCerts  bool
}

type S3Settings struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PublicURL    string
}

// LoadConfig reads the configuration from the environment. DATABASE_URL and
// JWT_SECRET are required.
func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		if fallback := strings.TrimSpace(os.Getenv("DB_URL")); fallback != "" {
			databaseURL = fallback
		} else {
			return Config{}, err
		}
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        envOrDefault("APP_ENV", "development"),
		Release:       os.Getenv("APP_RELEASE"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		Port:          envOrDefault("PORT", "8000"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),

		DatabaseURL: databaseURL,
		DBPool: PoolSettings{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},

		JWTSecret:    jwtSecret,
		JWTAlgorithm: envOrDefault("JWT_ALGORITHM", "HS256"),
		AccessTTL:    envSecondsOrDefault("JWT_EXPIRATION_SECONDS", 3600),
		RefreshTTL:   envMinutesOrDefault("JWT_REFRESH_TOKEN_EXPIRATION", 60*24*7),
		BcryptCost:   envIntOrDefault("BCRYPT_COST", 10),
		SessionCache: envIntOrDefault("SESSION_CACHE_SIZE", 1024),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisAddr:     redisAddr(),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envNonNegativeIntOrDefault("REDIS_DB", 0),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		MeRateLimitMax:       envIntOrDefault("ME_RATE_LIMIT_MAX", 10),
		MeRateLimitWindow:    envSecondsOrDefault("ME_RATE_LIMIT_WINDOW_SECONDS", 60),

		Mail: MailSettings{
			Server:         os.Getenv("MAIL_SERVER"),
			Port:           envIntOrDefault("MAIL_PORT", 465),
			Username:       os.Getenv("MAIL_USERNAME"),
			Password:       os.Getenv("MAIL_PASSWORD"),
			From:           envOrDefault("MAIL_FROM", os.Getenv("MAIL_USERNAME")),
			FromName:       envOrDefault("MAIL_FROM_NAME", "Rest API Service"),
			StartTLS:       EnvBoolOrDefault("MAIL_STARTTLS", false),
			SSLTLS:         EnvBoolOrDefault("MAIL_SSL_TLS", true),
			UseCredentials: EnvBoolOrDefault("USE_CREDENTIALS", true),
			ValidateCerts:  EnvBoolOrDefault("VALIDATE_CERTS", true),
		},

		CloudinaryURL:    os.Getenv("CLOUDINARY_URL"),
		CloudinaryFolder: envOrDefault("CLOUDINARY_FOLDER", "ContactsApp"),
		S3: S3Settings{
			Bucket:       os.Getenv("S3_BUCKET"),
			Region:       envOrDefault("S3_REGION", "us-east-1"),
			Endpoint:     os.Getenv("S3_ENDPOINT"),
			AccessKey:    os.Getenv("S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("S3_SECRET_KEY"),
			UsePathStyle: EnvBoolOrDefault("S3_USE_PATH_STYLE", false),
			PublicURL:    os.Getenv("S3_PUBLIC_URL"),
		},

		CronSecret:       os.Getenv("CRON_SECRET"),
		CleanupSchedule:  envOrDefault("CLEANUP_SCHEDULE", "0 3 * * *"),
		CleanupBatchSize: envIntOrDefault("REFRESH_TOKEN_CLEANUP_BATCH_SIZE", 500),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	if cfg.Mail.StartTLS && cfg.Mail.SSLTLS {
		return Config{}, fmt.Errorf("MAIL_STARTTLS and MAIL_SSL_TLS cannot both be enabled")
	}

	return cfg, nil
}

func redisAddr() string {
	host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if host == "" {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(envIntOrDefault("REDIS_PORT", 6379)))
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envNonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
