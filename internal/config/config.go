package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	ListenAddr             string
	MySQLDSN               string
	AuthJWTSecret          string
	AdminUsername          string
	AdminPassword          string
	ThriveCartSecret       string
	AutoProvisionOnPayment bool
	AutoProvisionOnTopUp   bool
	ChatWebhookURL         string
	ImageWebhookURL        string
	ChatTimeout            time.Duration
	ImageTimeout           time.Duration
	ChatDebitEnabled       bool
	PricingFile            string
	TrialCreditsPerMonth   decimal.Decimal
	RateLimitPerMinute     int
	VdoCipherAPISecret     string
	VdoCipherBaseURL       string
	TelegramBotToken       string
	TelegramAdminChatID    int64
	S3Endpoint             string
	S3Region               string
	S3AccessKey            string
	S3SecretKey            string
	S3Bucket               string
	S3PublicBaseURL        string
	S3UsePathStyle         bool
	S3Prefix               string
	LogLevel               string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:             getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		ThriveCartSecret:       os.Getenv("THRIVECART_SECRET"),
		AutoProvisionOnPayment: getBool("THRIVECART_AUTO_PROVISION", true),
		AutoProvisionOnTopUp:   getBool("TOPUP_AUTO_PROVISION", false),
		ChatWebhookURL:         strings.TrimSpace(os.Getenv("N8N_CHAT_WEBHOOK_URL")),
		ImageWebhookURL:        strings.TrimSpace(os.Getenv("N8N_IMAGE_WEBHOOK_URL")),
		ChatTimeout:            time.Second * time.Duration(getInt("CHAT_TIMEOUT_SECONDS", 30)),
		ImageTimeout:           time.Second * time.Duration(getInt("IMAGE_TIMEOUT_SECONDS", 180)),
		ChatDebitEnabled:       getBool("CHAT_DEBIT_ENABLED", false),
		PricingFile:            os.Getenv("PRICING_FILE"),
		TrialCreditsPerMonth:   getDecimal("TRIAL_CREDITS_PER_MONTH", decimal.NewFromInt(10000)),
		RateLimitPerMinute:     getInt("RATE_LIMIT_PER_MINUTE", 30),
		VdoCipherAPISecret:     os.Getenv("VDOCIPHER_API_SECRET"),
		VdoCipherBaseURL:       getEnv("VDOCIPHER_BASE_URL", "https://dev.vdocipher.com"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID:    getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:        os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "generated"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	// The image mirror is optional, but a half-configured bucket is a mistake.
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// MirrorEnabled reports whether generated images are copied to object storage.
func (c Config) MirrorEnabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}

// loadEnvFile overlays the first env file found. Running without one is fine:
// containers get their configuration from the real environment.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
