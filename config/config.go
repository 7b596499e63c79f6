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
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSheets   = "sheets"
)

type Config struct {
	Port     string
	AppEnv   string
	AppURL   string
	LogLevel string

	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	// PriceIDs maps plan name (bronze, silver, gold) to Stripe price id.
	PriceIDs map[string]string

	StoreDriver           string
	DBURL                 string
	SheetsID              string
	GoogleCredentialsFile string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPUseSSL   bool

	AdminEmail        string
	AdminEmails       []string
	AdminPasswordHash string

	OutboundTimeout time.Duration
	EventDedupTTL   time.Duration

	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	GoogleFrontendRedirect string

	SentryDSN string
}

// Load reads .env when present, then the process environment. Missing
// required keys are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using system environment variables")
	}

	var missing []string
	mustEnv := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		AppURL:   strings.TrimRight(getEnv("APP_URL", "http://localhost:5173"), "/"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret: mustEnv("JWT_SECRET"),

		StripeSecretKey:     mustEnv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: mustEnv("STRIPE_WEBHOOK_SECRET"),
		StripeAPIURL:        getEnv("STRIPE_API_URL", ""),
		PriceIDs: map[string]string{
			"bronze": mustEnv("STRIPE_PRICE_BRONZE"),
			"silver": mustEnv("STRIPE_PRICE_SILVER"),
			"gold":   mustEnv("STRIPE_PRICE_GOLD"),
		},

		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DBURL:                 getEnv("DB_URL", ""),
		SheetsID:              getEnv("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@handytoknow.co.uk"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "HandyToKnow"),

		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		AdminEmails:       splitList(getEnv("ADMIN_EMAILS", "")),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		GoogleClientID:         getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:     getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:      getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleFrontendRedirect: getEnv("GOOGLE_FRONTEND_REDIRECT", ""),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}

	var err error
	if cfg.OutboundTimeout, err = getDuration("OUTBOUND_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.EventDedupTTL, err = getDuration("EVENT_DEDUP_TTL", 72*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.SMTPPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587")); err != nil {
		errs = append(errs, fmt.Errorf("SMTP_PORT: %w", err))
	}
	cfg.SMTPUseSSL = cfg.SMTPPort == 465

	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DBURL == "" {
			errs = append(errs, errors.New("STORE_DRIVER=postgres requires DB_URL"))
		}
	case StoreSheets:
		if cfg.SheetsID == "" || cfg.GoogleCredentialsFile == "" {
			errs = append(errs, errors.New("STORE_DRIVER=sheets requires GOOGLE_SHEETS_ID and GOOGLE_CREDENTIALS_FILE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.AdminEmail == "" && len(cfg.AdminEmails) > 0 {
		cfg.AdminEmail = cfg.AdminEmails[0]
	}
	return cfg, nil
}

// GoogleSignInEnabled reports whether admin Google sign-in is configured.
func (c *Config) GoogleSignInEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
