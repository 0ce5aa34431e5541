package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values come from the environment (after .env), then an optional config.yaml.
type Config struct {
	Port               string   `mapstructure:"PORT"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	AppEnv             string   `mapstructure:"APP_ENV"`
	BaseURL            string   `mapstructure:"BASE_URL"`
	GoogleClientID     string   `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string   `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string   `mapstructure:"GOOGLE_REDIRECT_URL"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	FrontendURL        string   `mapstructure:"FRONTEND_URL"`
	AllowedEmails      []string `mapstructure:"ALLOWED_EMAILS"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	Timezone string `mapstructure:"TIMEZONE"`

	// Redirect pipeline
	ResolveTimeout     time.Duration `mapstructure:"RESOLVE_TIMEOUT"`
	RecordTimeout      time.Duration `mapstructure:"RECORD_TIMEOUT"`
	RecordQueueSize    int           `mapstructure:"RECORD_QUEUE_SIZE"`
	RecordWorkers      int           `mapstructure:"RECORD_WORKERS"`
	RedirectGraceDelay time.Duration `mapstructure:"REDIRECT_GRACE_DELAY"`

	// Dashboard
	DashboardCacheTTL     time.Duration `mapstructure:"DASHBOARD_CACHE_TTL"`
	DashboardCacheSize    int           `mapstructure:"DASHBOARD_CACHE_SIZE"`
	DashboardLinkLimit    int           `mapstructure:"DASHBOARD_LINK_LIMIT"`
	DashboardDemoFallback bool          `mapstructure:"DASHBOARD_DEMO_FALLBACK"`
}

var defaults = map[string]interface{}{
	"PORT":                    "8080",
	"DATABASE_URL":            "file:db.sqlite",
	"APP_ENV":                 "local",
	"BASE_URL":                "http://localhost:8080",
	"GOOGLE_CLIENT_ID":        "",
	"GOOGLE_CLIENT_SECRET":    "",
	"GOOGLE_REDIRECT_URL":     "http://localhost:8080/auth/google/callback",
	"JWT_SECRET":              "secret",
	"FRONTEND_URL":            "http://localhost:8080/dashboard",
	"ALLOWED_EMAILS":          []string{},
	"CORS_ORIGINS":            []string{"http://localhost:3000", "http://localhost:8080"},
	"LOG_LEVEL":               "info",
	"TIMEZONE":                "Local",
	"RESOLVE_TIMEOUT":         "10s",
	"RECORD_TIMEOUT":          "5s",
	"RECORD_QUEUE_SIZE":       1024,
	"RECORD_WORKERS":          4,
	"REDIRECT_GRACE_DELAY":    "1200ms",
	"DASHBOARD_CACHE_TTL":     "5m",
	"DASHBOARD_CACHE_SIZE":    1024,
	"DASHBOARD_LINK_LIMIT":    10,
	"DASHBOARD_DEMO_FALLBACK": true,
}

// Load reads .env, the environment and an optional config.yaml in path.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.AllowedEmails = cleanList(cfg.AllowedEmails, strings.ToLower)
	cfg.CORSOrigins = cleanList(cfg.CORSOrigins, nil)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.RecordQueueSize < 0 || c.RecordWorkers < 0 || c.DashboardCacheSize < 0 || c.DashboardLinkLimit < 0 {
		return errors.New("queue, worker, cache and link limit sizes must not be negative")
	}
	return nil
}

// IsLocal reports whether the app runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}

// Location is the time zone dashboard days are bucketed in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// NewLogger builds the process logger: JSON outside local runs.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if c.IsLocal() {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// EmailAllowed reports whether email may sign in. An empty allow list admits everyone.
func (c *Config) EmailAllowed(email string) bool {
	if len(c.AllowedEmails) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, allowed := range c.AllowedEmails {
		if allowed == email {
			return true
		}
	}
	return false
}

func cleanList(items []string, normalize func(string) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		// Env values arrive as one comma separated string.
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if normalize != nil {
				part = normalize(part)
			}
			out = append(out, part)
		}
	}
	return out
}
