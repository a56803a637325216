package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"mpesa-gateway"`
		Port     int    `envconfig:"PORT" default:"3000"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	}

	Server struct {
		Timeout         time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
		AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	}

	Auth struct {
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	}

	Store struct {
		Driver string `envconfig:"STORE_DRIVER" default:"memory"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"mpesa_gateway"`
	}

	Payment struct {
		Mode              string        `envconfig:"PAYMENT_MODE" default:"demo"`
		DemoDelay         time.Duration `envconfig:"DEMO_DELAY" default:"5s"`
		ValidationProfile string        `envconfig:"VALIDATION_PROFILE" default:"generic"`
		RejectPolicy      string        `envconfig:"PUSH_REJECT_POLICY" default:"leave_pending"`
		ReferencePrefix   string        `envconfig:"REFERENCE_PREFIX" default:"PAY"`
	}

	Worker struct {
		Count int `envconfig:"WORKER_COUNT" default:"4"`
		Queue int `envconfig:"WORKER_QUEUE" default:"64"`
	}

	Mpesa struct {
		ConsumerKey      string        `envconfig:"MPESA_CONSUMER_KEY"`
		ConsumerSecret   string        `envconfig:"MPESA_CONSUMER_SECRET"`
		Shortcode        string        `envconfig:"MPESA_SHORTCODE"`
		Passkey          string        `envconfig:"MPESA_PASSKEY"`
		CallbackURL      string        `envconfig:"MPESA_CALLBACK_URL"`
		AccountReference string        `envconfig:"MPESA_ACCOUNT_REFERENCE" default:"Payment"`
		TransactionDesc  string        `envconfig:"MPESA_TRANSACTION_DESC" default:"Payment request"`
		Env              string        `envconfig:"MPESA_ENV" default:"sandbox"`
		Timeout          time.Duration `envconfig:"MPESA_TIMEOUT" default:"30s"`
	}

	Audit struct {
		Dir          string `envconfig:"AUDIT_DIR" default:"logs"`
		MockRequests bool   `envconfig:"AUDIT_MOCK_REQUESTS" default:"false"`
	}
}

// StartupConfigError lists every missing or invalid setting found at startup.
type StartupConfigError struct {
	Missing []string
	Invalid []string
}

func (e *StartupConfigError) Error() string {
	var parts []string

	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}

	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, ", "))
	}

	return strings.Join(parts, "; ")
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.App.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &StartupConfigError{Invalid: []string{err.Error()}}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	cfgErr := &StartupConfigError{}

	required := []struct {
		name  string
		value string
	}{
		{"MPESA_CONSUMER_KEY", c.Mpesa.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", c.Mpesa.ConsumerSecret},
		{"MPESA_SHORTCODE", c.Mpesa.Shortcode},
		{"MPESA_PASSKEY", c.Mpesa.Passkey},
		{"MPESA_CALLBACK_URL", c.Mpesa.CallbackURL},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			cfgErr.Missing = append(cfgErr.Missing, r.name)
		}
	}

	enums := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"STORE_DRIVER", c.Store.Driver, []string{"memory", "postgres"}},
		{"PAYMENT_MODE", c.Payment.Mode, []string{"demo", "provider"}},
		{"VALIDATION_PROFILE", c.Payment.ValidationProfile, []string{"generic", "provider"}},
		{"PUSH_REJECT_POLICY", c.Payment.RejectPolicy, []string{"leave_pending", "mark_failed"}},
		{"MPESA_ENV", c.Mpesa.Env, []string{"sandbox", "production"}},
		{"LOG_LEVEL", strings.ToLower(c.App.LogLevel), []string{"debug", "info", "warn", "error"}},
	}

	for _, e := range enums {
		if !slices.Contains(e.allowed, e.value) {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s=%q (want %s)", e.name, e.value, strings.Join(e.allowed, "|")))
		}
	}

	if c.App.Port <= 0 || c.App.Port > 65535 {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("PORT=%d", c.App.Port))
	}

	if c.Worker.Count <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("WORKER_COUNT=%d", c.Worker.Count))
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return cfgErr
	}

	return nil
}
