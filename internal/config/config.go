package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/security"
)

// Environments accepted in ENVIRONMENT.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// DefaultPath is where the optional YAML config is looked up.
const DefaultPath = "config/config.yaml"

// Config holds all configuration for the application
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Security    SecurityConfig  `yaml:"security"`
	Waitlist    WaitlistConfig  `yaml:"waitlist"`
	Email       EmailConfig     `yaml:"email"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Log         LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	Host                   string   `yaml:"host"`
	BaseURL                string   `yaml:"base_url"`
	TrustedProxyHeader     string   `yaml:"trusted_proxy_header"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// SecurityConfig holds the waitlist secrets. Never log these.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	HashPepper    string `yaml:"hash_pepper"`
	AdminKey      string `yaml:"admin_key"`

	// EphemeralKey is set when a development key was generated at startup.
	EphemeralKey bool `yaml:"-"`
}

// WaitlistConfig holds lifecycle settings.
type WaitlistConfig struct {
	ProductName           string `yaml:"product_name"`
	LaunchURL             string `yaml:"launch_url"`
	VerificationTTLHours  int    `yaml:"verification_ttl_hours"`
	WelcomeTimeoutSeconds int    `yaml:"welcome_timeout_seconds"`
	LaunchBatchSize       int    `yaml:"launch_batch_size"`
	DebugResend           bool   `yaml:"debug_resend"`
}

// VerificationTTL returns how long a verification token stays fresh.
func (c WaitlistConfig) VerificationTTL() time.Duration {
	return time.Duration(c.VerificationTTLHours) * time.Hour
}

// WelcomeTimeout bounds the detached welcome send.
func (c WaitlistConfig) WelcomeTimeout() time.Duration {
	return time.Duration(c.WelcomeTimeoutSeconds) * time.Second
}

// EmailConfig selects and configures the delivery backend.
type EmailConfig struct {
	Provider  string          `yaml:"provider"`
	From      string          `yaml:"from"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	SES       SESConfig       `yaml:"ses"`
	SMTP      SMTPConfig      `yaml:"smtp"`

	// Environment mirrors Config.Environment for the sender factory.
	Environment string `yaml:"-"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SendGridConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey         string `yaml:"api_key"`
	Domain         string `yaml:"domain"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SMTPConfig holds relay settings for the SMTP backend.
type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds the Redis connection used for rate limiting and locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BudgetConfig is one rate-limit category budget.
type BudgetConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the budget window as a duration.
func (b BudgetConfig) Window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// RateLimitConfig holds per-category budgets. Zero values keep defaults.
type RateLimitConfig struct {
	EmailVerification BudgetConfig `yaml:"email_verification"`
	Signup            BudgetConfig `yaml:"signup"`
	General           BudgetConfig `yaml:"general"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// IsDevelopment reports whether ENVIRONMENT is development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Load reads and parses the configuration file. A missing file is not an
// error; defaults are applied either way.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvProduction
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 15
	}
	if cfg.Waitlist.ProductName == "" {
		cfg.Waitlist.ProductName = "Ignite"
	}
	if cfg.Waitlist.VerificationTTLHours == 0 {
		cfg.Waitlist.VerificationTTLHours = 24
	}
	if cfg.Waitlist.WelcomeTimeoutSeconds == 0 {
		cfg.Waitlist.WelcomeTimeoutSeconds = 30
	}
	if cfg.Waitlist.LaunchBatchSize == 0 {
		cfg.Waitlist.LaunchBatchSize = 100
	}
	if cfg.Email.From == "" {
		cfg.Email.From = "waitlist@localhost"
	}
	if cfg.Email.SparkPost.BaseURL == "" {
		cfg.Email.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Email.SparkPost.TimeoutSeconds == 0 {
		cfg.Email.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Email.SendGrid.BaseURL == "" {
		cfg.Email.SendGrid.BaseURL = "https://api.sendgrid.com/v3"
	}
	if cfg.Email.SendGrid.TimeoutSeconds == 0 {
		cfg.Email.SendGrid.TimeoutSeconds = 30
	}
	if cfg.Email.Mailgun.BaseURL == "" {
		cfg.Email.Mailgun.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Email.Mailgun.TimeoutSeconds == 0 {
		cfg.Email.Mailgun.TimeoutSeconds = 30
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-east-1"
	}
	if cfg.Email.SMTP.Port == 0 {
		cfg.Email.SMTP.Port = 587
	}
	if cfg.Email.SMTP.TimeoutSeconds == 0 {
		cfg.Email.SMTP.TimeoutSeconds = 30
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	cfg.Email.Environment = cfg.Environment
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	setString(&cfg.Environment, "ENVIRONMENT")
	cfg.Environment = strings.ToLower(cfg.Environment)

	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.BaseURL, "WAITLIST_BASE_URL")
	setString(&cfg.Server.TrustedProxyHeader, "TRUSTED_PROXY_HEADER")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Security.EncryptionKey, "WAITLIST_ENCRYPTION_KEY")
	setString(&cfg.Security.HashPepper, "WAITLIST_HASH_PEPPER")
	setString(&cfg.Security.AdminKey, "WAITLIST_ADMIN_KEY")

	setString(&cfg.Waitlist.ProductName, "WAITLIST_PRODUCT_NAME")
	setString(&cfg.Waitlist.LaunchURL, "WAITLIST_LAUNCH_URL")
	setInt(&cfg.Waitlist.VerificationTTLHours, "WAITLIST_VERIFICATION_TTL_HOURS")
	setBool(&cfg.Waitlist.DebugResend, "WAITLIST_DEBUG_RESEND")

	setString(&cfg.Email.Provider, "EMAIL_PROVIDER")
	cfg.Email.Provider = strings.ToLower(cfg.Email.Provider)
	setString(&cfg.Email.From, "EMAIL_FROM")
	setString(&cfg.Email.SparkPost.APIKey, "SPARKPOST_API_KEY")
	setString(&cfg.Email.SparkPost.BaseURL, "SPARKPOST_BASE_URL")
	setString(&cfg.Email.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&cfg.Email.Mailgun.APIKey, "MAILGUN_API_KEY")
	setString(&cfg.Email.Mailgun.Domain, "MAILGUN_DOMAIN")
	setString(&cfg.Email.Mailgun.BaseURL, "MAILGUN_BASE_URL")
	setString(&cfg.Email.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Email.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Email.SES.Region, "AWS_SES_REGION")
	setString(&cfg.Email.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.Email.SMTP.Port, "SMTP_PORT")
	setString(&cfg.Email.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.Email.SMTP.Password, "SMTP_PASSWORD")

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	cfg.Email.Environment = cfg.Environment
	return cfg, nil
}

// Validate checks the loaded configuration. Outside development a missing
// encryption key is fatal; in development an ephemeral key is generated and
// a warning logged, so data written in that session cannot be read after a
// restart.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("config: unknown ENVIRONMENT %q", c.Environment)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return errors.New("config: base URL is required")
	}

	if strings.TrimSpace(c.Security.EncryptionKey) == "" {
		if !c.IsDevelopment() {
			return errors.New("config: WAITLIST_ENCRYPTION_KEY is required outside development")
		}
		c.Security.EncryptionKey = security.GenerateKey()
		c.Security.EphemeralKey = true
		logger.Warn("no encryption key configured; generated an ephemeral development key",
			"environment", c.Environment)
	}

	switch c.Email.Provider {
	case "", "sparkpost", "sendgrid", "mailgun", "ses", "smtp":
	case "log":
		if !c.IsDevelopment() {
			return errors.New("config: EMAIL_PROVIDER=log is only allowed in development")
		}
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}

	if c.Database.URL == "" && !c.IsDevelopment() {
		return errors.New("config: DATABASE_URL is required outside development")
	}
	if c.Waitlist.DebugResend && !c.IsDevelopment() {
		logger.Warn("WAITLIST_DEBUG_RESEND ignored outside development", "environment", c.Environment)
		c.Waitlist.DebugResend = false
	}

	c.Email.Environment = c.Environment
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
