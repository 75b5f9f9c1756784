package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
environment: staging
server:
  port: 9090
  host: "0.0.0.0"
  base_url: "https://waitlist.example.com"
  trusted_proxy_header: "CF-Connecting-IP"

waitlist:
  product_name: "Nova"
  verification_ttl_hours: 48

email:
  provider: sendgrid
  from: "hello@example.com"
  sendgrid:
    api_key: "sg-test"

rate_limit:
  signup:
    limit: 3
    window_seconds: 600
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://waitlist.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "CF-Connecting-IP", cfg.Server.TrustedProxyHeader)
	assert.Equal(t, "Nova", cfg.Waitlist.ProductName)
	assert.Equal(t, 48*time.Hour, cfg.Waitlist.VerificationTTL())
	assert.Equal(t, "sendgrid", cfg.Email.Provider)
	assert.Equal(t, "sg-test", cfg.Email.SendGrid.APIKey)
	assert.Equal(t, "staging", cfg.Email.Environment)
	assert.Equal(t, 3, cfg.RateLimit.Signup.Limit)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.Signup.Window())

	// Defaults
	assert.Equal(t, "https://api.sendgrid.com/v3", cfg.Email.SendGrid.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Email.SparkPost.Timeout())
	assert.Equal(t, 587, cfg.Email.SMTP.Port)
	assert.Equal(t, "us-east-1", cfg.Email.SES.Region)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.Waitlist.VerificationTTL())
	assert.Equal(t, 100, cfg.Waitlist.LaunchBatchSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("PORT", "3000")
	t.Setenv("WAITLIST_ENCRYPTION_KEY", "passphrase")
	t.Setenv("WAITLIST_ADMIN_KEY", "admin")
	t.Setenv("WAITLIST_DEBUG_RESEND", "true")
	t.Setenv("EMAIL_PROVIDER", "Mailgun")
	t.Setenv("MAILGUN_API_KEY", "mg-key")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "passphrase", cfg.Security.EncryptionKey)
	assert.Equal(t, "admin", cfg.Security.AdminKey)
	assert.True(t, cfg.Waitlist.DebugResend)
	assert.Equal(t, "mailgun", cfg.Email.Provider)
	assert.Equal(t, "mg.example.com", cfg.Email.Mailgun.Domain)
	assert.Equal(t, 2525, cfg.Email.SMTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, EnvDevelopment, cfg.Email.Environment)
}

func validConfig(t *testing.T, env string) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Environment = env
	cfg.Database.URL = "postgres://localhost/waitlist"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		env     string
		wantErr bool
	}{
		{"production with key", func(c *Config) { c.Security.EncryptionKey = "k" }, EnvProduction, false},
		{"production without key", func(c *Config) {}, EnvProduction, true},
		{"staging without key", func(c *Config) {}, EnvStaging, true},
		{"development without key", func(c *Config) {}, EnvDevelopment, false},
		{"unknown environment", func(c *Config) { c.Security.EncryptionKey = "k" }, "qa", true},
		{"unknown provider", func(c *Config) {
			c.Security.EncryptionKey = "k"
			c.Email.Provider = "pigeon"
		}, EnvProduction, true},
		{"log provider outside development", func(c *Config) {
			c.Security.EncryptionKey = "k"
			c.Email.Provider = "log"
		}, EnvProduction, true},
		{"log provider in development", func(c *Config) { c.Email.Provider = "log" }, EnvDevelopment, false},
		{"production without database", func(c *Config) {
			c.Security.EncryptionKey = "k"
			c.Database.URL = ""
		}, EnvProduction, true},
		{"bad port", func(c *Config) {
			c.Security.EncryptionKey = "k"
			c.Server.Port = 70000
		}, EnvProduction, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t, tt.env)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_DevelopmentGeneratesEphemeralKey(t *testing.T) {
	cfg := validConfig(t, EnvDevelopment)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Security.EphemeralKey)
	assert.Len(t, cfg.Security.EncryptionKey, 64)
}

func TestValidate_DebugResendOnlyInDevelopment(t *testing.T) {
	cfg := validConfig(t, EnvProduction)
	cfg.Security.EncryptionKey = "k"
	cfg.Waitlist.DebugResend = true
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Waitlist.DebugResend)
}
