package email

import (
	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// NewSender picks the delivery backend. An explicit provider wins;
// otherwise the first backend with credentials in the order sparkpost,
// sendgrid, mailgun, ses, smtp. With nothing configured, development gets
// the log backend and other environments get an unconfigured SparkPost
// sender whose sends fail and whose health check reports it.
func NewSender(cfg config.EmailConfig) Sender {
	build := map[string]func() Sender{
		"sparkpost": func() Sender { return NewSparkPostSender(cfg.SparkPost) },
		"sendgrid":  func() Sender { return NewSendGridSender(cfg.SendGrid) },
		"mailgun":   func() Sender { return NewMailgunSender(cfg.Mailgun) },
		"ses":       func() Sender { return NewSESSender(cfg.SES) },
		"smtp":      func() Sender { return NewSMTPSender(cfg.SMTP) },
		"log":       func() Sender { return NewLogSender() },
	}

	if cfg.Provider != "" {
		if cfg.Provider == "log" && cfg.Environment != config.EnvDevelopment {
			logger.Warn("log email provider refused outside development", "environment", cfg.Environment)
		} else if fn, ok := build[cfg.Provider]; ok {
			s := fn()
			if !s.IsConfigured() {
				logger.Warn("selected email provider is not configured", "provider", s.Name())
			}
			return s
		} else {
			logger.Warn("unknown email provider", "provider", cfg.Provider)
		}
	}

	for _, name := range []string{"sparkpost", "sendgrid", "mailgun", "ses", "smtp"} {
		if s := build[name](); s.IsConfigured() {
			logger.Info("email provider selected", "provider", name)
			return s
		}
	}

	if cfg.Environment == config.EnvDevelopment {
		logger.Warn("no email provider configured; using log backend")
		return NewLogSender()
	}
	logger.Error("no email provider configured; sends will fail")
	return NewSparkPostSender(cfg.SparkPost)
}
