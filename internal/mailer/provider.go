package mailer

import (
	"context"
	"errors"
	"fmt"

	"client-portal/internal/config"

	"github.com/sirupsen/logrus"
)

// Message represents an outbound e-mail
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	BodyHTML string
	From     string
	FromName string
}

// SendResult represents the result of sending a message
type SendResult struct {
	ProviderID   string
	ProviderName string
	Success      bool
	Error        error
	ProviderData map[string]interface{}
}

// Provider sends e-mail through one backend
type Provider interface {
	Send(ctx context.Context, message *Message) (*SendResult, error)
	GetName() string
}

// RejectedError is a permanent refusal of a message (bad recipient, suppressed address,
// invalid content). Retrying or failing over will not help.
type RejectedError struct {
	Provider   string
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s rejected message (%d): %s", e.Provider, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s rejected message: %s", e.Provider, e.Reason)
}

// IsRejected reports whether err is a permanent rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// NewProviders builds the configured providers in failover order. Unknown names are skipped
// with a warning; misconfigured ones fail.
func NewProviders(cfg config.EmailConfig, logger *logrus.Logger) ([]Provider, error) {
	var providers []Provider
	for _, name := range cfg.Providers {
		switch name {
		case "sendgrid":
			if cfg.SendGridAPIKey == "" {
				return nil, errors.New("sendgrid provider requires SENDGRID_API_KEY")
			}
			providers = append(providers, NewSendGridProvider(cfg))
		case "ses":
			p, err := NewSESProvider(context.Background(), cfg)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "smtp":
			if cfg.SMTPHost == "" {
				return nil, errors.New("smtp provider requires SMTP_HOST")
			}
			providers = append(providers, NewSMTPProvider(cfg))
		case "log":
			providers = append(providers, NewLogProvider(logger))
		default:
			logger.WithField("provider", name).Warn("Unknown email provider, skipping")
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no email providers configured")
	}
	return providers, nil
}
