package mailer

import (
	"context"
	"fmt"

	"client-portal/internal/config"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridProvider implements email sending via SendGrid
type SendGridProvider struct {
	from     string
	fromName string
	client   *sendgrid.Client
}

// NewSendGridProvider creates a new SendGrid email provider
func NewSendGridProvider(cfg config.EmailConfig) *SendGridProvider {
	return &SendGridProvider{
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
	}
}

// Send sends an email via SendGrid
func (p *SendGridProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	from := mail.NewEmail(p.fromName, p.from)
	if message.From != "" {
		from = mail.NewEmail(message.FromName, message.From)
	}
	to := mail.NewEmail(message.ToName, message.To)

	m := mail.NewSingleEmail(from, message.Subject, to, message.Body, message.BodyHTML)

	// Tracking rewrites links, which would break one-time callback URLs
	trackingSettings := mail.NewTrackingSettings()
	clickTracking := mail.NewClickTrackingSetting()
	clickTracking.SetEnable(false)
	clickTracking.SetEnableText(false)
	trackingSettings.SetClickTracking(clickTracking)
	openTracking := mail.NewOpenTrackingSetting()
	openTracking.SetEnable(false)
	trackingSettings.SetOpenTracking(openTracking)
	m.SetTrackingSettings(trackingSettings)

	response, err := p.client.SendWithContext(ctx, m)
	if err != nil {
		return &SendResult{ProviderName: p.GetName(), Success: false, Error: err}, err
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		var messageID string
		if ids, ok := response.Headers["X-Message-Id"]; ok && len(ids) > 0 {
			messageID = ids[0]
		}
		return &SendResult{
			ProviderID:   messageID,
			ProviderName: p.GetName(),
			Success:      true,
			ProviderData: map[string]interface{}{
				"status_code": response.StatusCode,
				"to":          message.To,
			},
		}, nil
	}

	var sendErr error
	// 429 and 5xx are worth another provider; other 4xx are permanent
	if response.StatusCode >= 400 && response.StatusCode < 500 && response.StatusCode != 429 {
		sendErr = &RejectedError{Provider: p.GetName(), StatusCode: response.StatusCode, Reason: response.Body}
	} else {
		sendErr = fmt.Errorf("SendGrid API error: %d", response.StatusCode)
	}
	return &SendResult{ProviderName: p.GetName(), Success: false, Error: sendErr}, sendErr
}

// GetName returns the provider name
func (p *SendGridProvider) GetName() string {
	return "SendGrid"
}
