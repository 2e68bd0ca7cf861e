package mailer

import (
	"context"
	"errors"
	"fmt"

	"client-portal/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESProvider implements email sending via AWS SES
type SESProvider struct {
	client   *ses.Client
	from     string
	fromName string
}

// NewSESProvider creates a new AWS SES email provider
func NewSESProvider(ctx context.Context, cfg config.EmailConfig) (*SESProvider, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.SESRegion != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.SESRegion))
	}
	// Without explicit keys the default chain applies (env, shared config, workload identity)
	if cfg.SESAccessKeyID != "" && cfg.SESSecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKeyID, cfg.SESSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		client:   ses.NewFromConfig(awsCfg),
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
	}, nil
}

// Send sends an email via AWS SES
func (p *SESProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	source := p.from
	if p.fromName != "" {
		source = fmt.Sprintf("%s <%s>", p.fromName, p.from)
	}
	if message.From != "" {
		source = message.From
		if message.FromName != "" {
			source = fmt.Sprintf("%s <%s>", message.FromName, message.From)
		}
	}

	body := &types.Body{}
	if message.BodyHTML != "" {
		body.Html = &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.BodyHTML)}
	}
	if message.Body != "" {
		body.Text = &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.Body)}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(source),
		Destination: &types.Destination{ToAddresses: []string{message.To}},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.Subject)},
			Body:    body,
		},
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			err = &RejectedError{Provider: p.GetName(), Reason: aws.ToString(rejected.Message)}
		} else {
			err = fmt.Errorf("SES send failed: %w", err)
		}
		return &SendResult{ProviderName: p.GetName(), Success: false, Error: err}, err
	}

	return &SendResult{
		ProviderID:   aws.ToString(result.MessageId),
		ProviderName: p.GetName(),
		Success:      true,
		ProviderData: map[string]interface{}{"to": message.To},
	}, nil
}

// GetName returns the provider name
func (p *SESProvider) GetName() string {
	return "AWS SES"
}
