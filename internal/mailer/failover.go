package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FailoverProvider tries providers in order until one accepts the message.
// A permanent rejection stops the chain.
type FailoverProvider struct {
	providers  []Provider
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Entry
}

// FailoverConfig configures the failover behavior
type FailoverConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// NewFailoverProvider creates a failover provider. The first provider is primary.
func NewFailoverProvider(providers []Provider, cfg FailoverConfig, logger *logrus.Logger) *FailoverProvider {
	valid := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			valid = append(valid, p)
		}
	}
	return &FailoverProvider{
		providers:  valid,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.WithField("component", "mail_failover"),
	}
}

// Send sends a message with automatic failover
func (f *FailoverProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	if len(f.providers) == 0 {
		err := errors.New("no email providers configured")
		return &SendResult{ProviderName: f.GetName(), Success: false, Error: err}, err
	}

	var allErrors []string
	var lastErr error

	for i, provider := range f.providers {
		name := provider.GetName()
		for attempt := 0; attempt <= f.maxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return &SendResult{ProviderName: f.GetName(), Success: false, Error: err}, err
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return &SendResult{ProviderName: f.GetName(), Success: false, Error: ctx.Err()}, ctx.Err()
				case <-time.After(f.retryDelay):
				}
			}

			result, err := provider.Send(ctx, message)
			if err == nil && result != nil && result.Success {
				if result.ProviderData == nil {
					result.ProviderData = make(map[string]interface{})
				}
				result.ProviderData["failover_attempts"] = i + 1
				return result, nil
			}
			if err == nil {
				err = fmt.Errorf("%s returned failure without error", name)
			}
			lastErr = err
			allErrors = append(allErrors, fmt.Sprintf("%s: %v", name, err))

			if IsRejected(err) {
				f.logger.WithError(err).WithField("provider", name).Warn("Message rejected, not failing over")
				return &SendResult{ProviderName: name, Success: false, Error: err}, err
			}
			f.logger.WithError(err).WithFields(logrus.Fields{
				"provider": name,
				"attempt":  attempt + 1,
			}).Warn("Email provider failed")
		}
	}

	finalErr := fmt.Errorf("all email providers failed: %s: %w", strings.Join(allErrors, "; "), lastErr)
	return &SendResult{ProviderName: f.GetName(), Success: false, Error: finalErr}, finalErr
}

func (f *FailoverProvider) GetName() string {
	return "Failover"
}
