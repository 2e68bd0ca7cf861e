package mailer

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogProvider writes messages to the log instead of sending them. Used in development.
type LogProvider struct {
	logger *logrus.Entry
}

func NewLogProvider(logger *logrus.Logger) *LogProvider {
	return &LogProvider{logger: logger.WithField("component", "log_mailer")}
}

func (p *LogProvider) Send(_ context.Context, message *Message) (*SendResult, error) {
	id := uuid.New().String()
	p.logger.WithFields(logrus.Fields{
		"message_id": id,
		"to":         message.To,
		"subject":    message.Subject,
	}).Info(message.Body)
	return &SendResult{ProviderID: id, ProviderName: p.GetName(), Success: true}, nil
}

func (p *LogProvider) GetName() string {
	return "Log"
}
