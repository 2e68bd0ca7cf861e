package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// FailureKind classifies a failed dispatch
type FailureKind string

const (
	// KindRejected means the message was refused and will not be accepted on retry
	KindRejected FailureKind = "rejected"
	// KindTransport means the providers could not be reached or failed
	KindTransport FailureKind = "transport"
	// KindUnavailable means dispatch is suspended after repeated transport failures
	KindUnavailable FailureKind = "unavailable"
)

// DispatchError reports a failed send with its classification
type DispatchError struct {
	Kind FailureKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("message dispatch failed (%s): %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher renders portal e-mails and sends them through a circuit breaker
type Dispatcher struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	logger   *logrus.Entry
}

// NewDispatcher wraps provider. Rejections do not count against the breaker.
func NewDispatcher(provider Provider, logger *logrus.Logger) *Dispatcher {
	log := logger.WithField("component", "mail_dispatcher")
	settings := gobreaker.Settings{
		Name:        "mail-dispatch",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Info("Circuit breaker state changed")
		},
	}
	return &Dispatcher{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		logger:   log,
	}
}

// State returns the breaker state name
func (d *Dispatcher) State() string {
	return d.breaker.State().String()
}

// SendInvitation renders and sends an invitation
func (d *Dispatcher) SendInvitation(ctx context.Context, data InvitationEmail) error {
	msg, err := InvitationMessage(data)
	if err != nil {
		return fmt.Errorf("failed to render invitation: %w", err)
	}
	return d.send(ctx, msg)
}

// SendMagicLink renders and sends a sign-in link
func (d *Dispatcher) SendMagicLink(ctx context.Context, data MagicLinkEmail) error {
	msg, err := MagicLinkMessage(data)
	if err != nil {
		return fmt.Errorf("failed to render sign-in link: %w", err)
	}
	return d.send(ctx, msg)
}

func (d *Dispatcher) send(ctx context.Context, msg *Message) error {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return d.provider.Send(ctx, msg)
	})
	if err == nil {
		return nil
	}

	kind := KindTransport
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		kind = KindUnavailable
	case IsRejected(err):
		kind = KindRejected
	}
	d.logger.WithError(err).WithFields(logrus.Fields{
		"kind":    kind,
		"subject": msg.Subject,
	}).Warn("Message dispatch failed")
	return &DispatchError{Kind: kind, Err: err}
}
