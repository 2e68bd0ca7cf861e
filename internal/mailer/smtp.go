package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"client-portal/internal/config"
)

// SMTPProvider implements email sending via SMTP
type SMTPProvider struct {
	host     string
	port     string
	username string
	password string
	from     string
	fromName string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPProvider creates a new SMTP email provider
func NewSMTPProvider(cfg config.EmailConfig) *SMTPProvider {
	return &SMTPProvider{
		host:     cfg.SMTPHost,
		port:     strconv.Itoa(cfg.SMTPPort),
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		sendMail: smtp.SendMail,
	}
}

// Send sends an email via SMTP. smtp.SendMail upgrades with STARTTLS when the server offers it.
func (p *SMTPProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, fromName := p.from, p.fromName
	if message.From != "" {
		from, fromName = message.From, message.FromName
	}

	raw := buildMIME(from, fromName, message)

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}
	addr := net.JoinHostPort(p.host, p.port)

	if err := p.sendMail(addr, auth, from, []string{message.To}, raw); err != nil {
		// 5xx replies are permanent
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code >= 500 {
			err = &RejectedError{Provider: p.GetName(), StatusCode: protoErr.Code, Reason: protoErr.Msg}
		}
		return &SendResult{ProviderName: p.GetName(), Success: false, Error: err}, err
	}

	return &SendResult{
		ProviderName: p.GetName(),
		Success:      true,
		ProviderData: map[string]interface{}{
			"to":      message.To,
			"subject": message.Subject,
		},
	}, nil
}

// GetName returns the provider name
func (p *SMTPProvider) GetName() string {
	return "SMTP"
}

func buildMIME(from, fromName string, message *Message) []byte {
	const boundary = "portal-alt-boundary"

	var b strings.Builder
	if fromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), from)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", message.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", message.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if message.BodyHTML == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(message.Body)
		return []byte(b.String())
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, message.Body)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, message.BodyHTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
