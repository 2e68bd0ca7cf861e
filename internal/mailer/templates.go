package mailer

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// InvitationEmail is the data for an invitation message
type InvitationEmail struct {
	To           string
	InviteeName  string
	JobTitle     string
	Role         string
	BusinessID   string
	BusinessName string
	Link         string
	ExpiresAt    time.Time
}

// MagicLinkEmail is the data for a sign-in link message
type MagicLinkEmail struct {
	To        string
	Link      string
	ExpiresIn time.Duration
}

var funcs = map[string]interface{}{
	"roleLabel": func(role string) string {
		return strings.ReplaceAll(role, "_", " ")
	},
	"date": func(t time.Time) string {
		return t.UTC().Format("January 2, 2006")
	},
	"minutes": func(d time.Duration) int {
		return int(d.Minutes())
	},
}

var invitationText = texttemplate.Must(texttemplate.New("invitation").Funcs(funcs).Parse(
	`Hi {{.InviteeName}},

You have been invited to join {{.BusinessName}} on the client portal as {{roleLabel .Role}}{{if .JobTitle}} ({{.JobTitle}}){{end}}.

Accept the invitation: {{.Link}}

This invitation expires on {{date .ExpiresAt}}.
`))

var invitationHTML = htmltemplate.Must(htmltemplate.New("invitation").Funcs(funcs).Parse(
	`<p>Hi {{.InviteeName}},</p>
<p>You have been invited to join <strong>{{.BusinessName}}</strong> on the client portal as {{roleLabel .Role}}{{if .JobTitle}} ({{.JobTitle}}){{end}}.</p>
<p><a href="{{.Link}}">Accept the invitation</a></p>
<p>This invitation expires on {{date .ExpiresAt}}.</p>
`))

var magicLinkText = texttemplate.Must(texttemplate.New("magic_link").Funcs(funcs).Parse(
	`Use this link to sign in to the client portal:

{{.Link}}

The link can be used once and expires in {{minutes .ExpiresIn}} minutes. If you did not request it, you can ignore this message.
`))

var magicLinkHTML = htmltemplate.Must(htmltemplate.New("magic_link").Funcs(funcs).Parse(
	`<p><a href="{{.Link}}">Sign in to the client portal</a></p>
<p>The link can be used once and expires in {{minutes .ExpiresIn}} minutes. If you did not request it, you can ignore this message.</p>
`))

func render(text *texttemplate.Template, html *htmltemplate.Template, data interface{}) (string, string, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	return textBuf.String(), htmlBuf.String(), nil
}

// InvitationMessage renders the invitation e-mail
func InvitationMessage(data InvitationEmail) (*Message, error) {
	text, html, err := render(invitationText, invitationHTML, data)
	if err != nil {
		return nil, err
	}
	return &Message{
		To:       data.To,
		ToName:   data.InviteeName,
		Subject:  "You're invited to join " + data.BusinessName,
		Body:     text,
		BodyHTML: html,
	}, nil
}

// MagicLinkMessage renders the sign-in link e-mail
func MagicLinkMessage(data MagicLinkEmail) (*Message, error) {
	text, html, err := render(magicLinkText, magicLinkHTML, data)
	if err != nil {
		return nil, err
	}
	return &Message{
		To:       data.To,
		Subject:  "Your sign-in link",
		Body:     text,
		BodyHTML: html,
	}, nil
}
