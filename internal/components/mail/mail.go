// Package mail provides the send_mail Reaction, a plain SMTP deliverer
// built on wneessen/go-mail. Unlike the OAuth-backed service reactions,
// its credentials (SMTP host/user/password) are plain Area config fields
// rather than a Credential Resolver-managed token — SMTP auth has no
// refresh flow to model.
package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterReaction("send_mail", "", Schema, func() registry.Reaction { return &Reaction{} })
}

// Schema declares send_mail's config.
var Schema = validate.Schema{
	Fields: []validate.Field{
		{Name: "smtp_host", Type: validate.TypeString, Required: true},
		{Name: "smtp_port", Type: validate.TypeInt, Default: int64(587)},
		{Name: "username", Type: validate.TypeString, Required: true},
		{Name: "password", Type: validate.TypeString, Required: true},
		{Name: "from", Type: validate.TypeString, Required: true},
		{Name: "to", Type: validate.TypeString, Required: true},
		{Name: "subject", Type: validate.TypeString, Default: ""},
		{Name: "body", Type: validate.TypeString, Default: ""},
	},
}

// Reaction sends one email per invocation. "subject"/"body" params (from
// the paired Action's output) override the config defaults when present.
type Reaction struct{}

func (r *Reaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(Schema, config)
	if err != nil {
		return nil, err
	}

	subject := stringOr(params, "subject", cfg["subject"].(string))
	body := stringOr(params, "body", cfg["body"].(string))

	msg := gomail.NewMsg()
	if err := msg.From(cfg["from"].(string)); err != nil {
		return nil, fmt.Errorf("mail: set from: %w", err)
	}
	if err := msg.To(cfg["to"].(string)); err != nil {
		return nil, fmt.Errorf("mail: set to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(cfg["smtp_host"].(string),
		gomail.WithPort(int(cfg["smtp_port"].(int64))),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg["username"].(string)),
		gomail.WithPassword(cfg["password"].(string)),
	)
	if err != nil {
		return nil, fmt.Errorf("mail: build client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("mail: send: %w", err)
	}

	return map[string]any{"success": true, "to": cfg["to"]}, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
