// Package microsoft wires the Outlook-backed component kinds over the
// Microsoft Graph API: the outlook_receive Trigger, the outlook_receive
// Action (applies the Area's Filter against the fetched message) and the
// outlook_send_mail Reaction, all through internal/components/rest using
// the OAuth2 access token the Credential Resolver injects. The reaction is
// named outlook_send_mail, not send_mail, to avoid colliding with the
// generic SMTP internal/components/mail reaction.
package microsoft

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	msoauth "golang.org/x/oauth2/microsoft"

	"github.com/rakunlabs/area-core/internal/components/rest"
	"github.com/rakunlabs/area-core/internal/credential"
	msfilter "github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

const apiBase = "https://graph.microsoft.com/v1.0"

func init() {
	registry.RegisterTrigger("outlook_receive", "microsoft", TriggerSchema, func(areaID string) registry.Trigger {
		return &ReceiveTrigger{areaID: areaID, since: time.Now()}
	})
	registry.RegisterAction("outlook_receive", "microsoft", ActionSchema, func() registry.Action { return &ReceiveAction{} })
	registry.RegisterReaction("outlook_send_mail", "microsoft", ReactionSchema, func() registry.Reaction { return &SendReaction{} })
}

// Refresher builds the RefresherFactory the composition root registers
// under the "microsoft" service name, shared by both the outlook_receive
// Trigger and the outlook_send_mail Reaction, using the Azure AD v2 common
// tenant endpoint.
func Refresher(clientID, clientSecret string) credential.RefresherFactory {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     msoauth.AzureADEndpoint("common"),
	}
	return func(ctx context.Context, refreshToken string) oauth2.TokenSource {
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	}
}

// TriggerSchema declares outlook_receive's config.
var TriggerSchema = validate.Schema{
	Fields: []validate.Field{
		validate.TokenSchemaField(),
	},
}

type messagesResponse struct {
	Value []struct {
		ID               string `json:"id"`
		Subject          string `json:"subject"`
		BodyPreview      string `json:"bodyPreview"`
		ReceivedDateTime string `json:"receivedDateTime"`
		From             struct {
			EmailAddress struct {
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"from"`
	} `json:"value"`
}

// ReceiveTrigger fires on the newest message received since the last tick.
type ReceiveTrigger struct {
	areaID string
	since  time.Time
}

func (t *ReceiveTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(TriggerSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("microsoft: missing access token for area %s", t.areaID)
	}

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf("receivedDateTime ge %s", t.since.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("/me/messages?$filter=%s&$top=1&$orderby=receivedDateTime desc", filter)

	var resp messagesResponse
	if _, err := client.Do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("microsoft: list messages: %w", err)
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}

	t.since = time.Now()
	msg := resp.Value[0]
	return &registry.TriggerResult{Data: map[string]any{
		"message_id": msg.ID,
		"subject":    msg.Subject,
		"snippet":    msg.BodyPreview,
		"sender":     msg.From.EmailAddress.Address,
	}}, nil
}

// ActionSchema declares the fields outlook_receive's paired Action projects
// out of the Trigger Response it fires with.
var ActionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "message_id", Type: validate.TypeString, Required: true},
		{Name: "sender", Type: validate.TypeString},
		{Name: "subject", Type: validate.TypeString},
		{Name: "snippet", Type: validate.TypeString},
	},
}

// ReceiveAction gates an outlook_receive firing against the Area's
// optional Filter before letting it reach the outlook_send_mail Reaction.
type ReceiveAction struct{}

func (a *ReceiveAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	f, err := msfilter.FromConfig(config["filter"])
	if err != nil {
		return nil, err
	}
	matched, err := msfilter.Evaluate(f, params)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}
	return params, nil
}

// ReactionSchema declares outlook_send_mail's config.
var ReactionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "to", Type: validate.TypeString, Required: true},
		{Name: "subject", Type: validate.TypeString, Default: ""},
		{Name: "body", Type: validate.TypeString, Default: ""},
		validate.TokenSchemaField(),
	},
}

// SendReaction sends an email through the Graph API's sendMail action.
type SendReaction struct{}

func (r *SendReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(ReactionSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("microsoft: missing access token")
	}

	subject := stringOr(params, "subject", cfg["subject"].(string))
	body := stringOr(params, "body", cfg["body"].(string))

	reqBody := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]any{
				"contentType": "Text",
				"content":     body,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]any{"address": cfg["to"].(string)}},
			},
		},
	}

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}
	if _, err := client.Do(ctx, "POST", "/me/sendMail", reqBody, nil); err != nil {
		return nil, fmt.Errorf("microsoft: send mail: %w", err)
	}

	return map[string]any{"success": true}, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
