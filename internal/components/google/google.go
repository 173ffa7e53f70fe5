// Package google wires the Gmail-backed component kinds: the gmail_receive
// Trigger (polls the Gmail API for messages newer than the last check), the
// gmail_receive Action (applies the Area's Filter against the fetched
// message) and the send_email Reaction, all over internal/components/rest
// using the OAuth2 access token the Credential Resolver injects as
// config["token"]. Refresher registers the oauth2 refresh flow the Resolver
// uses once an access token expires.
package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/rakunlabs/area-core/internal/components/rest"
	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

const apiBase = "https://gmail.googleapis.com/gmail/v1"

func init() {
	registry.RegisterTrigger("gmail_receive", "google", TriggerSchema, func(areaID string) registry.Trigger {
		return &ReceiveTrigger{areaID: areaID, since: time.Now()}
	})
	registry.RegisterAction("gmail_receive", "google", ActionSchema, func() registry.Action { return &ReceiveAction{} })
	registry.RegisterReaction("send_email", "google", ReactionSchema, func() registry.Reaction { return &SendReaction{} })
}

// Refresher builds the RefresherFactory the composition root registers with
// internal/credential's Resolver under the "google" service name, shared by
// both the gmail_receive Trigger and the send_email Reaction, using the
// standard Google OAuth2 token endpoint.
func Refresher(clientID, clientSecret string) credential.RefresherFactory {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
	}
	return func(ctx context.Context, refreshToken string) oauth2.TokenSource {
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	}
}

// TriggerSchema declares gmail_receive's config.
var TriggerSchema = validate.Schema{
	Fields: []validate.Field{
		validate.TokenSchemaField(),
	},
}

// ReceiveTrigger fires on the newest message received since the last tick.
type ReceiveTrigger struct {
	areaID string

	mu    sync.Mutex
	since time.Time
}

type listMessagesResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type messageResponse struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (t *ReceiveTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(TriggerSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("google: missing access token for area %s", t.areaID)
	}

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	since := t.since
	t.mu.Unlock()

	query := fmt.Sprintf("after:%d", since.Unix())
	var list listMessagesResponse
	path := fmt.Sprintf("/users/me/messages?q=%s", query)
	if _, err := client.Do(ctx, "GET", path, nil, &list); err != nil {
		return nil, fmt.Errorf("google: list messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	var msg messageResponse
	msgPath := fmt.Sprintf("/users/me/messages/%s", list.Messages[0].ID)
	if _, err := client.Do(ctx, "GET", msgPath, nil, &msg); err != nil {
		return nil, fmt.Errorf("google: get message: %w", err)
	}

	t.mu.Lock()
	t.since = time.Now()
	t.mu.Unlock()

	return &registry.TriggerResult{Data: map[string]any{
		"message_id": msg.ID,
		"snippet":    msg.Snippet,
		"subject":    headerValue(msg.Payload.Headers, "subject"),
		"sender":     headerValue(msg.Payload.Headers, "from"),
	}}, nil
}

func headerValue(headers []struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}, name string) string {
	for _, h := range headers {
		if equalFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ActionSchema declares the fields gmail_receive's paired Action projects
// out of the Trigger Response it fires with.
var ActionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "message_id", Type: validate.TypeString, Required: true},
		{Name: "sender", Type: validate.TypeString},
		{Name: "subject", Type: validate.TypeString},
		{Name: "snippet", Type: validate.TypeString},
	},
}

// ReceiveAction gates a gmail_receive firing against the Area's optional
// Filter before letting it reach the send_email Reaction.
type ReceiveAction struct{}

func (a *ReceiveAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	f, err := filter.FromConfig(config["filter"])
	if err != nil {
		return nil, err
	}
	matched, err := filter.Evaluate(f, params)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}
	return params, nil
}

// ReactionSchema declares send_email's config.
var ReactionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "to", Type: validate.TypeString, Required: true},
		{Name: "subject", Type: validate.TypeString, Default: ""},
		{Name: "body", Type: validate.TypeString, Default: ""},
		validate.TokenSchemaField(),
	},
}

// SendReaction sends an email through the Gmail API's messages.send
// endpoint, base64url-encoding a minimal RFC 2822 payload.
type SendReaction struct{}

func (r *SendReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(ReactionSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("google: missing access token")
	}

	subject := stringOr(params, "subject", cfg["subject"].(string))
	body := stringOr(params, "body", cfg["body"].(string))
	to := cfg["to"].(string)

	raw := encodeRaw(to, subject, body)

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}

	var out struct {
		ID string `json:"id"`
	}
	reqBody := map[string]any{"raw": raw}
	if _, err := client.Do(ctx, "POST", "/users/me/messages/send", reqBody, &out); err != nil {
		return nil, fmt.Errorf("google: send message: %w", err)
	}

	return map[string]any{"success": true, "message_id": out.ID}, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func encodeRaw(to, subject, body string) string {
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", to, subject, body)
	return base64.URLEncoding.EncodeToString([]byte(msg))
}
