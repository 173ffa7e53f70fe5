// Package telegram wires the Telegram-backed component kinds: the
// new_message trigger (event-driven via long-polling GetUpdates calls), the
// new_message Action (applies the Area's Filter against the observed
// message) and the send_telegram_message reaction, built on
// go-telegram-bot-api/telegram-bot-api. A bot token never expires, so no
// Credential refresher is registered for this service — the Resolver hands
// back whatever was stored at connect time.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterTrigger("new_message", "telegram", TriggerSchema, func(areaID string) registry.Trigger {
		return &NewMessageTrigger{areaID: areaID}
	})
	registry.RegisterAction("new_message", "telegram", ActionSchema, func() registry.Action { return &NewMessageAction{} })
	registry.RegisterReaction("send_telegram_message", "telegram", ReactionSchema, func() registry.Reaction { return &SendMessageReaction{} })
}

var botsMu sync.Mutex
var bots = make(map[string]*tgbotapi.BotAPI)

func botFor(token string) (*tgbotapi.BotAPI, error) {
	botsMu.Lock()
	defer botsMu.Unlock()

	if b, ok := bots[token]; ok {
		return b, nil
	}
	b, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	bots[token] = b
	return b, nil
}

// TriggerSchema declares new_message's config.
var TriggerSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "chat_id", Type: validate.TypeInt, Required: false},
		validate.TokenSchemaField(),
	},
}

// NewMessageTrigger polls getUpdates and fires on the first message seen
// for the configured chat_id (or any chat, when chat_id is omitted).
type NewMessageTrigger struct {
	areaID string
	offset int
}

func (t *NewMessageTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(TriggerSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("telegram: missing bot token for area %s", t.areaID)
	}

	bot, err := botFor(token)
	if err != nil {
		return nil, err
	}

	u := tgbotapi.NewUpdate(t.offset)
	u.Timeout = 30

	updates, err := bot.GetUpdates(u)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}

	var wantChat int64
	if v, ok := cfg["chat_id"].(int64); ok {
		wantChat = v
	}

	for _, upd := range updates {
		if upd.UpdateID >= t.offset {
			t.offset = upd.UpdateID + 1
		}
		if upd.Message == nil {
			continue
		}
		if wantChat != 0 && upd.Message.Chat.ID != wantChat {
			continue
		}
		return &registry.TriggerResult{Data: map[string]any{
			"chat_id": upd.Message.Chat.ID,
			"text":    upd.Message.Text,
			"from":    upd.Message.From.UserName,
		}}, nil
	}

	return nil, nil
}

// ActionSchema declares the fields new_message's paired Action projects out
// of the Trigger Response it fires with.
var ActionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "chat_id", Type: validate.TypeInt, Required: true},
		{Name: "text", Type: validate.TypeString},
		{Name: "from", Type: validate.TypeString},
	},
}

// NewMessageAction gates a new_message firing against the Area's optional
// Filter before letting it reach the send_telegram_message Reaction.
type NewMessageAction struct{}

func (a *NewMessageAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
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

// ReactionSchema declares send_telegram_message's config.
var ReactionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "chat_id", Type: validate.TypeInt, Required: true},
		validate.TokenSchemaField(),
	},
}

// SendMessageReaction sends a text message to a chat.
type SendMessageReaction struct{}

func (r *SendMessageReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(ReactionSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("telegram: missing bot token")
	}

	bot, err := botFor(token)
	if err != nil {
		return nil, err
	}

	text, _ := params["text"].(string)
	if text == "" {
		text, _ = params["content"].(string)
	}

	msg := tgbotapi.NewMessage(cfg["chat_id"].(int64), text)
	sent, err := bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("telegram: send message: %w", err)
	}
	return map[string]any{"success": true, "message_id": sent.MessageID}, nil
}
