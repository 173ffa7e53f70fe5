// Package discord wires the Discord-backed component kinds: the
// new_message_in_channel, channel_created, channel_deleted, member_removed
// and guild_role_added Triggers (all event-driven, sharing one gateway
// session per bot token across every Area pointed at it), the
// new_message_in_channel Action, and the send_message / add_reaction /
// edit_message / delete_message Reactions, all built on bwmarrin/discordgo,
// generalized from one hardcoded bot token per deployment to a per-Area
// "token" field supplied by the Credential Resolver (a Discord bot token
// never expires, so no refresher is registered for this service).
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterTrigger("new_message_in_channel", "discord", TriggerSchema, func(areaID string) registry.Trigger {
		return &NewMessageTrigger{areaID: areaID}
	})
	registry.RegisterTrigger("channel_created", "discord", guildEventSchema, func(areaID string) registry.Trigger {
		return &ChannelCreatedTrigger{areaID: areaID}
	})
	registry.RegisterTrigger("channel_deleted", "discord", guildEventSchema, func(areaID string) registry.Trigger {
		return &ChannelDeletedTrigger{areaID: areaID}
	})
	registry.RegisterTrigger("member_removed", "discord", guildEventSchema, func(areaID string) registry.Trigger {
		return &MemberRemovedTrigger{areaID: areaID}
	})
	registry.RegisterTrigger("guild_role_added", "discord", guildEventSchema, func(areaID string) registry.Trigger {
		return &GuildRoleAddedTrigger{areaID: areaID}
	})
	registry.RegisterAction("new_message_in_channel", "discord", newMessageActionSchema, func() registry.Action {
		return &NewMessageAction{}
	})
	registry.RegisterReaction("send_message", "discord", sendMessageSchema, func() registry.Reaction { return &SendMessageReaction{} })
	registry.RegisterReaction("add_reaction", "discord", messageTargetSchema, func() registry.Reaction { return &AddReactionReaction{} })
	registry.RegisterReaction("edit_message", "discord", messageTargetSchema, func() registry.Reaction { return &EditMessageReaction{} })
	registry.RegisterReaction("delete_message", "discord", messageTargetSchema, func() registry.Reaction { return &DeleteMessageReaction{} })
}

// TriggerSchema declares the fields new_message_in_channel's config accepts.
var TriggerSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "channel_id", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// sessions caches one discordgo.Session per bot token so several Areas
// watching the same bot don't open redundant gateway connections.
var (
	sessionsMu sync.Mutex
	sessions   = make(map[string]*discordgo.Session)
)

func sessionFor(token string) (*discordgo.Session, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	if s, ok := sessions[token]; ok {
		return s, nil
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	sessions[token] = s
	return s, nil
}

// NewMessageTrigger fires once for every MESSAGE_CREATE event observed in
// its configured channel_id. Evaluate blocks until one arrives or ctx is
// canceled, the same shape a polling trigger's Evaluate returns quickly —
// the Evaluator doesn't distinguish the two.
type NewMessageTrigger struct {
	areaID string
}

func (t *NewMessageTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(TriggerSchema, config)
	if err != nil {
		return nil, err
	}
	channelID := cfg["channel_id"].(string)
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("discord: missing bot token for area %s", t.areaID)
	}

	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	type event struct {
		data map[string]any
	}
	ch := make(chan event, 1)

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.ChannelID != channelID {
			return
		}
		select {
		case ch <- event{data: map[string]any{
			"content":    m.Content,
			"channel_id": m.ChannelID,
			"author_id":  m.Author.ID,
			"message_id": m.ID,
		}}:
		default:
		}
	})
	defer remove()

	select {
	case <-ctx.Done():
		return nil, nil
	case e := <-ch:
		return &registry.TriggerResult{Data: e.data}, nil
	}
}

// guildEventSchema is shared by every trigger that watches guild-level
// gateway events (as opposed to a single channel's messages).
var guildEventSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "guild_id", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// waitForGuildEvent opens (or reuses) a session for token, registers
// handler for the duration of one call, and blocks until it fires for
// guildID or ctx is canceled. handler must send on ch exactly once per
// matching event and otherwise return immediately.
func waitForGuildEvent(ctx context.Context, token string, register func(s *discordgo.Session, ch chan map[string]any) func()) (*registry.TriggerResult, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: missing bot token")
	}
	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	ch := make(chan map[string]any, 1)
	remove := register(session, ch)
	defer remove()

	select {
	case <-ctx.Done():
		return nil, nil
	case data := <-ch:
		return &registry.TriggerResult{Data: data}, nil
	}
}

// ChannelCreatedTrigger fires once per CHANNEL_CREATE event observed in its
// configured guild_id.
type ChannelCreatedTrigger struct {
	areaID string
}

func (t *ChannelCreatedTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(guildEventSchema, config)
	if err != nil {
		return nil, err
	}
	guildID := cfg["guild_id"].(string)
	token, _ := cfg["token"].(string)

	return waitForGuildEvent(ctx, token, func(s *discordgo.Session, ch chan map[string]any) func() {
		return s.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelCreate) {
			if e.GuildID != guildID {
				return
			}
			select {
			case ch <- map[string]any{"channel_id": e.ID, "guild_id": e.GuildID, "name": e.Name}:
			default:
			}
		})
	})
}

// ChannelDeletedTrigger fires once per CHANNEL_DELETE event observed in its
// configured guild_id.
type ChannelDeletedTrigger struct {
	areaID string
}

func (t *ChannelDeletedTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(guildEventSchema, config)
	if err != nil {
		return nil, err
	}
	guildID := cfg["guild_id"].(string)
	token, _ := cfg["token"].(string)

	return waitForGuildEvent(ctx, token, func(s *discordgo.Session, ch chan map[string]any) func() {
		return s.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelDelete) {
			if e.GuildID != guildID {
				return
			}
			select {
			case ch <- map[string]any{"channel_id": e.ID, "guild_id": e.GuildID, "name": e.Name}:
			default:
			}
		})
	})
}

// MemberRemovedTrigger fires once per GUILD_MEMBER_REMOVE event observed in
// its configured guild_id (a member leaving or being kicked/banned).
type MemberRemovedTrigger struct {
	areaID string
}

func (t *MemberRemovedTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(guildEventSchema, config)
	if err != nil {
		return nil, err
	}
	guildID := cfg["guild_id"].(string)
	token, _ := cfg["token"].(string)

	return waitForGuildEvent(ctx, token, func(s *discordgo.Session, ch chan map[string]any) func() {
		return s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
			if e.GuildID != guildID {
				return
			}
			select {
			case ch <- map[string]any{"guild_id": e.GuildID, "user_id": e.User.ID}:
			default:
			}
		})
	})
}

// GuildRoleAddedTrigger fires once per GUILD_ROLE_CREATE event observed in
// its configured guild_id.
type GuildRoleAddedTrigger struct {
	areaID string
}

func (t *GuildRoleAddedTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(guildEventSchema, config)
	if err != nil {
		return nil, err
	}
	guildID := cfg["guild_id"].(string)
	token, _ := cfg["token"].(string)

	return waitForGuildEvent(ctx, token, func(s *discordgo.Session, ch chan map[string]any) func() {
		return s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildRoleCreate) {
			if e.GuildID != guildID {
				return
			}
			select {
			case ch <- map[string]any{"guild_id": e.GuildID, "role_id": e.Role.ID, "role_name": e.Role.Name}:
			default:
			}
		})
	})
}

// newMessageActionSchema declares the fields new_message_in_channel's
// paired Action projects out of the Trigger Response it fires with.
var newMessageActionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "content", Type: validate.TypeString, Required: true},
		{Name: "channel_id", Type: validate.TypeString, Required: true},
		{Name: "author_id", Type: validate.TypeString},
	},
}

// NewMessageAction processes a new_message_in_channel firing: it applies
// the Area's optional Filter against the projected message fields and, if
// the message survives, passes them through to the paired Reaction.
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

// sendMessageSchema is the config schema of the send_message Reaction.
var sendMessageSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "channel_id", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// SendMessageReaction posts a text message to a channel. The message body
// comes from the Action's output ("content") when present, falling back to
// an undeclared "message" field read from the Reaction's own config.
type SendMessageReaction struct{}

func (r *SendMessageReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(sendMessageSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("discord: missing bot token")
	}
	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	content := stringParam(params, "content")
	if content == "" {
		content = stringParam(config, "message")
	}

	msg, err := session.ChannelMessageSend(cfg["channel_id"].(string), content)
	if err != nil {
		return nil, fmt.Errorf("discord: send message: %w", err)
	}
	return map[string]any{"success": true, "message_id": msg.ID}, nil
}

var messageTargetSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "channel_id", Type: validate.TypeString, Required: true},
		{Name: "message_id", Type: validate.TypeString, Required: false},
		{Name: "emoji", Type: validate.TypeString, Required: false},
		validate.TokenSchemaField(),
	},
}

// AddReactionReaction adds an emoji reaction to a message.
type AddReactionReaction struct{}

func (r *AddReactionReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(messageTargetSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	messageID := resolveMessageID(params, cfg)
	emoji, _ := cfg["emoji"].(string)
	if err := session.MessageReactionAdd(cfg["channel_id"].(string), messageID, emoji); err != nil {
		return nil, fmt.Errorf("discord: add reaction: %w", err)
	}
	return map[string]any{"success": true}, nil
}

// EditMessageReaction replaces a message's content.
type EditMessageReaction struct{}

func (r *EditMessageReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(messageTargetSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	messageID := resolveMessageID(params, cfg)
	content := stringParam(params, "content")
	if _, err := session.ChannelMessageEdit(cfg["channel_id"].(string), messageID, content); err != nil {
		return nil, fmt.Errorf("discord: edit message: %w", err)
	}
	return map[string]any{"success": true}, nil
}

// DeleteMessageReaction deletes a message.
type DeleteMessageReaction struct{}

func (r *DeleteMessageReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(messageTargetSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	session, err := sessionFor(token)
	if err != nil {
		return nil, err
	}

	messageID := resolveMessageID(params, cfg)
	if err := session.ChannelMessageDelete(cfg["channel_id"].(string), messageID); err != nil {
		return nil, fmt.Errorf("discord: delete message: %w", err)
	}
	return map[string]any{"success": true}, nil
}

func resolveMessageID(params, cfg map[string]any) string {
	if v := stringParam(params, "message_id"); v != "" {
		return v
	}
	if v, ok := cfg["message_id"].(string); ok {
		return v
	}
	return ""
}

func stringParam(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
