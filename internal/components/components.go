// Package components registers every built-in trigger, action and
// reaction kind with internal/registry.
//
// Each subpackage defines one or more component kinds and registers them
// via an init() function that calls registry.RegisterTrigger/
// RegisterAction/RegisterReaction. Importing this package (even as a
// blank import) triggers all of them:
//
//	import _ "github.com/rakunlabs/area-core/internal/components"
//
// Registered component kinds:
//
//   - time_trigger, date_trigger, hourly_trigger, time_action — timer
//   - print_reaction                                          — print
//   - new_message_in_channel, channel_created, channel_deleted,
//     member_removed, guild_role_added, send_message, add_reaction,
//     edit_message, delete_message                             — discord
//     (new_message_in_channel doubles as an Action kind)
//   - new_message, send_telegram_message                       — telegram
//     (new_message doubles as an Action kind)
//   - new_push, create_issue                                   — github
//     (new_push doubles as an Action kind)
//   - gmail_receive, send_email                                 — google
//     (gmail_receive doubles as an Action kind)
//   - outlook_receive, outlook_send_mail                        — microsoft
//     (outlook_receive doubles as an Action kind)
//   - track_played, add_to_playlist                             — spotify
//     (track_played doubles as an Action kind)
//   - send_mail                                                 — mail
package components

import (
	_ "github.com/rakunlabs/area-core/internal/components/discord"
	_ "github.com/rakunlabs/area-core/internal/components/github"
	_ "github.com/rakunlabs/area-core/internal/components/google"
	_ "github.com/rakunlabs/area-core/internal/components/mail"
	_ "github.com/rakunlabs/area-core/internal/components/microsoft"
	_ "github.com/rakunlabs/area-core/internal/components/print"
	_ "github.com/rakunlabs/area-core/internal/components/spotify"
	_ "github.com/rakunlabs/area-core/internal/components/telegram"
	_ "github.com/rakunlabs/area-core/internal/components/timer"
)
