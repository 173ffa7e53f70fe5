// Package spotify wires the Spotify-backed component kinds: the
// track_played Trigger (polls /me/player/currently-playing until the track
// id changes), the track_played Action (applies the Area's Filter against
// the now-playing track) and the add_to_playlist Reaction, all over
// internal/components/rest.
package spotify

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	spotifyoauth "golang.org/x/oauth2/spotify"

	"github.com/rakunlabs/area-core/internal/components/rest"
	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

const apiBase = "https://api.spotify.com/v1"

func init() {
	registry.RegisterTrigger("track_played", "spotify", triggerSchema, func(areaID string) registry.Trigger {
		return &TrackPlayedTrigger{areaID: areaID}
	})
	registry.RegisterAction("track_played", "spotify", actionSchema, func() registry.Action { return &TrackPlayedAction{} })
	registry.RegisterReaction("add_to_playlist", "spotify", reactionSchema, func() registry.Reaction { return &AddToPlaylistReaction{} })
}

// Refresher builds the RefresherFactory the composition root registers
// under the "spotify" service name, shared by both the track_played
// Trigger and the add_to_playlist Reaction.
func Refresher(clientID, clientSecret string) credential.RefresherFactory {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     spotifyoauth.Endpoint,
	}
	return func(ctx context.Context, refreshToken string) oauth2.TokenSource {
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	}
}

var triggerSchema = validate.Schema{
	Fields: []validate.Field{
		validate.TokenSchemaField(),
	},
}

type currentlyPlayingResponse struct {
	Item struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
	} `json:"item"`
}

// TrackPlayedTrigger fires once per track change on the user's active device.
type TrackPlayedTrigger struct {
	areaID      string
	lastTrackID string
}

func (t *TrackPlayedTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(triggerSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("spotify: missing access token for area %s", t.areaID)
	}

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}

	var resp currentlyPlayingResponse
	status, err := client.Do(ctx, "GET", "/me/player/currently-playing", nil, &resp)
	if err != nil {
		if status == 204 {
			return nil, nil
		}
		return nil, fmt.Errorf("spotify: get currently playing: %w", err)
	}
	if resp.Item.ID == "" || resp.Item.ID == t.lastTrackID {
		return nil, nil
	}
	t.lastTrackID = resp.Item.ID

	artist := ""
	if len(resp.Item.Artists) > 0 {
		artist = resp.Item.Artists[0].Name
	}

	return &registry.TriggerResult{Data: map[string]any{
		"track_id":    resp.Item.ID,
		"track_name":  resp.Item.Name,
		"artist_name": artist,
		"album_name":  resp.Item.Album.Name,
	}}, nil
}

var actionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "track_id", Type: validate.TypeString, Required: true},
		{Name: "track_name", Type: validate.TypeString},
		{Name: "artist_name", Type: validate.TypeString},
		{Name: "album_name", Type: validate.TypeString},
	},
}

// TrackPlayedAction gates a track_played firing against the Area's
// optional Filter before letting it reach the add_to_playlist Reaction.
type TrackPlayedAction struct{}

func (a *TrackPlayedAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
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

var reactionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "playlist_id", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// AddToPlaylistReaction adds the Action's track_id output to a playlist.
type AddToPlaylistReaction struct{}

func (r *AddToPlaylistReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(reactionSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("spotify: missing access token")
	}

	trackID, _ := params["track_id"].(string)
	if trackID == "" {
		return nil, fmt.Errorf("spotify: no track_id in action output")
	}

	client, err := rest.New(apiBase, token)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"uris": []string{"spotify:track:" + trackID}}
	path := fmt.Sprintf("/playlists/%s/tracks", cfg["playlist_id"].(string))
	if _, err := client.Do(ctx, "POST", path, body, nil); err != nil {
		return nil, fmt.Errorf("spotify: add to playlist: %w", err)
	}

	return map[string]any{"success": true, "track_id": trackID}, nil
}
