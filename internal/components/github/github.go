// Package github wires the GitHub-backed component kinds: the new_push
// Trigger, which polls a remote repository's refs via go-git/go-git (no
// local clone, just a ls-remote-style advertisement fetch) for the HEAD
// commit of a branch, the new_push Action, which applies the Area's Filter
// against the observed commit, and the create_issue Reaction, which posts
// through the GitHub REST API via internal/components/rest.
package github

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/rakunlabs/area-core/internal/components/rest"
	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterTrigger("new_push", "github", TriggerSchema, func(areaID string) registry.Trigger {
		return &NewPushTrigger{areaID: areaID}
	})
	registry.RegisterAction("new_push", "github", ActionSchema, func() registry.Action { return &NewPushAction{} })
	registry.RegisterReaction("create_issue", "github", ReactionSchema, func() registry.Reaction { return &CreateIssueReaction{} })
}

// TriggerSchema declares new_push's config.
var TriggerSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "repo", Type: validate.TypeString, Required: true},
		{Name: "branch", Type: validate.TypeString, Default: "refs/heads/main"},
		validate.TokenSchemaField(),
	},
}

// NewPushTrigger fires when a repository's branch HEAD advances past the
// last commit SHA observed.
type NewPushTrigger struct {
	areaID string

	mu       sync.Mutex
	lastHash string
}

func (t *NewPushTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(TriggerSchema, config)
	if err != nil {
		return nil, err
	}

	repoURL := cfg["repo"].(string)
	branch := cfg["branch"].(string)
	if !strings.HasPrefix(branch, "refs/") {
		branch = "refs/heads/" + branch
	}
	token, _ := cfg["token"].(string)
	auth := authFor(token)

	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return nil, fmt.Errorf("github: parse repo url: %w", err)
	}

	session, err := githttp.DefaultClient.NewUploadPackSession(ep, auth)
	if err != nil {
		return nil, fmt.Errorf("github: open session: %w", err)
	}

	refs, err := session.AdvertisedReferences()
	if err != nil {
		return nil, fmt.Errorf("github: list refs: %w", err)
	}
	refList, err := refs.AllReferences()
	if err != nil {
		return nil, fmt.Errorf("github: parse refs: %w", err)
	}

	ref, ok := refList[plumbing.ReferenceName(branch)]
	if !ok {
		return nil, fmt.Errorf("github: branch %q not found in %s", branch, repoURL)
	}
	sha := ref.Hash().String()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastHash == "" {
		t.lastHash = sha
		return nil, nil
	}
	if sha == t.lastHash {
		return nil, nil
	}
	t.lastHash = sha

	return &registry.TriggerResult{Data: map[string]any{
		"commit_sha": sha,
		"branch":     branch,
		"repo":       repoURL,
	}}, nil
}

func authFor(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

// ActionSchema declares the fields new_push's paired Action projects out
// of the Trigger Response it fires with.
var ActionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "commit_sha", Type: validate.TypeString, Required: true},
		{Name: "branch", Type: validate.TypeString},
		{Name: "repo", Type: validate.TypeString},
	},
}

// NewPushAction gates a new_push firing against the Area's optional Filter
// before letting it reach the create_issue Reaction.
type NewPushAction struct{}

func (a *NewPushAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
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

// ReactionSchema declares create_issue's config.
var ReactionSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "repository", Type: validate.TypeString, Required: true},
		{Name: "title", Type: validate.TypeString, Required: true},
		{Name: "body", Type: validate.TypeString, Default: ""},
		validate.TokenSchemaField(),
	},
}

// CreateIssueReaction opens a new issue on the configured repository
// ("owner/repo" form) via the GitHub REST API.
type CreateIssueReaction struct{}

func (r *CreateIssueReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	cfg, err := validate.Validate(ReactionSchema, config)
	if err != nil {
		return nil, err
	}
	token, _ := cfg["token"].(string)

	client, err := rest.New("https://api.github.com", token)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"title": cfg["title"].(string),
		"body":  cfg["body"].(string),
	}

	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/issues", cfg["repository"].(string))
	if _, err := client.Do(ctx, "POST", path, body, &out); err != nil {
		return nil, fmt.Errorf("github: create issue: %w", err)
	}

	return map[string]any{
		"success": true,
		"number":  out.Number,
		"url":     out.HTMLURL,
	}, nil
}
