// Package domain defines the core data shapes shared by every layer of the
// automation core: Areas, Credentials, Jobs and their CRUD store contracts.
// It carries no behavior of its own — components, the registry, the
// evaluator, the supervisor and the worker all operate on these types.
package domain

import "context"

// ComponentKind distinguishes the three roles a registered component can
// play inside an Area.
type ComponentKind string

const (
	KindTrigger  ComponentKind = "trigger"
	KindAction   ComponentKind = "action"
	KindReaction ComponentKind = "reaction"
)

// Area binds one Trigger (optional), one Action and one Reaction together
// under a single owning user. It is the unit the Supervisor reconciles and
// the Evaluator runs.
type Area struct {
	ID      string `db:"id" json:"id"`
	UserID  string `db:"user_id" json:"user_id"`
	Name    string `db:"name" json:"name"`
	Enabled bool   `db:"enabled" json:"enabled"`

	TriggerType   string         `db:"trigger_type" json:"trigger_type"`
	TriggerConfig map[string]any `db:"trigger_config" json:"trigger_config"`

	ActionType   string         `db:"action_type" json:"action_type"`
	ActionConfig map[string]any `db:"action_config" json:"action_config"`

	ReactionType   string         `db:"reaction_type" json:"reaction_type"`
	ReactionConfig map[string]any `db:"reaction_config" json:"reaction_config"`

	// Filter, when non-nil, gates whether a Trigger firing is allowed to
	// reach the Reaction. It travels in the Job's action.config and is
	// applied by the Action, not the Evaluator, so two Areas sharing a
	// Trigger but pointed at different Actions filter independently.
	Filter *Filter `db:"filter" json:"filter,omitempty"`

	CreatedAt string `db:"created_at" json:"created_at"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

// HasTrigger reports whether the Area has a Trigger component configured.
// The Supervisor starts no Evaluator for an Area without one, so such an
// Area never produces a Job; every Area built by the components in this
// module has TriggerType set.
func (a Area) HasTrigger() bool {
	return a.TriggerType != ""
}

// Credential is a resolved, opaque bearer credential for one (user, service)
// pair, as returned by the Credential Resolver. It is never persisted in
// this shape — UserService rows hold the ciphertext, Credential holds the
// plaintext the Evaluator injects into a Job.
type Credential struct {
	Token        string
	RefreshToken string
	ExpiresAt    string // RFC3339, empty if the credential never expires
}

// UserService is the stored, encrypted-at-rest row backing the Credential
// Resolver: one row per (user, service) pair.
type UserService struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	Service      string `db:"service"`
	AccessToken  string `db:"access_token" log:"-"`
	RefreshToken string `db:"refresh_token" log:"-"`
	ExpiresAt    string `db:"expires_at"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

// ComponentRef names a component instance and carries the parameters and
// config to invoke it with. Params come from the event data the Trigger
// produced (projected onto the Action's declared schema fields, for the
// Action); Config carries the Area's
// stored options plus, for Action/Reaction, an injected "token" field.
type ComponentRef struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Config map[string]any `json:"config"`
}

// Job is the envelope pushed onto the Job Queue by an Evaluator and popped
// by a Worker. Its shape is the wire contract between the two: anything
// added here must be serializable as plain JSON.
type Job struct {
	AreaID    string       `json:"area_id"`
	UserID    string       `json:"user_id"`
	Trigger   ComponentRef `json:"trigger"`
	Action    ComponentRef `json:"action"`
	Reaction  ComponentRef `json:"reaction"`
	EventData any          `json:"event_data"`
}

// MatchLogic selects how multiple Filter conditions combine.
type MatchLogic string

const (
	MatchAll MatchLogic = "all"
	MatchAny MatchLogic = "any"
)

// Operator is the closed set of comparisons a FilterCondition may use.
// There is no extension point: an unrecognized operator is a configuration
// error, not a place to plug in custom code.
type Operator string

const (
	OpContains    Operator = "contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// FilterCondition is a single clause in a Filter.
type FilterCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Filter is the closed-operator-set condition DSL attached to an Area's
// Action, gating whether it lets a Trigger's firing reach the Reaction.
type Filter struct {
	Conditions []FilterCondition `json:"conditions"`
	Match      MatchLogic        `json:"match"`
}

// AreaStorer is the persistence contract the Supervisor and the admin
// surface read Areas through.
type AreaStorer interface {
	ListAreas(ctx context.Context) ([]Area, error)
	GetArea(ctx context.Context, id string) (*Area, error)
	CreateArea(ctx context.Context, a Area) (*Area, error)
	UpdateArea(ctx context.Context, id string, a Area) (*Area, error)
	DeleteArea(ctx context.Context, id string) error
}

// CredentialStorer is the persistence contract the Credential Resolver
// reads and refreshes UserService rows through.
type CredentialStorer interface {
	GetUserService(ctx context.Context, userID, service string) (*UserService, error)
	UpsertUserService(ctx context.Context, us UserService) (*UserService, error)
}
