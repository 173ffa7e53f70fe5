// Package config loads process-wide configuration for the automation core
// via rakunlabs/chu, a layered env/YAML/Consul/Vault loader: database
// connection, queue connection, per-provider OAuth credentials, and the
// session/JWT secret consumed by the separately-deployed HTTP API.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store Store `cfg:"store"`
	Queue Queue `cfg:"queue"`

	// OAuth holds one entry per external service the Credential Resolver
	// and the service adapters need a client id/secret for. Keys are
	// lowercase, snake_case service names matching the service each
	// trigger/action/reaction kind is registered under (discord, github,
	// google, microsoft, spotify).
	OAuth map[string]OAuthProvider `cfg:"oauth"`

	Session Session `cfg:"session"`
	Server  Server  `cfg:"server"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`

	// WorkerCount is how many Worker tasks drain the Job Queue
	// concurrently. Running exactly one preserves per-Area job ordering;
	// more than one trades that guarantee for throughput.
	WorkerCount int `cfg:"worker_count" default:"1"`
}

// OAuthProvider carries the client credentials needed to exchange and
// refresh an access token for one external service. The actual
// authorization-code exchange is an out-of-scope HTTP API concern; the
// core only uses ClientID/ClientSecret to build a refresh TokenSource in
// internal/credential's RefresherFactory.
type OAuthProvider struct {
	ClientID     string   `cfg:"client_id"`
	ClientSecret string   `cfg:"client_secret" log:"-"`
	RedirectURI  string   `cfg:"redirect_uri"`
	Scopes       []string `cfg:"scopes"`
	AuthURL      string   `cfg:"auth_url"`
	TokenURL     string   `cfg:"token_url"`
}

// Session configures the out-of-scope HTTP API's session cookie and JWT
// signing; the core never issues or verifies these itself, but carries the
// section since it is part of the same process configuration surface.
type Session struct {
	Secret    string        `cfg:"secret" log:"-"`
	JWTAlgo   string        `cfg:"jwt_algo" default:"HS256"`
	CookieTTL time.Duration `cfg:"cookie_ttl" default:"720h"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// ForwardAuth, if set, configures the ops surface to forward auth
	// requests to an external authentication service.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// AdminToken, if set, protects the /api/v1/settings/rotate-key endpoint
	// (encryption key rotation) with bearer token authentication.
	AdminToken string `cfg:"admin_token" log:"-"`

	// Alan, if set, enables distributed clustering via UDP peer discovery
	// so only one instance's Supervisor reconciles at a time and
	// encryption key rotation is broadcast to every peer.
	Alan *alan.Config `cfg:"alan"`
}

// Queue configures the shared Job Queue backend (Redis: LPUSH/RPOP against
// a single named list).
type Queue struct {
	Host     string `cfg:"host" default:"localhost"`
	Port     string `cfg:"port" default:"6379"`
	DB       int    `cfg:"db" default:"0"`
	Password string `cfg:"password" log:"-"`
	ListKey  string `cfg:"list_key" default:"area:jobs"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption for stored
	// UserService access/refresh tokens. Any non-empty string works; it is
	// hashed to a 32-byte AES-256 key internally. Empty means no
	// encryption is applied (tokens stored in plaintext).
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("AREA_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
