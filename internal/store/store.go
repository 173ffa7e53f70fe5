// Package store picks and constructs the configured backend (Postgres or
// SQLite) behind the domain.AreaStorer/domain.CredentialStorer contracts
// the rest of the core depends on.
package store

import (
	"context"
	"errors"

	"github.com/rakunlabs/area-core/internal/config"
	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/store/postgres"
	"github.com/rakunlabs/area-core/internal/store/sqlite3"
)

// KeyRotator is implemented by both backends: it re-encrypts every stored
// UserService row's tokens under a new key, or sets the in-memory key
// without touching rows (used by cluster peers receiving a rotation
// broadcast).
type KeyRotator interface {
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
	SetEncryptionKey(newKey []byte)
}

// StorerClose combines the Area/Credential store contracts, key rotation
// and a Close method — what the composition root needs from whichever
// backend is configured.
type StorerClose interface {
	domain.AreaStorer
	domain.CredentialStorer
	KeyRotator
	Close()
}

// New creates a StorerClose from cfg, seeding the backend's encryption key
// up front so RotateEncryptionKey can decrypt existing UserService rows;
// the backends write tokens verbatim and never encrypt them on write.
// Exactly one of cfg.Postgres or cfg.SQLite must be set.
func New(ctx context.Context, cfg config.Store, encKey []byte) (StorerClose, error) {
	switch {
	case cfg.Postgres != nil:
		return postgres.New(ctx, cfg.Postgres, encKey)
	case cfg.SQLite != nil:
		return sqlite3.New(ctx, cfg.SQLite, encKey)
	default:
		return nil, errors.New("no store configured")
	}
}
