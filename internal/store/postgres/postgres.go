// Package postgres is the Postgres-backed implementation of domain.AreaStorer
// and domain.CredentialStorer, built on doug-martin/goqu/v9 over
// jackc/pgx/v5, the same query-builder-plus-stdlib-sql shape the teacher's
// store layer uses throughout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/area-core/internal/config"
	atcrypto "github.com/rakunlabs/area-core/internal/crypto"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "area_"
)

// Postgres is the Area/UserService store. encKey is the key UserService
// access/refresh tokens are currently encrypted under (by the Credential
// Resolver); rotating it re-encrypts every stored row under lock (see
// RotateEncryptionKey).
type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableAreas        exp.IdentifierExpression
	tableUserServices exp.IdentifierExpression

	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StorePostgres, encKey []byte) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store postgres: %w", err)
	}

	if cfg.ConnMaxLifetime != nil {
		ConnMaxLifetime = *cfg.ConnMaxLifetime
	}
	if cfg.MaxIdleConns != nil {
		MaxIdleConns = *cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns != nil {
		MaxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to store postgres")

	dbGoqu := goqu.New("postgres", db)

	return &Postgres{
		db:                db,
		goqu:              dbGoqu,
		tableAreas:        goqu.T(tablePrefix + "areas"),
		tableUserServices: goqu.T(tablePrefix + "user_services"),
		encKey:            encKey,
	}, nil
}

func (p *Postgres) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Error("close store postgres connection", "error", err)
		}
	}
}

// RotateEncryptionKey decrypts every UserService row's access/refresh
// tokens with the current key, re-encrypts them with newKey, and updates
// the rows atomically. Passing nil disables encryption (stores plaintext).
// Grounded on the teacher's provider-config RotateEncryptionKey — same
// read-under-lock / re-encrypt / commit / swap-in-memory-key shape, applied
// to UserService tokens instead of provider configs.
func (p *Postgres) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	p.encKeyMu.Lock()
	defer p.encKeyMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery, _, err := p.goqu.From(p.tableUserServices).
		Select("id", "access_token", "refresh_token").
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectQuery)
	if err != nil {
		return fmt.Errorf("list user services for rotation: %w", err)
	}

	type rowData struct {
		id, access, refresh string
	}
	var allRows []rowData
	for rows.Next() {
		var r rowData
		if err := rows.Scan(&r.id, &r.access, &r.refresh); err != nil {
			rows.Close()
			return fmt.Errorf("scan user_service row: %w", err)
		}
		allRows = append(allRows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate user_service rows: %w", err)
	}

	for _, r := range allRows {
		access, err := decryptWith(r.access, p.encKey)
		if err != nil {
			return fmt.Errorf("decrypt access_token for %q: %w", r.id, err)
		}
		refresh, err := decryptWith(r.refresh, p.encKey)
		if err != nil {
			return fmt.Errorf("decrypt refresh_token for %q: %w", r.id, err)
		}

		access, err = encryptWith(access, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt access_token for %q: %w", r.id, err)
		}
		refresh, err = encryptWith(refresh, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt refresh_token for %q: %w", r.id, err)
		}

		updateQuery, _, err := p.goqu.Update(p.tableUserServices).Set(
			goqu.Record{"access_token": access, "refresh_token": refresh},
		).Where(goqu.I("id").Eq(r.id)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update query for %q: %w", r.id, err)
		}
		if _, err := tx.ExecContext(ctx, updateQuery); err != nil {
			return fmt.Errorf("update user_service %q: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.encKey = newKey
	slog.Info("encryption key rotated", "user_services_updated", len(allRows))
	return nil
}

// SetEncryptionKey updates the in-memory encryption key without
// re-encrypting database rows, used by peer instances receiving a key
// rotation broadcast from the instance that performed the actual rotation.
func (p *Postgres) SetEncryptionKey(newKey []byte) {
	p.encKeyMu.Lock()
	p.encKey = newKey
	p.encKeyMu.Unlock()
}

// decryptWith and encryptWith wrap internal/crypto with a nil-key passthrough,
// so encryption can be toggled on/off per deployment (config.Store.EncryptionKey).
func decryptWith(value string, key []byte) (string, error) {
	if key == nil {
		return value, nil
	}
	return atcrypto.Decrypt(value, key)
}

func encryptWith(value string, key []byte) (string, error) {
	if key == nil || value == "" {
		return value, nil
	}
	return atcrypto.Encrypt(value, key)
}
