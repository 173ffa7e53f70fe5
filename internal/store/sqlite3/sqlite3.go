// Package sqlite3 is the SQLite-backed implementation of domain.AreaStorer
// and domain.CredentialStorer — the single-node deployment alternative to
// internal/store/postgres, built on the same goqu query-builder over
// modernc.org/sqlite (pure-Go driver, no cgo).
package sqlite3

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

	_ "modernc.org/sqlite"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

var DefaultTablePrefix = "area_"

type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableAreas        exp.IdentifierExpression
	tableUserServices exp.IdentifierExpression

	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StoreSQLite, encKey []byte) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite only tolerates one writer at a time; a single connection
	// avoids SQLITE_BUSY under the Supervisor/Worker's concurrent access.
	db.SetMaxOpenConns(1)

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:                db,
		goqu:              dbGoqu,
		tableAreas:        goqu.T(tablePrefix + "areas"),
		tableUserServices: goqu.T(tablePrefix + "user_services"),
		encKey:            encKey,
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

// RotateEncryptionKey mirrors postgres.Postgres.RotateEncryptionKey: decrypt
// every UserService row's tokens with the current key, re-encrypt with
// newKey, commit, then swap the in-memory key.
func (s *SQLite) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	s.encKeyMu.Lock()
	defer s.encKeyMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery, _, err := s.goqu.From(s.tableUserServices).
		Select("id", "access_token", "refresh_token").
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectQuery)
	if err != nil {
		return fmt.Errorf("list user services for rotation: %w", err)
	}

	type rowData struct{ id, access, refresh string }
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
		access, err := decryptWith(r.access, s.encKey)
		if err != nil {
			return fmt.Errorf("decrypt access_token for %q: %w", r.id, err)
		}
		refresh, err := decryptWith(r.refresh, s.encKey)
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

		updateQuery, _, err := s.goqu.Update(s.tableUserServices).Set(
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

	s.encKey = newKey
	slog.Info("encryption key rotated", "user_services_updated", len(allRows))
	return nil
}

func (s *SQLite) SetEncryptionKey(newKey []byte) {
	s.encKeyMu.Lock()
	s.encKey = newKey
	s.encKeyMu.Unlock()
}

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

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
