package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/area-core/internal/domain"
)

// ─── UserService CRUD ───
//
// Grounded on the teacher's secret CRUD (internal/store/postgres/secrets.go),
// applied to the (user_id, service) credential pair the Credential Resolver
// reads. Tokens are stored and returned verbatim; the Credential Resolver
// does the encrypting and decrypting.

type userServiceRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Service      string         `db:"service"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	ExpiresAt    sql.NullString `db:"expires_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (p *Postgres) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	query, _, err := p.goqu.From(p.tableUserServices).
		Select("id", "user_id", "service", "access_token", "refresh_token", "expires_at", "created_at", "updated_at").
		Where(goqu.I("user_id").Eq(userID), goqu.I("service").Eq(service)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get user_service query: %w", err)
	}

	var row userServiceRow
	err = p.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.UserID, &row.Service, &row.AccessToken, &row.RefreshToken,
		&row.ExpiresAt, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user_service (%s, %s): %w", userID, service, err)
	}

	return userServiceRowToDomain(row), nil
}

// UpsertUserService creates or replaces the (user_id, service) row.
// Callers (the out-of-scope OAuth exchange, internal/credential's
// Resolver persisting a refreshed pair) are responsible for encrypting
// AccessToken/RefreshToken via internal/crypto before calling this —
// the store layer persists whatever ciphertext or plaintext it is given
// verbatim, so encryption stays a single source of truth in the
// Credential Resolver rather than being applied twice.
func (p *Postgres) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
	access := us.AccessToken
	refresh := us.RefreshToken

	now := time.Now().UTC()

	existing, err := p.GetUserService(ctx, us.UserID, us.Service)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		id := us.ID
		if id == "" {
			id = ulid.Make().String()
		}

		query, _, err := p.goqu.Insert(p.tableUserServices).Rows(
			goqu.Record{
				"id":            id,
				"user_id":       us.UserID,
				"service":       us.Service,
				"access_token":  access,
				"refresh_token": refresh,
				"expires_at":    nullableString(us.ExpiresAt),
				"created_at":    now,
				"updated_at":    now,
			},
		).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert user_service query: %w", err)
		}
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("create user_service: %w", err)
		}

		return p.GetUserService(ctx, us.UserID, us.Service)
	}

	query, _, err := p.goqu.Update(p.tableUserServices).Set(
		goqu.Record{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_at":    nullableString(us.ExpiresAt),
			"updated_at":    now,
		},
	).Where(goqu.I("id").Eq(existing.ID)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update user_service query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update user_service %q: %w", existing.ID, err)
	}

	return p.GetUserService(ctx, us.UserID, us.Service)
}

func userServiceRowToDomain(row userServiceRow) *domain.UserService {
	expiresAt := ""
	if row.ExpiresAt.Valid {
		expiresAt = row.ExpiresAt.String
	}
	return &domain.UserService{
		ID:           row.ID,
		UserID:       row.UserID,
		Service:      row.Service,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    expiresAt,
		CreatedAt:    row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    row.UpdatedAt.Format(time.RFC3339),
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
