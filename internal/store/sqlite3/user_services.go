package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/area-core/internal/domain"
)

type userServiceRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Service      string         `db:"service"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	ExpiresAt    sql.NullString `db:"expires_at"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

func (s *SQLite) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	query, _, err := s.goqu.From(s.tableUserServices).
		Select("id", "user_id", "service", "access_token", "refresh_token", "expires_at", "created_at", "updated_at").
		Where(goqu.I("user_id").Eq(userID), goqu.I("service").Eq(service)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get user_service query: %w", err)
	}

	var row userServiceRow
	err = s.db.QueryRowContext(ctx, query).Scan(
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

// UpsertUserService stores whatever ciphertext/plaintext it is given for
// AccessToken/RefreshToken verbatim; see the postgres store's identical
// note on why encryption is not applied here.
func (s *SQLite) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
	existing, err := s.GetUserService(ctx, us.UserID, us.Service)
	if err != nil {
		return nil, err
	}

	now := nowRFC3339()

	if existing == nil {
		id := us.ID
		if id == "" {
			id = ulid.Make().String()
		}

		query, _, err := s.goqu.Insert(s.tableUserServices).Rows(
			goqu.Record{
				"id":            id,
				"user_id":       us.UserID,
				"service":       us.Service,
				"access_token":  us.AccessToken,
				"refresh_token": us.RefreshToken,
				"expires_at":    nullableString(us.ExpiresAt),
				"created_at":    now,
				"updated_at":    now,
			},
		).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert user_service query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("create user_service: %w", err)
		}
		return s.GetUserService(ctx, us.UserID, us.Service)
	}

	query, _, err := s.goqu.Update(s.tableUserServices).Set(
		goqu.Record{
			"access_token":  us.AccessToken,
			"refresh_token": us.RefreshToken,
			"expires_at":    nullableString(us.ExpiresAt),
			"updated_at":    now,
		},
	).Where(goqu.I("id").Eq(existing.ID)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update user_service query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update user_service %q: %w", existing.ID, err)
	}

	return s.GetUserService(ctx, us.UserID, us.Service)
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
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
