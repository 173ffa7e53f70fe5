package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/area-core/internal/domain"
)

type areaRow struct {
	ID      string `db:"id"`
	UserID  string `db:"user_id"`
	Name    string `db:"name"`
	Enabled bool   `db:"enabled"`

	TriggerType   string `db:"trigger_type"`
	TriggerConfig string `db:"trigger_config"`

	ActionType   string `db:"action_type"`
	ActionConfig string `db:"action_config"`

	ReactionType   string `db:"reaction_type"`
	ReactionConfig string `db:"reaction_config"`

	Filter sql.NullString `db:"filter"`

	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

var areaColumns = []any{
	"id", "user_id", "name", "enabled",
	"trigger_type", "trigger_config",
	"action_type", "action_config",
	"reaction_type", "reaction_config",
	"filter", "created_at", "updated_at",
}

func scanAreaRow(scanner interface{ Scan(...any) error }) (*areaRow, error) {
	var row areaRow
	if err := scanner.Scan(
		&row.ID, &row.UserID, &row.Name, &row.Enabled,
		&row.TriggerType, &row.TriggerConfig,
		&row.ActionType, &row.ActionConfig,
		&row.ReactionType, &row.ReactionConfig,
		&row.Filter, &row.CreatedAt, &row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SQLite) ListAreas(ctx context.Context) ([]domain.Area, error) {
	query, _, err := s.goqu.From(s.tableAreas).
		Select(areaColumns...).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list areas query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	defer rows.Close()

	var result []domain.Area
	for rows.Next() {
		row, err := scanAreaRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan area row: %w", err)
		}
		a, err := areaRowToDomain(*row)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *SQLite) GetArea(ctx context.Context, id string) (*domain.Area, error) {
	query, _, err := s.goqu.From(s.tableAreas).
		Select(areaColumns...).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get area query: %w", err)
	}

	row, err := scanAreaRow(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get area %q: %w", id, err)
	}
	return areaRowToDomain(*row)
}

func (s *SQLite) CreateArea(ctx context.Context, a domain.Area) (*domain.Area, error) {
	triggerJSON, actionJSON, reactionJSON, filterJSON, err := marshalAreaConfigs(a)
	if err != nil {
		return nil, err
	}

	id := a.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Insert(s.tableAreas).Rows(
		goqu.Record{
			"id":              id,
			"user_id":         a.UserID,
			"name":            a.Name,
			"enabled":         a.Enabled,
			"trigger_type":    a.TriggerType,
			"trigger_config":  triggerJSON,
			"action_type":     a.ActionType,
			"action_config":   actionJSON,
			"reaction_type":   a.ReactionType,
			"reaction_config": reactionJSON,
			"filter":          filterJSON,
			"created_at":      now,
			"updated_at":      now,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert area query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create area: %w", err)
	}

	return s.GetArea(ctx, id)
}

func (s *SQLite) UpdateArea(ctx context.Context, id string, a domain.Area) (*domain.Area, error) {
	triggerJSON, actionJSON, reactionJSON, filterJSON, err := marshalAreaConfigs(a)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Update(s.tableAreas).Set(
		goqu.Record{
			"name":            a.Name,
			"enabled":         a.Enabled,
			"trigger_type":    a.TriggerType,
			"trigger_config":  triggerJSON,
			"action_type":     a.ActionType,
			"action_config":   actionJSON,
			"reaction_type":   a.ReactionType,
			"reaction_config": reactionJSON,
			"filter":          filterJSON,
			"updated_at":      now,
		},
	).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update area query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update area %q: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	return s.GetArea(ctx, id)
}

func (s *SQLite) DeleteArea(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableAreas).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete area query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete area %q: %w", id, err)
	}
	return nil
}

func marshalAreaConfigs(a domain.Area) (trigger, action, reaction string, filter any, err error) {
	t, err := json.Marshal(a.TriggerConfig)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal trigger_config: %w", err)
	}
	ac, err := json.Marshal(a.ActionConfig)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal action_config: %w", err)
	}
	rc, err := json.Marshal(a.ReactionConfig)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal reaction_config: %w", err)
	}

	if a.Filter == nil {
		return string(t), string(ac), string(rc), nil, nil
	}
	filterBytes, err := json.Marshal(a.Filter)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("marshal filter: %w", err)
	}
	return string(t), string(ac), string(rc), string(filterBytes), nil
}

func areaRowToDomain(row areaRow) (*domain.Area, error) {
	var triggerCfg, actionCfg, reactionCfg map[string]any
	if err := json.Unmarshal([]byte(row.TriggerConfig), &triggerCfg); err != nil {
		return nil, fmt.Errorf("unmarshal trigger_config for %q: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.ActionConfig), &actionCfg); err != nil {
		return nil, fmt.Errorf("unmarshal action_config for %q: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.ReactionConfig), &reactionCfg); err != nil {
		return nil, fmt.Errorf("unmarshal reaction_config for %q: %w", row.ID, err)
	}

	var filter *domain.Filter
	if row.Filter.Valid && row.Filter.String != "" {
		filter = &domain.Filter{}
		if err := json.Unmarshal([]byte(row.Filter.String), filter); err != nil {
			return nil, fmt.Errorf("unmarshal filter for %q: %w", row.ID, err)
		}
	}

	return &domain.Area{
		ID:             row.ID,
		UserID:         row.UserID,
		Name:           row.Name,
		Enabled:        row.Enabled,
		TriggerType:    row.TriggerType,
		TriggerConfig:  triggerCfg,
		ActionType:     row.ActionType,
		ActionConfig:   actionCfg,
		ReactionType:   row.ReactionType,
		ReactionConfig: reactionCfg,
		Filter:         filter,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}
