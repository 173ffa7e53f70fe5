package postgres

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

// ─── Area CRUD ───
//
// Grounded on the teacher's trigger CRUD (internal/store/postgres/triggers.go):
// same id/config-as-json-column/created_at-updated_at row shape, generalized
// from one Type/Config pair per row to three (trigger/action/reaction).

type areaRow struct {
	ID      string `db:"id"`
	UserID  string `db:"user_id"`
	Name    string `db:"name"`
	Enabled bool   `db:"enabled"`

	TriggerType   string          `db:"trigger_type"`
	TriggerConfig json.RawMessage `db:"trigger_config"`

	ActionType   string          `db:"action_type"`
	ActionConfig json.RawMessage `db:"action_config"`

	ReactionType   string          `db:"reaction_type"`
	ReactionConfig json.RawMessage `db:"reaction_config"`

	Filter sql.NullString `db:"filter"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
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

func (p *Postgres) ListAreas(ctx context.Context) ([]domain.Area, error) {
	query, _, err := p.goqu.From(p.tableAreas).
		Select(areaColumns...).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list areas query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
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

func (p *Postgres) GetArea(ctx context.Context, id string) (*domain.Area, error) {
	query, _, err := p.goqu.From(p.tableAreas).
		Select(areaColumns...).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get area query: %w", err)
	}

	row, err := scanAreaRow(p.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get area %q: %w", id, err)
	}
	return areaRowToDomain(*row)
}

func (p *Postgres) CreateArea(ctx context.Context, a domain.Area) (*domain.Area, error) {
	triggerJSON, actionJSON, reactionJSON, filterJSON, err := marshalAreaConfigs(a)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	if a.ID != "" {
		id = a.ID
	}
	now := time.Now().UTC()

	query, _, err := p.goqu.Insert(p.tableAreas).Rows(
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

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create area: %w", err)
	}

	return p.GetArea(ctx, id)
}

func (p *Postgres) UpdateArea(ctx context.Context, id string, a domain.Area) (*domain.Area, error) {
	triggerJSON, actionJSON, reactionJSON, filterJSON, err := marshalAreaConfigs(a)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	query, _, err := p.goqu.Update(p.tableAreas).Set(
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

	res, err := p.db.ExecContext(ctx, query)
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

	return p.GetArea(ctx, id)
}

func (p *Postgres) DeleteArea(ctx context.Context, id string) error {
	query, _, err := p.goqu.Delete(p.tableAreas).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete area query: %w", err)
	}

	_, err = p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete area %q: %w", id, err)
	}
	return nil
}

func marshalAreaConfigs(a domain.Area) (trigger, action, reaction []byte, filter any, err error) {
	trigger, err = json.Marshal(a.TriggerConfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal trigger_config: %w", err)
	}
	action, err = json.Marshal(a.ActionConfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal action_config: %w", err)
	}
	reaction, err = json.Marshal(a.ReactionConfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal reaction_config: %w", err)
	}

	if a.Filter == nil {
		return trigger, action, reaction, nil, nil
	}
	filterBytes, err := json.Marshal(a.Filter)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal filter: %w", err)
	}
	return trigger, action, reaction, string(filterBytes), nil
}

func areaRowToDomain(row areaRow) (*domain.Area, error) {
	var triggerCfg, actionCfg, reactionCfg map[string]any
	if err := json.Unmarshal(row.TriggerConfig, &triggerCfg); err != nil {
		return nil, fmt.Errorf("unmarshal trigger_config for %q: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.ActionConfig, &actionCfg); err != nil {
		return nil, fmt.Errorf("unmarshal action_config for %q: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.ReactionConfig, &reactionCfg); err != nil {
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
		CreatedAt:      row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      row.UpdatedAt.Format(time.RFC3339),
	}, nil
}
