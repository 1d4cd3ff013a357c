package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"buildingops/internal/models"

	"github.com/jackc/pgx/v5"
)

const automationColumns = `id, name, description, trigger_type, cron, condition, action, enabled, last_run_at, creator_id, created_at, updated_at`

func scanAutomation(row pgx.Row) (*models.Automation, error) {
	var a models.Automation
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.TriggerType, &a.Cron, &a.Condition,
		&a.Action, &a.Enabled, &a.LastRunAt, &a.CreatorID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// CreateAutomation inserts an automation
func (d *DB) CreateAutomation(ctx context.Context, a *models.Automation) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO automations (`+automationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.Description, a.TriggerType, a.Cron, a.Condition, a.Action, a.Enabled,
		a.LastRunAt, a.CreatorID, a.CreatedAt, a.UpdatedAt)
	return translate(err)
}

// GetAutomation fetches an automation
func (d *DB) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return scanAutomation(d.pool.QueryRow(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id))
}

// ListAutomations fetches automations, newest first
func (d *DB) ListAutomations(ctx context.Context, f models.AutomationFilter) ([]models.Automation, error) {
	var where []string
	var args []any
	if f.Enabled != nil {
		args = append(args, *f.Enabled)
		where = append(where, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if f.TriggerType != "" {
		args = append(args, f.TriggerType)
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if f.CreatorID != "" {
		args = append(args, f.CreatorID)
		where = append(where, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	query := `SELECT ` + automationColumns + ` FROM automations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Automation{}
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// ListEnabledByTriggerType fetches enabled automations of one trigger type
func (d *DB) ListEnabledByTriggerType(ctx context.Context, t models.TriggerType) ([]models.Automation, error) {
	enabled := true
	return d.ListAutomations(ctx, models.AutomationFilter{Enabled: &enabled, TriggerType: t})
}

// UpdateAutomation replaces the editable fields of an automation
func (d *DB) UpdateAutomation(ctx context.Context, a *models.Automation) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE automations SET name = $2, description = $3, trigger_type = $4, cron = $5, condition = $6,
			action = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.Name, a.Description, a.TriggerType, a.Cron, a.Condition, a.Action, a.Enabled, a.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateAutomationLastRun stamps lastRunAt
func (d *DB) UpdateAutomationLastRun(ctx context.Context, id string, at time.Time) error {
	tag, err := d.pool.Exec(ctx, `UPDATE automations SET last_run_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteAutomation removes an automation and, by cascade, its history
func (d *DB) DeleteAutomation(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AppendAutomationHistory records one execution attempt
func (d *DB) AppendAutomationHistory(ctx context.Context, h *models.AutomationHistory) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO automation_history (id, automation_id, ts, success, log) VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.AutomationID, h.Timestamp, h.Success, h.Log)
	return translate(err)
}

// ListAutomationHistory returns the newest limit entries for an automation
func (d *DB) ListAutomationHistory(ctx context.Context, automationID string, limit int) ([]models.AutomationHistory, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, automation_id, ts, success, log FROM automation_history
		WHERE automation_id = $1 ORDER BY ts DESC LIMIT $2`, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []models.AutomationHistory{}
	for rows.Next() {
		var h models.AutomationHistory
		if err := rows.Scan(&h.ID, &h.AutomationID, &h.Timestamp, &h.Success, &h.Log); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
