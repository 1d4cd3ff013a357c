package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"buildingops/internal/models"
)

// energyWhere builds the filter shared by listings and aggregates. Room
// scope joins through the device's current room.
func energyWhere(scope models.EnergyScope, q models.EnergyQuery) (string, []any) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if scope.DeviceID != "" {
		add("e.device_id = $%d", scope.DeviceID)
	}
	if scope.RoomID != "" {
		add("e.device_id IN (SELECT id FROM devices WHERE room_id = $%d)", scope.RoomID)
	}
	if q.From != nil {
		add("e.ts >= $%d", *q.From)
	}
	if q.To != nil {
		add("e.ts <= $%d", *q.To)
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// CreateEnergyReading appends a reading
func (d *DB) CreateEnergyReading(ctx context.Context, r *models.EnergyReading) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO energy_readings (id, device_id, value_wh, voltage, current, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.DeviceID, r.ValueWh, r.Voltage, r.Current, r.Timestamp)
	return translate(err)
}

// ListEnergyReadings returns readings newest first
func (d *DB) ListEnergyReadings(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) ([]models.EnergyReading, error) {
	where, args := energyWhere(scope, q)
	query := `SELECT e.id, e.device_id, e.value_wh, e.voltage, e.current, e.ts FROM energy_readings e` + where + ` ORDER BY e.ts DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := []models.EnergyReading{}
	for rows.Next() {
		var r models.EnergyReading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.ValueWh, &r.Voltage, &r.Current, &r.Timestamp); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// AggregateEnergy rolls up readings in scope
func (d *DB) AggregateEnergy(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) (*models.EnergyAggregation, error) {
	where, args := energyWhere(scope, q)
	var (
		count             int
		sum               float64
		avg, maxWh, minWh *float64
	)
	err := d.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(e.value_wh), 0), AVG(e.value_wh), MAX(e.value_wh), MIN(e.value_wh)
		FROM energy_readings e`+where, args...).Scan(&count, &sum, &avg, &maxWh, &minWh)
	if err != nil {
		return nil, err
	}
	return &models.EnergyAggregation{TotalKwh: sum / 1000, Count: count, AvgWh: avg, MaxWh: maxWh, MinWh: minWh}, nil
}

// DeleteEnergyReadingsBefore removes readings strictly older than before
func (d *DB) DeleteEnergyReadingsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM energy_readings WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
