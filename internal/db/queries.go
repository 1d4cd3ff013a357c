package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"buildingops/internal/models"

	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, name, room_id, type, status, mqtt_topic, power_rating, metadata, last_seen, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	var metadata []byte
	if err := row.Scan(&d.ID, &d.Name, &d.RoomID, &d.Type, &d.Status, &d.MQTTTopic,
		&d.PowerRating, &metadata, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	d.Metadata = json.RawMessage(metadata)
	return &d, nil
}

func metadataOrEmpty(m json.RawMessage) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	return m
}

// CreateDevice inserts a device
func (d *DB) CreateDevice(ctx context.Context, dev *models.Device) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		dev.ID, dev.Name, dev.RoomID, dev.Type, dev.Status, dev.MQTTTopic, dev.PowerRating,
		metadataOrEmpty(dev.Metadata), dev.LastSeen, dev.CreatedAt, dev.UpdatedAt)
	return translate(err)
}

// GetDevice fetches a device
func (d *DB) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	return scanDevice(d.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
}

// ListDevices fetches devices, newest first
func (d *DB) ListDevices(ctx context.Context, f models.DeviceFilter) ([]models.Device, error) {
	var where []string
	var args []any
	if f.RoomID != "" {
		args = append(args, f.RoomID)
		where = append(where, fmt.Sprintf("room_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *dev)
	}
	return devices, rows.Err()
}

// UpdateDevice replaces the descriptive fields of a device. Status and
// lastSeen are left to UpdateDeviceStatus and TouchDevice.
func (d *DB) UpdateDevice(ctx context.Context, dev *models.Device) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE devices SET name = $2, room_id = $3, type = $4, mqtt_topic = $5,
			power_rating = $6, metadata = $7, updated_at = $8
		WHERE id = $1`,
		dev.ID, dev.Name, dev.RoomID, dev.Type, dev.MQTTTopic, dev.PowerRating,
		metadataOrEmpty(dev.Metadata), dev.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteDevice removes a device; its energy readings are kept
func (d *DB) DeleteDevice(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateDeviceStatus sets status and lastSeen in one statement
func (d *DB) UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus, seenAt time.Time) (*models.Device, error) {
	return scanDevice(d.pool.QueryRow(ctx,
		`UPDATE devices SET status = $2, last_seen = $3, updated_at = $3 WHERE id = $1 RETURNING `+deviceColumns,
		id, status, seenAt))
}

// TouchDevice stamps lastSeen
func (d *DB) TouchDevice(ctx context.Context, id string, seenAt time.Time) (*models.Device, error) {
	return scanDevice(d.pool.QueryRow(ctx,
		`UPDATE devices SET last_seen = $2 WHERE id = $1 RETURNING `+deviceColumns,
		id, seenAt))
}

// FindDeviceIDByTopic looks up the device registered on exactly topic
func (d *DB) FindDeviceIDByTopic(ctx context.Context, topic string) (string, error) {
	var id string
	err := d.pool.QueryRow(ctx, `SELECT id FROM devices WHERE mqtt_topic = $1`, topic).Scan(&id)
	if err != nil {
		return "", translate(err)
	}
	return id, nil
}
