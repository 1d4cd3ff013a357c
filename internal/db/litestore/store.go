// Package litestore is the embedded SQLite implementation of the device,
// energy and automation stores. It backs single-node installs and tests.
package litestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buildingops/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file:buildingops_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "?mode=memory&cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&deviceRecord{}, &energyRecord{}, &automationRecord{}, &historyRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	}
	return err
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Devices

func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	rec := deviceFromModel(d)
	return translate(s.db.WithContext(ctx).Create(&rec).Error)
}

func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var rec deviceRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	d := rec.toModel()
	return &d, nil
}

func (s *Store) ListDevices(ctx context.Context, f models.DeviceFilter) ([]models.Device, error) {
	q := s.db.WithContext(ctx).Model(&deviceRecord{})
	if f.RoomID != "" {
		q = q.Where("room_id = ?", f.RoomID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var recs []deviceRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]models.Device, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpdateDevice writes the descriptive fields. Status and lastSeen are only
// changed through UpdateDeviceStatus and TouchDevice.
func (s *Store) UpdateDevice(ctx context.Context, d *models.Device) error {
	rec := deviceFromModel(d)
	return affected(s.db.WithContext(ctx).Model(&deviceRecord{}).Where("id = ?", d.ID).Updates(map[string]any{
		"name":         rec.Name,
		"room_id":      rec.RoomID,
		"type":         rec.Type,
		"mqtt_topic":   rec.MQTTTopic,
		"power_rating": rec.PowerRating,
		"metadata":     rec.Metadata,
		"updated_at":   rec.UpdatedAt,
	}))
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	return affected(s.db.WithContext(ctx).Where("id = ?", id).Delete(&deviceRecord{}))
}

// updateDevice applies fields and reads the row back in one transaction.
func (s *Store) updateDevice(ctx context.Context, id string, fields map[string]any) (*models.Device, error) {
	var rec deviceRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := affected(tx.Model(&deviceRecord{}).Where("id = ?", id).Updates(fields)); err != nil {
			return err
		}
		return tx.First(&rec, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	d := rec.toModel()
	return &d, nil
}

func (s *Store) UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus, seenAt time.Time) (*models.Device, error) {
	return s.updateDevice(ctx, id, map[string]any{
		"status":     string(status),
		"last_seen":  seenAt.UTC(),
		"updated_at": seenAt.UTC(),
	})
}

func (s *Store) TouchDevice(ctx context.Context, id string, seenAt time.Time) (*models.Device, error) {
	var rec deviceRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&deviceRecord{}).Where("id = ?", id).UpdateColumn("last_seen", seenAt.UTC())
		if err := affected(res); err != nil {
			return err
		}
		return tx.First(&rec, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	d := rec.toModel()
	return &d, nil
}

func (s *Store) FindDeviceIDByTopic(ctx context.Context, topic string) (string, error) {
	var rec deviceRecord
	err := s.db.WithContext(ctx).Select("id").First(&rec, "mqtt_topic = ?", topic).Error
	if err != nil {
		return "", translate(err)
	}
	return rec.ID, nil
}

// Energy

func (s *Store) energyScope(q *gorm.DB, scope models.EnergyScope, eq models.EnergyQuery) *gorm.DB {
	if scope.DeviceID != "" {
		q = q.Where("device_id = ?", scope.DeviceID)
	}
	if scope.RoomID != "" {
		q = q.Where("device_id IN (?)", s.db.Model(&deviceRecord{}).Select("id").Where("room_id = ?", scope.RoomID))
	}
	if eq.From != nil {
		q = q.Where("ts >= ?", eq.From.UTC())
	}
	if eq.To != nil {
		q = q.Where("ts <= ?", eq.To.UTC())
	}
	return q
}

func (s *Store) CreateEnergyReading(ctx context.Context, r *models.EnergyReading) error {
	rec := energyRecord{
		ID:       r.ID,
		DeviceID: r.DeviceID,
		ValueWh:  r.ValueWh,
		Voltage:  r.Voltage,
		Current:  r.Current,
		TS:       r.Timestamp.UTC(),
	}
	return translate(s.db.WithContext(ctx).Create(&rec).Error)
}

func (s *Store) ListEnergyReadings(ctx context.Context, scope models.EnergyScope, eq models.EnergyQuery) ([]models.EnergyReading, error) {
	q := s.energyScope(s.db.WithContext(ctx).Model(&energyRecord{}), scope, eq).Order("ts DESC")
	if eq.Limit > 0 {
		q = q.Limit(eq.Limit)
	}
	var recs []energyRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]models.EnergyReading, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) AggregateEnergy(ctx context.Context, scope models.EnergyScope, eq models.EnergyQuery) (*models.EnergyAggregation, error) {
	var row struct {
		Count int
		Total float64
		Avg   *float64
		MaxWh *float64
		MinWh *float64
	}
	q := s.energyScope(s.db.WithContext(ctx).Model(&energyRecord{}), scope, eq)
	err := q.Select("COUNT(*) AS count, COALESCE(SUM(value_wh), 0) AS total, AVG(value_wh) AS avg, MAX(value_wh) AS max_wh, MIN(value_wh) AS min_wh").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &models.EnergyAggregation{
		TotalKwh: row.Total / 1000,
		Count:    row.Count,
		AvgWh:    row.Avg,
		MaxWh:    row.MaxWh,
		MinWh:    row.MinWh,
	}, nil
}

func (s *Store) DeleteEnergyReadingsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("ts < ?", before.UTC()).Delete(&energyRecord{})
	return res.RowsAffected, res.Error
}

// Automations

func (s *Store) CreateAutomation(ctx context.Context, a *models.Automation) error {
	rec := automationFromModel(a)
	return translate(s.db.WithContext(ctx).Create(&rec).Error)
}

func (s *Store) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var rec automationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	a := rec.toModel()
	return &a, nil
}

func (s *Store) ListAutomations(ctx context.Context, f models.AutomationFilter) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).Model(&automationRecord{})
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}
	if f.TriggerType != "" {
		q = q.Where("trigger_type = ?", string(f.TriggerType))
	}
	if f.CreatorID != "" {
		q = q.Where("creator_id = ?", f.CreatorID)
	}
	var recs []automationRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]models.Automation, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) ListEnabledByTriggerType(ctx context.Context, t models.TriggerType) ([]models.Automation, error) {
	enabled := true
	return s.ListAutomations(ctx, models.AutomationFilter{Enabled: &enabled, TriggerType: t})
}

func (s *Store) UpdateAutomation(ctx context.Context, a *models.Automation) error {
	rec := automationFromModel(a)
	return affected(s.db.WithContext(ctx).Model(&automationRecord{}).Where("id = ?", a.ID).Updates(map[string]any{
		"name":         rec.Name,
		"description":  rec.Description,
		"trigger_type": rec.TriggerType,
		"cron":         rec.Cron,
		"condition":    rec.Condition,
		"action":       rec.Action,
		"enabled":      rec.Enabled,
		"updated_at":   rec.UpdatedAt,
	}))
}

func (s *Store) UpdateAutomationLastRun(ctx context.Context, id string, at time.Time) error {
	return affected(s.db.WithContext(ctx).Model(&automationRecord{}).Where("id = ?", id).
		UpdateColumn("last_run_at", at.UTC()))
}

// DeleteAutomation removes the automation together with its history.
func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", id).Delete(&historyRecord{}).Error; err != nil {
			return err
		}
		return affected(tx.Where("id = ?", id).Delete(&automationRecord{}))
	})
}

func (s *Store) AppendAutomationHistory(ctx context.Context, h *models.AutomationHistory) error {
	rec := historyRecord{
		ID:           h.ID,
		AutomationID: h.AutomationID,
		TS:           h.Timestamp.UTC(),
		Success:      h.Success,
		Log:          h.Log,
	}
	return translate(s.db.WithContext(ctx).Create(&rec).Error)
}

func (s *Store) ListAutomationHistory(ctx context.Context, automationID string, limit int) ([]models.AutomationHistory, error) {
	var recs []historyRecord
	err := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("ts DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.AutomationHistory, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toModel())
	}
	return out, nil
}
