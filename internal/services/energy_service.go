package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"buildingops/internal/models"
	"buildingops/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultReadingLimit = 100
	MaxReadingLimit     = 1000
	DefaultDaysToKeep   = 90
)

// EnergyStore persists energy readings
type EnergyStore interface {
	CreateEnergyReading(ctx context.Context, r *models.EnergyReading) error
	ListEnergyReadings(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) ([]models.EnergyReading, error)
	AggregateEnergy(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) (*models.EnergyAggregation, error)
	DeleteEnergyReadingsBefore(ctx context.Context, before time.Time) (int64, error)
}

// DeviceGetter checks devices exist
type DeviceGetter interface {
	Get(ctx context.Context, id string) (*models.Device, error)
}

var _ DeviceGetter = (*DeviceService)(nil)

// ReadingInput is a reading submitted through the API
type ReadingInput struct {
	DeviceID string
	ValueWh  float64
	Voltage  *float64
	Current  *float64
}

type EnergyService struct {
	store   EnergyStore
	devices DeviceGetter
	now     func() time.Time
	logger  *slog.Logger
}

func NewEnergyService(store EnergyStore, devices DeviceGetter, logger *slog.Logger) *EnergyService {
	return &EnergyService{
		store:   store,
		devices: devices,
		now:     time.Now,
		logger:  utils.Component(logger, "energy"),
	}
}

func (s *EnergyService) CreateReading(ctx context.Context, in ReadingInput) (*models.EnergyReading, error) {
	switch {
	case in.DeviceID == "":
		return nil, fmt.Errorf("%w: deviceId is required", models.ErrValidation)
	case in.ValueWh <= 0:
		return nil, fmt.Errorf("%w: valueWh must be positive", models.ErrValidation)
	case in.Voltage != nil && *in.Voltage < 0:
		return nil, fmt.Errorf("%w: voltage must not be negative", models.ErrValidation)
	case in.Current != nil && *in.Current < 0:
		return nil, fmt.Errorf("%w: current must not be negative", models.ErrValidation)
	}
	if _, err := s.devices.Get(ctx, in.DeviceID); err != nil {
		return nil, fmt.Errorf("device %s: %w", in.DeviceID, err)
	}
	r := &models.EnergyReading{
		ID:        uuid.NewString(),
		DeviceID:  in.DeviceID,
		ValueWh:   in.ValueWh,
		Voltage:   in.Voltage,
		Current:   in.Current,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.CreateEnergyReading(ctx, r); err != nil {
		return nil, fmt.Errorf("create reading: %w", err)
	}
	return r, nil
}

func (s *EnergyService) Readings(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) ([]models.EnergyReading, error) {
	if err := checkRange(q); err != nil {
		return nil, err
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultReadingLimit
	case q.Limit > MaxReadingLimit:
		q.Limit = MaxReadingLimit
	}
	return s.store.ListEnergyReadings(ctx, scope, q)
}

func (s *EnergyService) Stats(ctx context.Context, scope models.EnergyScope, q models.EnergyQuery) (*models.EnergyAggregation, error) {
	if err := checkRange(q); err != nil {
		return nil, err
	}
	return s.store.AggregateEnergy(ctx, scope, q)
}

// Cleanup deletes readings older than daysToKeep days and returns how many
// were removed.
func (s *EnergyService) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, fmt.Errorf("%w: daysToKeep must be at least 1", models.ErrValidation)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -daysToKeep)
	n, err := s.store.DeleteEnergyReadingsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("energy cleanup: %w", err)
	}
	s.logger.Info("ENERGY: cleanup", "daysToKeep", daysToKeep, "cutoff", cutoff, "deleted", n)
	return n, nil
}

func checkRange(q models.EnergyQuery) error {
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return fmt.Errorf("%w: to is before from", models.ErrValidation)
	}
	return nil
}
