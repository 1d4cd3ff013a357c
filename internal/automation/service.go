package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"buildingops/internal/models"
	"buildingops/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Store persists automations and their execution history.
type Store interface {
	CreateAutomation(ctx context.Context, a *models.Automation) error
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	ListAutomations(ctx context.Context, filter models.AutomationFilter) ([]models.Automation, error)
	UpdateAutomation(ctx context.Context, a *models.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
	ListAutomationHistory(ctx context.Context, automationID string, limit int) ([]models.AutomationHistory, error)
}

// CreateInput is a new automation as submitted by a client.
type CreateInput struct {
	Name        string
	Description *string
	TriggerType models.TriggerType
	Cron        *string
	Condition   *string
	Action      json.RawMessage
	Enabled     *bool
	CreatorID   *string
}

// UpdateInput carries the fields to change; nil fields are left alone.
type UpdateInput struct {
	Name        *string
	Description *string
	TriggerType *models.TriggerType
	Cron        *string
	Condition   *string
	Action      json.RawMessage
	Enabled     *bool
}

// View is an automation as returned to clients.
type View struct {
	models.Automation
	Action    any        `json:"action"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

type Service struct {
	store  Store
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: utils.Component(logger, "automation"),
	}
}

// Present decorates a with its decoded action and, for enabled schedules,
// the next time it will fire.
func (s *Service) Present(a models.Automation) View {
	v := View{Automation: a, Action: Present(a.Action)}
	if a.Enabled && a.TriggerType == models.TriggerSchedule && a.Cron != nil {
		if next, err := NextRun(*a.Cron, s.now().In(s.loc)); err == nil {
			v.NextRunAt = &next
		}
	}
	return v
}

func (s *Service) PresentAll(list []models.Automation) []View {
	out := make([]View, 0, len(list))
	for _, a := range list {
		out = append(out, s.Present(a))
	}
	return out
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Automation, error) {
	now := s.now().UTC()
	a := &models.Automation{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		TriggerType: in.TriggerType,
		Cron:        trimmed(in.Cron),
		Condition:   trimmed(in.Condition),
		Enabled:     true,
		CreatorID:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Enabled != nil {
		a.Enabled = *in.Enabled
	}
	action, err := NormalizeAction(in.Action)
	if err != nil {
		return nil, err
	}
	a.Action = action
	if err := check(a); err != nil {
		return nil, err
	}
	if err := s.store.CreateAutomation(ctx, a); err != nil {
		return nil, fmt.Errorf("create automation: %w", err)
	}
	s.logger.Info("AUTOMATION: created", "id", a.ID, "name", a.Name, "trigger", a.TriggerType)
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Automation, error) {
	a, err := s.store.GetAutomation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("automation %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filter models.AutomationFilter) ([]models.Automation, error) {
	return s.store.ListAutomations(ctx, filter)
}

func (s *Service) ListEnabled(ctx context.Context) ([]models.Automation, error) {
	enabled := true
	return s.store.ListAutomations(ctx, models.AutomationFilter{Enabled: &enabled})
}

func (s *Service) ListByCreator(ctx context.Context, creatorID string) ([]models.Automation, error) {
	if creatorID == "" {
		return nil, validationf("creator id is required")
	}
	return s.store.ListAutomations(ctx, models.AutomationFilter{CreatorID: creatorID})
}

// Update merges in into the stored automation and validates the result as a
// whole.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Automation, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		a.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		a.Description = in.Description
	}
	if in.TriggerType != nil {
		a.TriggerType = *in.TriggerType
	}
	if in.Cron != nil {
		a.Cron = trimmed(in.Cron)
	}
	if in.Condition != nil {
		a.Condition = trimmed(in.Condition)
	}
	if in.Enabled != nil {
		a.Enabled = *in.Enabled
	}
	if len(in.Action) > 0 {
		action, err := NormalizeAction(in.Action)
		if err != nil {
			return nil, err
		}
		a.Action = action
	}
	if err := check(a); err != nil {
		return nil, err
	}
	a.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateAutomation(ctx, a); err != nil {
		return nil, fmt.Errorf("update automation %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) Toggle(ctx context.Context, id string) (*models.Automation, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	enabled := !a.Enabled
	return s.Update(ctx, id, UpdateInput{Enabled: &enabled})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAutomation(ctx, id); err != nil {
		return fmt.Errorf("delete automation %s: %w", id, err)
	}
	s.logger.Info("AUTOMATION: deleted", "id", id)
	return nil
}

// History returns the newest entries first. limit is clamped to
// MaxHistoryLimit; zero or negative means DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, id string, limit int) ([]models.AutomationHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return s.store.ListAutomationHistory(ctx, id, limit)
}

func (s *Service) Stats(ctx context.Context) (*models.AutomationStats, error) {
	all, err := s.store.ListAutomations(ctx, models.AutomationFilter{})
	if err != nil {
		return nil, err
	}
	stats := &models.AutomationStats{ByTriggerType: make(map[string]int, len(models.TriggerTypes))}
	for _, t := range models.TriggerTypes {
		stats.ByTriggerType[string(t)] = 0
	}
	for _, a := range all {
		stats.Total++
		if a.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByTriggerType[string(a.TriggerType)]++
	}
	return stats, nil
}

func check(a *models.Automation) error {
	if a.Name == "" {
		return validationf("name is required")
	}
	if !a.TriggerType.Valid() {
		return validationf("unknown trigger type %q", a.TriggerType)
	}
	if a.Cron != nil {
		if err := Validate(*a.Cron); err != nil {
			return err
		}
	}
	switch a.TriggerType {
	case models.TriggerSchedule:
		if a.Cron == nil {
			return validationf("cron expression is required for SCHEDULE automations")
		}
	case models.TriggerCondition:
		if a.Condition == nil {
			return validationf("condition is required for CONDITION automations")
		}
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
