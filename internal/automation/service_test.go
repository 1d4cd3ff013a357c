package automation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"buildingops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	items   map[string]models.Automation
	history map[string][]models.AutomationHistory
}

func newMemStore() *memStore {
	return &memStore{items: map[string]models.Automation{}, history: map[string][]models.AutomationHistory{}}
}

func (m *memStore) CreateAutomation(_ context.Context, a *models.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = *a
	return nil
}

func (m *memStore) GetAutomation(_ context.Context, id string) (*models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) ListAutomations(_ context.Context, f models.AutomationFilter) ([]models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Automation
	for _, a := range m.items {
		if f.Enabled != nil && a.Enabled != *f.Enabled {
			continue
		}
		if f.TriggerType != "" && a.TriggerType != f.TriggerType {
			continue
		}
		if f.CreatorID != "" && (a.CreatorID == nil || *a.CreatorID != f.CreatorID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) UpdateAutomation(_ context.Context, a *models.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return models.ErrNotFound
	}
	m.items[a.ID] = *a
	return nil
}

func (m *memStore) DeleteAutomation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.items, id)
	delete(m.history, id)
	return nil
}

func (m *memStore) ListAutomationHistory(_ context.Context, id string, limit int) ([]models.AutomationHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[id]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func newTestService(store Store) *Service {
	s := NewService(store, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 1, 15, 21, 0, 0, 0, time.UTC) }
	return s
}

func scheduleInput(name, cron string) CreateInput {
	return CreateInput{
		Name:        name,
		TriggerType: models.TriggerSchedule,
		Cron:        &cron,
		Action:      json.RawMessage(`{"topic":"home/livingroom/light","payload":{"state":"off"}}`),
	}
}

func TestCreateSchedule(t *testing.T) {
	svc := newTestService(newMemStore())
	a, err := svc.Create(context.Background(), scheduleInput("lights off", "0 22 * * *"))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.True(t, a.Enabled)
	assert.Nil(t, a.LastRunAt)

	view := svc.Present(*a)
	require.NotNil(t, view.NextRunAt)
	assert.Equal(t, time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC), *view.NextRunAt)

	encoded, err := json.Marshal(view)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(encoded, &body))
	action, ok := body["action"].(map[string]any)
	require.True(t, ok, "action is presented as an object")
	assert.Equal(t, "home/livingroom/light", action["topic"])
}

func TestCreateRejectsInvalid(t *testing.T) {
	svc := newTestService(newMemStore())
	bad := "not-a-cron"
	cases := map[string]CreateInput{
		"missing name":      {TriggerType: models.TriggerManual, Action: json.RawMessage(`{}`)},
		"unknown trigger":   {Name: "x", TriggerType: "WEBHOOK", Action: json.RawMessage(`{}`)},
		"schedule no cron":  {Name: "x", TriggerType: models.TriggerSchedule, Action: json.RawMessage(`{}`)},
		"bad cron":          {Name: "x", TriggerType: models.TriggerSchedule, Cron: &bad, Action: json.RawMessage(`{}`)},
		"condition missing": {Name: "x", TriggerType: models.TriggerCondition, Action: json.RawMessage(`{}`)},
		"missing action":    {Name: "x", TriggerType: models.TriggerManual},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestUpdateValidatesMergedRecord(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	manual, err := svc.Create(ctx, CreateInput{Name: "scene", TriggerType: models.TriggerManual, Action: json.RawMessage(`{"topic":"a/b"}`)})
	require.NoError(t, err)

	schedule := models.TriggerSchedule
	_, err = svc.Update(ctx, manual.ID, UpdateInput{TriggerType: &schedule})
	assert.ErrorIs(t, err, models.ErrValidation)

	bad := "99 * * * *"
	_, err = svc.Update(ctx, manual.ID, UpdateInput{Cron: &bad})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	cron := "*/5 * * * *"
	updated, err := svc.Update(ctx, manual.ID, UpdateInput{TriggerType: &schedule, Cron: &cron})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerSchedule, updated.TriggerType)

	stored, err := store.GetAutomation(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", *stored.Cron)
}

func TestUpdateMissing(t *testing.T) {
	svc := newTestService(newMemStore())
	name := "x"
	_, err := svc.Update(context.Background(), "nope", UpdateInput{Name: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestToggleAndStats(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	a, err := svc.Create(ctx, scheduleInput("a", "0 22 * * *"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "b", TriggerType: models.TriggerManual, Action: json.RawMessage(`{}`)})
	require.NoError(t, err)

	toggled, err := svc.Toggle(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	assert.Nil(t, svc.Present(*toggled).NextRunAt)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Enabled)
	assert.Equal(t, 1, stats.Disabled)
	assert.Equal(t, map[string]int{"SCHEDULE": 1, "CONDITION": 0, "MANUAL": 1}, stats.ByTriggerType)

	enabled, err := svc.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "b", enabled[0].Name)
}

func TestListByCreator(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	alice := "user-alice"

	in := scheduleInput("mine", "0 7 * * *")
	in.CreatorID = &alice
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, scheduleInput("other", "0 8 * * *"))
	require.NoError(t, err)

	list, err := svc.ListByCreator(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mine", list[0].Name)

	_, err = svc.ListByCreator(ctx, "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHistoryLimit(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	a, err := svc.Create(ctx, scheduleInput("a", "0 22 * * *"))
	require.NoError(t, err)
	for i := 0; i < 600; i++ {
		store.history[a.ID] = append(store.history[a.ID], models.AutomationHistory{AutomationID: a.ID, Success: true})
	}

	h, err := svc.History(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, h, DefaultHistoryLimit)

	h, err = svc.History(ctx, a.ID, 10_000)
	require.NoError(t, err)
	assert.Len(t, h, MaxHistoryLimit)

	_, err = svc.History(ctx, "missing", 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	a, err := svc.Create(ctx, scheduleInput("a", "0 22 * * *"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	_, err = svc.Get(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, a.ID), models.ErrNotFound)
}
