package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/models"
	"buildingops/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu          sync.Mutex
	automations map[string]models.Automation
	history     []models.AutomationHistory
	listErr     error
}

func newMemStore(list ...models.Automation) *memStore {
	m := &memStore{automations: map[string]models.Automation{}}
	for _, a := range list {
		m.automations[a.ID] = a
	}
	return m
}

func (m *memStore) GetAutomation(_ context.Context, id string) (*models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) ListEnabledByTriggerType(_ context.Context, t models.TriggerType) ([]models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Automation
	for _, a := range m.automations {
		if a.Enabled && a.TriggerType == t {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) UpdateAutomationLastRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return models.ErrNotFound
	}
	a.LastRunAt = &at
	m.automations[id] = a
	return nil
}

func (m *memStore) AppendAutomationHistory(_ context.Context, h *models.AutomationHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *h)
	return nil
}

func (m *memStore) historyFor(id string) []models.AutomationHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AutomationHistory
	for _, h := range m.history {
		if h.AutomationID == id {
			out = append(out, h)
		}
	}
	return out
}

func (m *memStore) lastRun(id string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automations[id].LastRunAt
}

type published struct {
	topic   string
	payload any
	opts    mqtt.PublishOptions
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []published

	entered chan struct{}
	block   chan struct{}
}

func (p *fakePublisher) Publish(topic string, payload any, opts ...mqtt.PublishOptions) error {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var o mqtt.PublishOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	p.sent = append(p.sent, published{topic: topic, payload: payload, opts: o})
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeScheduler struct {
	jobs map[string]string
}

func (s *fakeScheduler) AddJob(name, spec string, _ func()) error {
	s.jobs[name] = spec
	return nil
}

func (s *fakeScheduler) RemoveJob(name string) { delete(s.jobs, name) }

type countRecorder struct {
	mu     sync.Mutex
	counts map[string]int
	sweeps int
}

func (r *countRecorder) AutomationExecution(trigger, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[trigger+"/"+result]++
}

func (r *countRecorder) SweepDuration(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
}

func scheduled(id, cron, action string) models.Automation {
	return models.Automation{
		ID:          id,
		Name:        id,
		TriggerType: models.TriggerSchedule,
		Cron:        &cron,
		Action:      action,
		Enabled:     true,
	}
}

const lightsOff = `{"topic":"home/livingroom/light","payload":{"state":"off"}}`

type harness struct {
	engine    *Engine
	store     *memStore
	publisher *fakePublisher
	sched     *fakeScheduler
	recorder  *countRecorder
	clock     time.Time
}

func newHarness(list ...models.Automation) *harness {
	h := &harness{
		store:     newMemStore(list...),
		publisher: &fakePublisher{connected: true},
		sched:     &fakeScheduler{jobs: map[string]string{}},
		recorder:  &countRecorder{counts: map[string]int{}},
		clock:     time.Date(2026, 1, 15, 22, 0, 20, 0, time.UTC),
	}
	h.engine = NewEngine(h.store, h.publisher, h.sched, h.recorder, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func TestStartRegistersSweep(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.engine.Start())
	assert.Equal(t, "@every 30s", h.sched.jobs[SweepJob])

	h.engine.Stop()
	assert.Empty(t, h.sched.jobs)
}

func TestSweepExecutesDueRuleOnce(t *testing.T) {
	h := newHarness(scheduled("lights-off", "0 22 * * *", lightsOff))
	ctx := context.Background()

	res := h.engine.Sweep(ctx)
	assert.Equal(t, SweepResult{Evaluated: 1, Due: 1, Executed: 1}, res)
	require.Equal(t, 1, h.publisher.count())
	sent := h.publisher.sent[0]
	assert.Equal(t, "home/livingroom/light", sent.topic)
	assert.JSONEq(t, `{"state":"off"}`, string(sent.payload.(json.RawMessage)))
	assert.Equal(t, mqtt.PublishOptions{}, sent.opts)

	require.NotNil(t, h.store.lastRun("lights-off"))
	assert.Equal(t, h.clock, *h.store.lastRun("lights-off"))
	history := h.store.historyFor("lights-off")
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, "Executed successfully at 2026-01-15T22:00:20Z", history[0].Log)

	// the next poll inside the same minute must not fire again
	h.clock = h.clock.Add(30 * time.Second)
	res = h.engine.Sweep(ctx)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, 1, h.publisher.count())
	assert.Len(t, h.store.historyFor("lights-off"), 1)
	assert.Equal(t, 1, h.recorder.counts["SCHEDULE/success"])
	assert.Equal(t, 2, h.recorder.sweeps)
}

func TestSweepIgnoresRulesNotDue(t *testing.T) {
	morning := scheduled("morning", "0 7 * * *", lightsOff)
	disabled := scheduled("disabled", "0 22 * * *", lightsOff)
	disabled.Enabled = false
	manual := scheduled("manual", "0 22 * * *", lightsOff)
	manual.TriggerType = models.TriggerManual

	h := newHarness(morning, disabled, manual)
	res := h.engine.Sweep(context.Background())
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, 0, h.publisher.count())
}

func TestSweepFailureIsolated(t *testing.T) {
	h := newHarness(
		scheduled("corrupt", "0 22 * * *", `{"topic": `),
		scheduled("good", "0 22 * * *", lightsOff),
		scheduled("bad-cron", "whenever", lightsOff),
	)

	res := h.engine.Sweep(context.Background())
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 1, res.Failed)

	failures := h.store.historyFor("corrupt")
	require.Len(t, failures, 1)
	assert.False(t, failures[0].Success)
	assert.True(t, strings.HasPrefix(failures[0].Log, "Error: "), failures[0].Log)
	assert.Nil(t, h.store.lastRun("corrupt"))

	assert.Len(t, h.store.historyFor("good"), 1)
	assert.Empty(t, h.store.historyFor("bad-cron"))
	assert.Equal(t, 1, h.recorder.counts["SCHEDULE/failure"])
}

func TestSweepListFailure(t *testing.T) {
	h := newHarness(scheduled("a", "0 22 * * *", lightsOff))
	h.store.listErr = errors.New("connection refused")
	assert.Equal(t, SweepResult{}, h.engine.Sweep(context.Background()))
	assert.Equal(t, 0, h.publisher.count())
}

func TestSweepUsesConfiguredLocation(t *testing.T) {
	h := newHarness(scheduled("a", "0 22 * * *", lightsOff))
	h.engine.loc = time.FixedZone("UTC+2", 2*60*60)

	// 22:00:20 UTC is 00:00:20 in UTC+2
	res := h.engine.Sweep(context.Background())
	assert.Equal(t, 0, res.Due)

	h.clock = time.Date(2026, 1, 15, 20, 0, 10, 0, time.UTC)
	res = h.engine.Sweep(context.Background())
	assert.Equal(t, 1, res.Executed)
}

func TestExecuteManually(t *testing.T) {
	manual := scheduled("scene", "", `{"topic":"home/hall/lock","payload":"LOCK","qos":2,"retain":true}`)
	manual.TriggerType = models.TriggerManual
	manual.Cron = nil
	h := newHarness(manual)

	entry, err := h.engine.ExecuteManually(context.Background(), "scene")
	require.NoError(t, err)
	assert.True(t, entry.Success)

	require.Equal(t, 1, h.publisher.count())
	sent := h.publisher.sent[0]
	assert.Equal(t, "LOCK", sent.payload)
	assert.Equal(t, mqtt.PublishOptions{QoS: 2, Retain: true}, sent.opts)
	assert.NotNil(t, h.store.lastRun("scene"))
	assert.Equal(t, 1, h.recorder.counts["MANUAL/success"])
}

func TestExecuteManuallyRejects(t *testing.T) {
	disabled := scheduled("off", "0 22 * * *", lightsOff)
	disabled.Enabled = false
	h := newHarness(disabled)

	_, err := h.engine.ExecuteManually(context.Background(), "off")
	assert.ErrorIs(t, err, automation.ErrAutomationDisabled)
	assert.Empty(t, h.store.historyFor("off"))

	_, err = h.engine.ExecuteManually(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExecuteManuallyFailure(t *testing.T) {
	h := newHarness(scheduled("a", "0 22 * * *", lightsOff))
	h.publisher.err = errors.New("payload too large")

	_, err := h.engine.ExecuteManually(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrExecution)

	var execErr *automation.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "a", execErr.AutomationID)

	history := h.store.historyFor("a")
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Contains(t, history[0].Log, "payload too large")
	assert.Nil(t, h.store.lastRun("a"))
}

func TestExecuteNotes(t *testing.T) {
	h := newHarness(
		scheduled("no-topic", "0 22 * * *", `{"type":"notification","payload":{"message":"hi"}}`),
		scheduled("offline", "0 22 * * *", lightsOff),
	)
	h.publisher.connected = false

	entry, err := h.engine.ExecuteManually(context.Background(), "no-topic")
	require.NoError(t, err)
	assert.Contains(t, entry.Log, "nothing published")

	entry, err = h.engine.ExecuteManually(context.Background(), "offline")
	require.NoError(t, err)
	assert.Contains(t, entry.Log, "transport offline")
}

func TestInFlightGuard(t *testing.T) {
	h := newHarness(scheduled("slow", "0 22 * * *", lightsOff))
	h.publisher.entered = make(chan struct{})
	h.publisher.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.ExecuteManually(ctx, "slow")
		done <- err
	}()
	<-h.publisher.entered

	res := h.engine.Sweep(ctx)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Executed)

	_, err := h.engine.ExecuteManually(ctx, "slow")
	assert.ErrorIs(t, err, automation.ErrExecutionInFlight)

	close(h.publisher.block)
	require.NoError(t, <-done)
	assert.Len(t, h.store.historyFor("slow"), 1)
	assert.Equal(t, 1, h.recorder.counts["SCHEDULE/skipped"])
}

func TestExecuteActionWithExtraKeys(t *testing.T) {
	h := newHarness(
		scheduled("extra", "0 22 * * *", `{"topic":"home/hall/light","payload":{"state":"on"},"deviceId":"d1","type":"MQTT"}`),
		scheduled("text", "0 22 * * *", "turn lights off"),
	)

	res := h.engine.Sweep(context.Background())
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 1, res.Failed)
	require.Equal(t, 1, h.publisher.count())
	assert.Equal(t, "home/hall/light", h.publisher.sent[0].topic)

	history := h.store.historyFor("text")
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Nil(t, h.store.lastRun("text"))
}

func TestStopDrainsAndRefusesExecutions(t *testing.T) {
	h := newHarness(
		scheduled("slow", "0 22 * * *", lightsOff),
		scheduled("late", "0 22 * * *", lightsOff),
	)
	h.publisher.entered = make(chan struct{})
	h.publisher.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.ExecuteManually(ctx, "slow")
		done <- err
	}()
	<-h.publisher.entered

	stopped := make(chan struct{})
	go func() {
		h.engine.Stop()
		close(stopped)
	}()
	assert.Eventually(t, func() bool {
		h.engine.inFlightMu.Lock()
		defer h.engine.inFlightMu.Unlock()
		return h.engine.stopped
	}, time.Second, time.Millisecond)

	_, err := h.engine.ExecuteManually(ctx, "late")
	assert.ErrorIs(t, err, automation.ErrEngineStopped)
	assert.Empty(t, h.store.historyFor("late"))

	select {
	case <-stopped:
		t.Fatal("Stop returned while an execution was in flight")
	default:
	}

	close(h.publisher.block)
	require.NoError(t, <-done)
	<-stopped
	assert.Len(t, h.store.historyFor("slow"), 1)
}
