package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"buildingops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, topic string) (string, bool, error) {
	if id, ok := s[topic]; ok {
		return id, true, nil
	}
	return "", false, nil
}

type memDevices struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func (m *memDevices) UpdateDeviceStatus(_ context.Context, id string, status models.DeviceStatus, seenAt time.Time) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	d.Status = status
	d.LastSeen = &seenAt
	cp := *d
	return &cp, nil
}

func (m *memDevices) TouchDevice(_ context.Context, id string, seenAt time.Time) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	d.LastSeen = &seenAt
	cp := *d
	return &cp, nil
}

type memEnergy struct {
	readings []models.EnergyReading
	err      error
}

func (m *memEnergy) CreateEnergyReading(_ context.Context, r *models.EnergyReading) error {
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, *r)
	return nil
}

type event struct {
	name    string
	payload any
}

type captureNotifier struct{ events []event }

func (c *captureNotifier) Broadcast(name string, payload any) {
	c.events = append(c.events, event{name, payload})
}

type captureSink struct{ readings []models.EnergyReading }

func (c *captureSink) WriteEnergy(r models.EnergyReading) { c.readings = append(c.readings, r) }

type countRecorder map[string]int

func (c countRecorder) BridgeMessage(kind, result string) { c[kind+"/"+result]++ }

type fixture struct {
	bridge   *Bridge
	devices  *memDevices
	energy   *memEnergy
	notifier *captureNotifier
	sink     *captureSink
	recorder countRecorder
}

func newFixture() *fixture {
	f := &fixture{
		devices: &memDevices{devices: map[string]*models.Device{
			"dev-1": {ID: "dev-1", Name: "Hall light", Status: models.DeviceStatusOff, MQTTTopic: "devices/light-101"},
		}},
		energy:   &memEnergy{},
		notifier: &captureNotifier{},
		sink:     &captureSink{},
		recorder: countRecorder{},
	}
	resolver := stubResolver{
		"devices/light-101/status":  "dev-1",
		"devices/light-101/online":  "dev-1",
		"devices/light-101/energy":  "dev-1",
		"devices/light-101/reading": "dev-1",
		"devices/light-101/battery": "dev-1",
		"devices/ghost/status":      "dev-ghost",
	}
	f.bridge = New(Deps{
		Resolver: resolver,
		Devices:  f.devices,
		Energy:   f.energy,
		Notifier: f.notifier,
		Sink:     f.sink,
		Recorder: f.recorder,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return fixedNow },
	})
	return f
}

func TestStatusUpdateFromObject(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/status", []byte(`{"status":"on"}`)))

	d := f.devices.devices["dev-1"]
	assert.Equal(t, models.DeviceStatusOn, d.Status)
	require.NotNil(t, d.LastSeen)
	assert.Equal(t, fixedNow, *d.LastSeen)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventDeviceStatus, f.notifier.events[0].name)
	assert.Equal(t, StatusEvent{DeviceID: "dev-1", Status: models.DeviceStatusOn, Timestamp: fixedNow}, f.notifier.events[0].payload)
	assert.Equal(t, 1, f.recorder["status/applied"])
}

func TestStatusUpdateFromScalar(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/status", []byte("STANDBY")))
	assert.Equal(t, models.DeviceStatusStandby, f.devices.devices["dev-1"].Status)
}

func TestStatusUpdateRejectsUnknownValue(t *testing.T) {
	f := newFixture()
	err := f.bridge.Handle(context.Background(), "devices/light-101/status", []byte(`{"status":"dimmed"}`))
	require.ErrorIs(t, err, ErrParse)

	assert.Equal(t, models.DeviceStatusOff, f.devices.devices["dev-1"].Status)
	assert.Empty(t, f.notifier.events)
	assert.Equal(t, 1, f.recorder["status/dropped"])
}

func TestOnlineReportStampsLastSeen(t *testing.T) {
	for payload, want := range map[string]bool{
		`{"online":true}`:  true,
		`{"online":false}`: false,
		"true":             true,
		"1":                true,
		"0":                false,
	} {
		f := newFixture()
		require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/online", []byte(payload)))

		require.NotNil(t, f.devices.devices["dev-1"].LastSeen, payload)
		require.Len(t, f.notifier.events, 1, payload)
		assert.Equal(t, OnlineEvent{DeviceID: "dev-1", Online: want, Timestamp: fixedNow}, f.notifier.events[0].payload, payload)
	}
}

func TestEnergyReadingWithOptionalFields(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/energy", []byte(`{"valueWh": 150.5, "voltage": 220}`)))

	require.Len(t, f.energy.readings, 1)
	r := f.energy.readings[0]
	assert.Equal(t, "dev-1", r.DeviceID)
	assert.Equal(t, 150.5, r.ValueWh)
	require.NotNil(t, r.Voltage)
	assert.Equal(t, 220.0, *r.Voltage)
	assert.Nil(t, r.Current)
	assert.Equal(t, fixedNow, r.Timestamp)
	assert.NotEmpty(t, r.ID)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventEnergyReading, f.notifier.events[0].name)
	ev := f.notifier.events[0].payload.(EnergyEvent)
	assert.Equal(t, r, ev.Reading)
	assert.Equal(t, []models.EnergyReading{r}, f.sink.readings)
}

func TestEnergyValueFallbackChain(t *testing.T) {
	cases := map[string]float64{
		`{"power": 42}`:                 42,
		`{"watts": "12.5"}`:             12.5,
		`{"value": 7}`:                  7,
		`{"power": 3, "value": 9}`:      3,
		`{"valueWh": null, "watts": 5}`: 5,
		`{"voltage": 230}`:              0,
		`88`:                            88,
	}
	for payload, want := range cases {
		f := newFixture()
		require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/reading", []byte(payload)), payload)
		require.Len(t, f.energy.readings, 1, payload)
		assert.Equal(t, want, f.energy.readings[0].ValueWh, payload)
	}
}

func TestEnergyNonNumericIsDropped(t *testing.T) {
	for _, payload := range []string{`{"valueWh":"lots"}`, `{"valueWh":1,"current":"x"}`, `not-json`, `{"power":true}`} {
		f := newFixture()
		err := f.bridge.Handle(context.Background(), "devices/light-101/energy", []byte(payload))
		require.ErrorIs(t, err, ErrParse, payload)
		assert.Empty(t, f.energy.readings, payload)
		assert.Empty(t, f.notifier.events, payload)
	}
}

func TestEnergyNonFiniteIsDropped(t *testing.T) {
	for _, payload := range []string{`{"valueWh":"NaN"}`, `{"power":"Inf"}`, `{"valueWh":1,"voltage":"-Infinity"}`, `NaN`} {
		f := newFixture()
		err := f.bridge.Handle(context.Background(), "devices/light-101/energy", []byte(payload))
		require.ErrorIs(t, err, ErrParse, payload)
		assert.Empty(t, f.energy.readings, payload)
		assert.Empty(t, f.sink.readings, payload)
		assert.Empty(t, f.notifier.events, payload)
	}
}

func TestUnresolvedTopicIsForwardedRaw(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Handle(context.Background(), "devices/unknown-xyz/status", []byte(`{"status":"ON"}`)))

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventMQTTRaw, f.notifier.events[0].name)
	raw := f.notifier.events[0].payload.(RawEvent)
	assert.Equal(t, "devices/unknown-xyz/status", raw.Topic)
	assert.Empty(t, raw.DeviceID)
	assert.Equal(t, map[string]any{"status": "ON"}, raw.Payload)
	assert.Equal(t, 1, f.recorder["raw/unresolved"])
}

func TestUnknownSuffixIsForwardedWithDevice(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Handle(context.Background(), "devices/light-101/battery", []byte("77")))

	require.Len(t, f.notifier.events, 1)
	raw := f.notifier.events[0].payload.(RawEvent)
	assert.Equal(t, "dev-1", raw.DeviceID)
	assert.Empty(t, f.energy.readings)
}

func TestStoreFailureSuppressesNotification(t *testing.T) {
	f := newFixture()
	f.energy.err = errors.New("disk full")

	err := f.bridge.Handle(context.Background(), "devices/light-101/energy", []byte(`{"valueWh":1}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrParse)
	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.sink.readings)

	// a device removed after resolution is also an error, not a notification
	err = f.bridge.Handle(context.Background(), "devices/ghost/status", []byte("ON"))
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.notifier.events)
}

func TestHandleMessageNeverPanics(t *testing.T) {
	f := newFixture()
	assert.NotPanics(t, func() {
		f.bridge.HandleMessage("devices/light-101/energy", []byte(`{"valueWh":`))
		f.bridge.HandleMessage("devices/light-101/status", nil)
	})
	assert.Empty(t, f.energy.readings)
}

func TestClassify(t *testing.T) {
	cases := map[string]kind{
		"devices/light-101/status":     kindStatus,
		"devices/light-101/online":     kindOnline,
		"devices/light-101/energy":     kindEnergy,
		"devices/light-101/reading":    kindEnergy,
		"devices/light-101/battery":    kindRaw,
		"devices/light-101/laststatus": kindRaw,
		"status":                       kindRaw,
	}
	for topic, want := range cases {
		assert.Equal(t, want, classify(topic), topic)
	}
}
