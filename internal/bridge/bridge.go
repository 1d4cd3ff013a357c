// Package bridge applies inbound device telemetry to the device and energy
// stores and relays every applied change to observers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"buildingops/internal/models"
	"buildingops/internal/utils"

	"github.com/google/uuid"
)

const handleTimeout = 30 * time.Second

// Resolver maps a topic to the device that owns it
type Resolver interface {
	Resolve(ctx context.Context, topic string) (string, bool, error)
}

// DeviceStore applies atomic single-device updates.
type DeviceStore interface {
	UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus, seenAt time.Time) (*models.Device, error)
	TouchDevice(ctx context.Context, id string, seenAt time.Time) (*models.Device, error)
}

// EnergyStore appends energy readings
type EnergyStore interface {
	CreateEnergyReading(ctx context.Context, r *models.EnergyReading) error
}

// Notifier relays events to observers
type Notifier interface {
	Broadcast(event string, payload any)
}

// EnergySink mirrors readings to an external time-series store.
type EnergySink interface {
	WriteEnergy(r models.EnergyReading)
}

// Recorder counts processed messages by kind and outcome
type Recorder interface {
	BridgeMessage(kind, result string)
}

// Deps wires a Bridge. Sink, Recorder, Logger and Now are optional.
type Deps struct {
	Resolver Resolver
	Devices  DeviceStore
	Energy   EnergyStore
	Notifier Notifier
	Sink     EnergySink
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

type Bridge struct {
	resolver Resolver
	devices  DeviceStore
	energy   EnergyStore
	notifier Notifier
	sink     EnergySink
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a bridge
func New(d Deps) *Bridge {
	b := &Bridge{
		resolver: d.Resolver,
		devices:  d.Devices,
		energy:   d.Energy,
		notifier: d.Notifier,
		sink:     d.Sink,
		recorder: d.Recorder,
		logger:   utils.Component(d.Logger, "bridge"),
		now:      d.Now,
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

type kind string

const (
	kindStatus kind = "status"
	kindOnline kind = "online"
	kindEnergy kind = "energy"
	kindRaw    kind = "raw"
)

func classify(topic string) kind {
	if !strings.Contains(topic, "/") {
		return kindRaw
	}
	switch utils.TopicSuffix(topic) {
	case "status":
		return kindStatus
	case "online":
		return kindOnline
	case "energy", "reading":
		return kindEnergy
	default:
		return kindRaw
	}
}

// HandleMessage is the transport's inbound dispatch target. It never fails:
// problems are logged and the message is dropped.
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := b.Handle(ctx, topic, payload); err != nil {
		if errors.Is(err, ErrParse) {
			b.logger.Warn("BRIDGE: dropping malformed message", "topic", topic, "error", err)
			return
		}
		b.logger.Error("BRIDGE: failed to apply message", "topic", topic, "error", err)
	}
}

// Handle classifies one message and applies it. Unresolved topics and
// unknown suffixes are forwarded as raw events and are not errors.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) error {
	parsed := utils.DecodeLoose(payload)
	b.logger.Debug("BRIDGE: message", "topic", topic, "bytes", len(payload))

	deviceID, found, err := b.resolver.Resolve(ctx, topic)
	if err != nil {
		b.record(kindRaw, "error")
		return err
	}
	if !found {
		b.logger.Warn("BRIDGE: no device for topic", "topic", topic)
		b.notifier.Broadcast(EventMQTTRaw, RawEvent{Topic: topic, Payload: parsed})
		b.record(kindRaw, "unresolved")
		return nil
	}

	k := classify(topic)
	switch k {
	case kindStatus:
		err = b.applyStatus(ctx, deviceID, parsed)
	case kindOnline:
		err = b.applyOnline(ctx, deviceID, parsed)
	case kindEnergy:
		err = b.applyEnergy(ctx, deviceID, parsed)
	default:
		b.notifier.Broadcast(EventMQTTRaw, RawEvent{Topic: topic, Payload: parsed, DeviceID: deviceID})
		b.record(kindRaw, "forwarded")
		return nil
	}

	switch {
	case err == nil:
		b.record(k, "applied")
	case errors.Is(err, ErrParse):
		b.record(k, "dropped")
	default:
		b.record(k, "error")
	}
	return err
}

func (b *Bridge) applyStatus(ctx context.Context, deviceID string, payload any) error {
	status, err := parseStatus(payload)
	if err != nil {
		return err
	}
	now := b.now()
	device, err := b.devices.UpdateDeviceStatus(ctx, deviceID, status, now)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", deviceID, err)
	}
	b.notifier.Broadcast(EventDeviceStatus, StatusEvent{DeviceID: device.ID, Status: device.Status, Timestamp: now})
	b.logger.Debug("BRIDGE: status updated", "device_id", deviceID, "status", status)
	return nil
}

func (b *Bridge) applyOnline(ctx context.Context, deviceID string, payload any) error {
	online := parseOnline(payload)
	now := b.now()
	device, err := b.devices.TouchDevice(ctx, deviceID, now)
	if err != nil {
		return fmt.Errorf("stamp last seen of %s: %w", deviceID, err)
	}
	b.notifier.Broadcast(EventDeviceOnline, OnlineEvent{DeviceID: device.ID, Online: online, Timestamp: now})
	b.logger.Debug("BRIDGE: online report", "device_id", deviceID, "online", online)
	return nil
}

func (b *Bridge) applyEnergy(ctx context.Context, deviceID string, payload any) error {
	fields, err := parseEnergy(payload)
	if err != nil {
		return err
	}
	now := b.now()
	reading := models.EnergyReading{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		ValueWh:   fields.valueWh,
		Voltage:   fields.voltage,
		Current:   fields.current,
		Timestamp: now,
	}
	if err := b.energy.CreateEnergyReading(ctx, &reading); err != nil {
		return fmt.Errorf("store energy reading for %s: %w", deviceID, err)
	}
	b.notifier.Broadcast(EventEnergyReading, EnergyEvent{DeviceID: deviceID, Reading: reading, Timestamp: now})
	if b.sink != nil {
		b.sink.WriteEnergy(reading)
	}
	b.logger.Debug("BRIDGE: energy reading stored", "device_id", deviceID, "value_wh", reading.ValueWh)
	return nil
}

func (b *Bridge) record(k kind, result string) {
	if b.recorder != nil {
		b.recorder.BridgeMessage(string(k), result)
	}
}
