package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"buildingops/internal/models"
	"buildingops/internal/mqtt"
	"buildingops/internal/utils"

	"github.com/google/uuid"
)

const (
	EventDeviceStatus = "device.status"
	EventDeviceOnline = "device.online"
)

var topicPattern = regexp.MustCompile(`^[-\w/]+$`)

// DeviceStore persists devices
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	ListDevices(ctx context.Context, f models.DeviceFilter) ([]models.Device, error)
	UpdateDevice(ctx context.Context, d *models.Device) error
	DeleteDevice(ctx context.Context, id string) error
	UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus, seenAt time.Time) (*models.Device, error)
	TouchDevice(ctx context.Context, id string, seenAt time.Time) (*models.Device, error)
}

// Publisher sends device commands
type Publisher interface {
	Publish(topic string, payload any, opts ...mqtt.PublishOptions) error
	IsConnected() bool
}

// Notifier relays device changes to observers
type Notifier interface {
	Broadcast(event string, payload any)
}

// TopicInvalidator drops cached topic resolutions, either everything a
// device owns or a single topic about to be claimed by a device.
type TopicInvalidator interface {
	InvalidateDevice(ctx context.Context, deviceID string) error
	InvalidateTopic(ctx context.Context, topic string) error
}

// DeviceInput carries device fields from a client. On update nil fields
// are left unchanged.
type DeviceInput struct {
	Name        *string
	RoomID      *string
	Type        *models.DeviceType
	Status      *models.DeviceStatus
	MQTTTopic   *string
	PowerRating *float64
	Metadata    json.RawMessage
}

// DeviceView is a device with its derived online flag
type DeviceView struct {
	models.Device
	Online bool `json:"online"`
}

// CommandResult reports what a device command did
type CommandResult struct {
	Topic     string `json:"topic"`
	Delivered bool   `json:"delivered"`
}

type DeviceService struct {
	store     DeviceStore
	publisher Publisher
	notifier  Notifier
	cache     TopicInvalidator
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeviceService wires the device service. publisher, notifier and cache
// are optional.
func NewDeviceService(store DeviceStore, publisher Publisher, notifier Notifier, cache TopicInvalidator, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		cache:     cache,
		now:       time.Now,
		logger:    utils.Component(logger, "devices"),
	}
}

// View derives the online flag at the current time
func (s *DeviceService) View(d models.Device) DeviceView {
	return DeviceView{Device: d, Online: models.IsOnline(d.LastSeen, s.now(), models.OnlineWindow)}
}

func (s *DeviceService) Views(list []models.Device) []DeviceView {
	out := make([]DeviceView, 0, len(list))
	for _, d := range list {
		out = append(out, s.View(d))
	}
	return out
}

func (s *DeviceService) Create(ctx context.Context, in DeviceInput) (*models.Device, error) {
	now := s.now().UTC()
	d := &models.Device{
		ID:        uuid.NewString(),
		Status:    models.DeviceStatusOff,
		Metadata:  json.RawMessage("{}"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyDeviceInput(d, in); err != nil {
		return nil, err
	}
	if err := checkDevice(d); err != nil {
		return nil, err
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	s.claimTopic(ctx, d.MQTTTopic)
	s.logger.Info("DEVICES: created", "id", d.ID, "topic", d.MQTTTopic)
	return d, nil
}

func (s *DeviceService) Get(ctx context.Context, id string) (*models.Device, error) {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	return d, nil
}

func (s *DeviceService) List(ctx context.Context, f models.DeviceFilter) ([]models.Device, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, f.Status)
	}
	return s.store.ListDevices(ctx, f)
}

// Update writes the descriptive fields. A status change goes through
// UpdateStatus so it stamps lastSeen and is broadcast like a bridge update.
func (s *DeviceService) Update(ctx context.Context, id string, in DeviceInput) (*models.Device, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldTopic := d.MQTTTopic
	if err := applyDeviceInput(d, in); err != nil {
		return nil, err
	}
	if err := checkDevice(d); err != nil {
		return nil, err
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDevice(ctx, d); err != nil {
		return nil, fmt.Errorf("update device %s: %w", id, err)
	}
	if d.MQTTTopic != oldTopic {
		s.invalidate(ctx, id)
		s.claimTopic(ctx, d.MQTTTopic)
	}
	if in.Status != nil {
		return s.UpdateStatus(ctx, id, *in.Status)
	}
	return s.Get(ctx, id)
}

func (s *DeviceService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	s.logger.Info("DEVICES: deleted", "id", id)
	return nil
}

// UpdateStatus sets the status, stamps lastSeen and notifies observers.
func (s *DeviceService) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) (*models.Device, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	now := s.now().UTC()
	d, err := s.store.UpdateDeviceStatus(ctx, id, status, now)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	s.broadcast(EventDeviceStatus, map[string]any{"deviceId": id, "status": status, "timestamp": now})
	return d, nil
}

// MarkSeen stamps lastSeen, which makes the device online for the next
// OnlineWindow.
func (s *DeviceService) MarkSeen(ctx context.Context, id string) (*models.Device, error) {
	now := s.now().UTC()
	d, err := s.store.TouchDevice(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	s.broadcast(EventDeviceOnline, map[string]any{"deviceId": id, "online": true, "timestamp": now})
	return d, nil
}

// SendCommand publishes payload to the device's <topic>/set.
func (s *DeviceService) SendCommand(ctx context.Context, id string, payload json.RawMessage) (*CommandResult, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return nil, fmt.Errorf("device commands are not available: no transport")
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: command payload is not valid JSON", models.ErrValidation)
	}

	topic := d.MQTTTopic + "/set"
	var body any = payload
	var text string
	if payload[0] == '"' && json.Unmarshal(payload, &text) == nil {
		body = text
	}
	if err := s.publisher.Publish(topic, body); err != nil {
		return nil, fmt.Errorf("publish command: %w", err)
	}
	delivered := s.publisher.IsConnected()
	s.logger.Info("DEVICES: command sent", "id", id, "topic", topic, "delivered", delivered)
	return &CommandResult{Topic: topic, Delivered: delivered}, nil
}

func (s *DeviceService) Stats(ctx context.Context) (*models.DeviceStats, error) {
	all, err := s.store.ListDevices(ctx, models.DeviceFilter{})
	if err != nil {
		return nil, err
	}
	stats := &models.DeviceStats{
		ByStatus: make(map[string]int, len(models.DeviceStatuses)),
		ByType:   make(map[string]int, len(models.DeviceTypes)),
	}
	for _, st := range models.DeviceStatuses {
		stats.ByStatus[strings.ToLower(string(st))] = 0
	}
	for _, t := range models.DeviceTypes {
		stats.ByType[string(t)] = 0
	}
	now := s.now()
	for _, d := range all {
		stats.Total++
		if models.IsOnline(d.LastSeen, now, models.OnlineWindow) {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.ByStatus[strings.ToLower(string(d.Status))]++
		stats.ByType[string(d.Type)]++
	}
	return stats, nil
}

func (s *DeviceService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDevice(ctx, id); err != nil {
		s.logger.Warn("DEVICES: topic cache invalidation failed", "id", id, "error", err)
	}
}

// claimTopic drops a cached parent-topic resolution of topic so the exact
// match wins from now on.
func (s *DeviceService) claimTopic(ctx context.Context, topic string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTopic(ctx, topic); err != nil {
		s.logger.Warn("DEVICES: topic cache invalidation failed", "topic", topic, "error", err)
	}
}

func (s *DeviceService) broadcast(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

func applyDeviceInput(d *models.Device, in DeviceInput) error {
	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
	}
	if in.RoomID != nil {
		room := strings.TrimSpace(*in.RoomID)
		if room == "" {
			d.RoomID = nil
		} else {
			d.RoomID = &room
		}
	}
	if in.Type != nil {
		d.Type = *in.Type
	}
	if in.Status != nil {
		d.Status = *in.Status
	}
	if in.MQTTTopic != nil {
		d.MQTTTopic = strings.TrimSpace(*in.MQTTTopic)
	}
	if in.PowerRating != nil {
		d.PowerRating = in.PowerRating
	}
	if len(in.Metadata) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(in.Metadata, &obj); err != nil || obj == nil {
			return fmt.Errorf("%w: metadata must be a JSON object", models.ErrValidation)
		}
		d.Metadata = in.Metadata
	}
	return nil
}

func checkDevice(d *models.Device) error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", models.ErrValidation)
	case !d.Type.Valid():
		return fmt.Errorf("%w: unknown device type %q", models.ErrValidation, d.Type)
	case !d.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, d.Status)
	case !topicPattern.MatchString(d.MQTTTopic):
		return fmt.Errorf("%w: mqttTopic %q must match %s", models.ErrValidation, d.MQTTTopic, topicPattern)
	case d.PowerRating != nil && *d.PowerRating < 0:
		return fmt.Errorf("%w: powerRating must not be negative", models.ErrValidation)
	}
	return nil
}
