package litestore

import (
	"encoding/json"
	"time"

	"buildingops/internal/models"

	"gorm.io/datatypes"
)

type deviceRecord struct {
	ID          string  `gorm:"primaryKey"`
	Name        string  `gorm:"not null"`
	RoomID      *string `gorm:"index"`
	Type        string  `gorm:"not null"`
	Status      string  `gorm:"not null;default:OFF"`
	MQTTTopic   string  `gorm:"column:mqtt_topic;not null;uniqueIndex"`
	PowerRating *float64
	Metadata    datatypes.JSON `gorm:"not null"`
	LastSeen    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (deviceRecord) TableName() string { return "devices" }

func deviceFromModel(d *models.Device) deviceRecord {
	metadata := datatypes.JSON(d.Metadata)
	if len(metadata) == 0 {
		metadata = datatypes.JSON("{}")
	}
	return deviceRecord{
		ID:          d.ID,
		Name:        d.Name,
		RoomID:      d.RoomID,
		Type:        string(d.Type),
		Status:      string(d.Status),
		MQTTTopic:   d.MQTTTopic,
		PowerRating: d.PowerRating,
		Metadata:    metadata,
		LastSeen:    utcPtr(d.LastSeen),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func (r deviceRecord) toModel() models.Device {
	return models.Device{
		ID:          r.ID,
		Name:        r.Name,
		RoomID:      r.RoomID,
		Type:        models.DeviceType(r.Type),
		Status:      models.DeviceStatus(r.Status),
		MQTTTopic:   r.MQTTTopic,
		PowerRating: r.PowerRating,
		Metadata:    json.RawMessage(r.Metadata),
		LastSeen:    utcPtr(r.LastSeen),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type energyRecord struct {
	ID       string  `gorm:"primaryKey"`
	DeviceID string  `gorm:"not null;index:idx_energy_device_ts,priority:1"`
	ValueWh  float64 `gorm:"column:value_wh;not null"`
	Voltage  *float64
	Current  *float64
	TS       time.Time `gorm:"column:ts;not null;index:idx_energy_device_ts,priority:2;index:idx_energy_ts"`
}

func (energyRecord) TableName() string { return "energy_readings" }

func (r energyRecord) toModel() models.EnergyReading {
	return models.EnergyReading{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		ValueWh:   r.ValueWh,
		Voltage:   r.Voltage,
		Current:   r.Current,
		Timestamp: r.TS.UTC(),
	}
}

type automationRecord struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description *string
	TriggerType string `gorm:"not null;index:idx_automations_enabled_trigger,priority:2"`
	Cron        *string
	Condition   *string
	Action      string `gorm:"not null"`
	Enabled     bool   `gorm:"not null;index:idx_automations_enabled_trigger,priority:1"`
	LastRunAt   *time.Time
	CreatorID   *string `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (automationRecord) TableName() string { return "automations" }

func automationFromModel(a *models.Automation) automationRecord {
	return automationRecord{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		TriggerType: string(a.TriggerType),
		Cron:        a.Cron,
		Condition:   a.Condition,
		Action:      a.Action,
		Enabled:     a.Enabled,
		LastRunAt:   utcPtr(a.LastRunAt),
		CreatorID:   a.CreatorID,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (r automationRecord) toModel() models.Automation {
	return models.Automation{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		TriggerType: models.TriggerType(r.TriggerType),
		Cron:        r.Cron,
		Condition:   r.Condition,
		Action:      r.Action,
		Enabled:     r.Enabled,
		LastRunAt:   utcPtr(r.LastRunAt),
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type historyRecord struct {
	ID           string    `gorm:"primaryKey"`
	AutomationID string    `gorm:"not null;index:idx_history_automation_ts,priority:1"`
	TS           time.Time `gorm:"column:ts;not null;index:idx_history_automation_ts,priority:2"`
	Success      bool      `gorm:"not null"`
	Log          string    `gorm:"not null;default:''"`
}

func (historyRecord) TableName() string { return "automation_history" }

func (r historyRecord) toModel() models.AutomationHistory {
	return models.AutomationHistory{
		ID:           r.ID,
		AutomationID: r.AutomationID,
		Timestamp:    r.TS.UTC(),
		Success:      r.Success,
		Log:          r.Log,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
