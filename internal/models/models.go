package models

import (
	"encoding/json"
	"strings"
	"time"
)

// OnlineWindow is how recently a device must have been seen to count as online.
const OnlineWindow = 5 * time.Minute

// DeviceType is the class of a device
type DeviceType string

const (
	DeviceTypeLight     DeviceType = "LIGHT"
	DeviceTypeAC        DeviceType = "AC"
	DeviceTypeProjector DeviceType = "PROJECTOR"
	DeviceTypeSpeaker   DeviceType = "SPEAKER"
	DeviceTypeLock      DeviceType = "LOCK"
	DeviceTypeSensor    DeviceType = "SENSOR"
	DeviceTypeOther     DeviceType = "OTHER"
)

// DeviceTypes lists every known device type
var DeviceTypes = []DeviceType{
	DeviceTypeLight, DeviceTypeAC, DeviceTypeProjector, DeviceTypeSpeaker,
	DeviceTypeLock, DeviceTypeSensor, DeviceTypeOther,
}

// Valid reports whether t is a known device type
func (t DeviceType) Valid() bool {
	for _, known := range DeviceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DeviceStatus is the operational status of a device
type DeviceStatus string

const (
	DeviceStatusOn      DeviceStatus = "ON"
	DeviceStatusOff     DeviceStatus = "OFF"
	DeviceStatusStandby DeviceStatus = "STANDBY"
	DeviceStatusError   DeviceStatus = "ERROR"
)

// DeviceStatuses lists every known device status
var DeviceStatuses = []DeviceStatus{DeviceStatusOn, DeviceStatusOff, DeviceStatusStandby, DeviceStatusError}

// Valid reports whether s is a known device status
func (s DeviceStatus) Valid() bool {
	for _, known := range DeviceStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseDeviceStatus coerces loose device reports ("on", "1", "true", "Standby") into a status.
func ParseDeviceStatus(raw string) (DeviceStatus, bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch v {
	case "1", "TRUE":
		return DeviceStatusOn, true
	case "0", "FALSE":
		return DeviceStatusOff, true
	}
	s := DeviceStatus(v)
	return s, s.Valid()
}

// Device represents a device model
type Device struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	RoomID      *string         `json:"roomId"`
	Type        DeviceType      `json:"type"`
	Status      DeviceStatus    `json:"status"`
	MQTTTopic   string          `json:"mqttTopic"`
	PowerRating *float64        `json:"powerRating"`
	Metadata    json.RawMessage `json:"metadata"`
	LastSeen    *time.Time      `json:"lastSeen"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// IsOnline derives online-ness from the last time a device reported in.
func IsOnline(lastSeen *time.Time, now time.Time, window time.Duration) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) < window
}

// DeviceFilter narrows device listings
type DeviceFilter struct {
	RoomID string
	Status DeviceStatus
}

// DeviceStats summarises the device fleet
type DeviceStats struct {
	Total    int            `json:"total"`
	Online   int            `json:"online"`
	Offline  int            `json:"offline"`
	ByStatus map[string]int `json:"byStatus"`
	ByType   map[string]int `json:"byType"`
}

// EnergyReading is one metered energy sample for a device
type EnergyReading struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	ValueWh   float64   `json:"valueWh"`
	Voltage   *float64  `json:"voltage"`
	Current   *float64  `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// EnergyQuery bounds an energy reading lookup
type EnergyQuery struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// EnergyAggregation is the rollup of a set of readings
type EnergyAggregation struct {
	TotalKwh float64  `json:"totalKwh"`
	Count    int      `json:"count"`
	AvgWh    *float64 `json:"avgWh,omitempty"`
	MaxWh    *float64 `json:"maxWh,omitempty"`
	MinWh    *float64 `json:"minWh,omitempty"`
}

// TriggerType decides what fires an automation
type TriggerType string

const (
	TriggerSchedule  TriggerType = "SCHEDULE"
	TriggerCondition TriggerType = "CONDITION"
	TriggerManual    TriggerType = "MANUAL"
)

// TriggerTypes lists every trigger type
var TriggerTypes = []TriggerType{TriggerSchedule, TriggerCondition, TriggerManual}

// Valid reports whether t is a known trigger type
func (t TriggerType) Valid() bool {
	return t == TriggerSchedule || t == TriggerCondition || t == TriggerManual
}

// Automation represents a stored automation rule. Action holds the serialized action as stored.
type Automation struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	TriggerType TriggerType `json:"triggerType"`
	Cron        *string     `json:"cron"`
	Condition   *string     `json:"condition"`
	Action      string      `json:"action"`
	Enabled     bool        `json:"enabled"`
	LastRunAt   *time.Time  `json:"lastRunAt"`
	CreatorID   *string     `json:"creatorId"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// AutomationHistory records one execution attempt
type AutomationHistory struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automationId"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	Log          string    `json:"log"`
}

// AutomationStats summarises stored automations
type AutomationStats struct {
	Total         int            `json:"total"`
	Enabled       int            `json:"enabled"`
	Disabled      int            `json:"disabled"`
	ByTriggerType map[string]int `json:"byTriggerType"`
}

// AutomationFilter narrows automation listings. Zero fields match everything.
type AutomationFilter struct {
	Enabled     *bool
	TriggerType TriggerType
	CreatorID   string
}

// EnergyScope selects readings by device or by every device in a room.
type EnergyScope struct {
	DeviceID string
	RoomID   string
}
