package bridge

import (
	"time"

	"buildingops/internal/models"
)

// Event names relayed to observers
const (
	EventDeviceStatus  = "device.status"
	EventDeviceOnline  = "device.online"
	EventEnergyReading = "energy.reading"
	EventMQTTRaw       = "mqtt.raw"
)

type StatusEvent struct {
	DeviceID  string              `json:"deviceId"`
	Status    models.DeviceStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

type OnlineEvent struct {
	DeviceID  string    `json:"deviceId"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

type EnergyEvent struct {
	DeviceID  string               `json:"deviceId"`
	Reading   models.EnergyReading `json:"reading"`
	Timestamp time.Time            `json:"timestamp"`
}

// RawEvent carries a message the bridge did not interpret.
type RawEvent struct {
	Topic    string `json:"topic"`
	Payload  any    `json:"payload"`
	DeviceID string `json:"deviceId,omitempty"`
}
