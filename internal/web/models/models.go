package models

import (
	"encoding/json"

	"buildingops/internal/automation"
	domain "buildingops/internal/models"
	"buildingops/internal/services"
)

type DeviceRequest struct {
	Name        *string              `json:"name"`
	RoomID      *string              `json:"roomId"`
	Type        *domain.DeviceType   `json:"type"`
	Status      *domain.DeviceStatus `json:"status"`
	MQTTTopic   *string              `json:"mqttTopic"`
	PowerRating *float64             `json:"powerRating"`
	Metadata    json.RawMessage      `json:"metadata"`
}

func (r DeviceRequest) Input() services.DeviceInput {
	return services.DeviceInput{
		Name:        r.Name,
		RoomID:      r.RoomID,
		Type:        r.Type,
		Status:      r.Status,
		MQTTTopic:   r.MQTTTopic,
		PowerRating: r.PowerRating,
		Metadata:    r.Metadata,
	}
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type EnergyReadingRequest struct {
	DeviceID string   `json:"deviceId" binding:"required"`
	ValueWh  float64  `json:"valueWh"`
	Voltage  *float64 `json:"voltage"`
	Current  *float64 `json:"current"`
}

func (r EnergyReadingRequest) Input() services.ReadingInput {
	return services.ReadingInput{
		DeviceID: r.DeviceID,
		ValueWh:  r.ValueWh,
		Voltage:  r.Voltage,
		Current:  r.Current,
	}
}

type AddAutomationRequest struct {
	Name        string             `json:"name"`
	Description *string            `json:"description"`
	TriggerType domain.TriggerType `json:"triggerType"`
	Cron        *string            `json:"cron"`
	Condition   *string            `json:"condition"`
	Action      json.RawMessage    `json:"action"`
	Enabled     *bool              `json:"enabled"`
}

// Input builds the service input; creator is the authenticated subject.
func (r AddAutomationRequest) Input(creator string) automation.CreateInput {
	in := automation.CreateInput{
		Name:        r.Name,
		Description: r.Description,
		TriggerType: r.TriggerType,
		Cron:        r.Cron,
		Condition:   r.Condition,
		Action:      r.Action,
		Enabled:     r.Enabled,
	}
	if creator != "" {
		in.CreatorID = &creator
	}
	return in
}

type UpdateAutomationRequest struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	TriggerType *domain.TriggerType `json:"triggerType"`
	Cron        *string             `json:"cron"`
	Condition   *string             `json:"condition"`
	Action      json.RawMessage     `json:"action"`
	Enabled     *bool               `json:"enabled"`
}

func (r UpdateAutomationRequest) Input() automation.UpdateInput {
	return automation.UpdateInput{
		Name:        r.Name,
		Description: r.Description,
		TriggerType: r.TriggerType,
		Cron:        r.Cron,
		Condition:   r.Condition,
		Action:      r.Action,
		Enabled:     r.Enabled,
	}
}

type ExecuteResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	History *domain.AutomationHistory `json:"history,omitempty"`
}

type CleanupResponse struct {
	Deleted    int64 `json:"deleted"`
	DaysToKeep int   `json:"daysToKeep"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqttConnected"`
	Observers     int    `json:"observers"`
}
