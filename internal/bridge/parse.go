package bridge

import (
	"errors"
	"fmt"

	"buildingops/internal/models"
	"buildingops/internal/utils"
)

// ErrParse marks an inbound payload that cannot be applied
var ErrParse = errors.New("unparseable payload")

var energyValueKeys = []string{"valueWh", "power", "watts", "value"}

func parseStatus(payload any) (models.DeviceStatus, error) {
	raw := payload
	if obj, ok := payload.(map[string]any); ok {
		v, present := obj["status"]
		if !present || v == nil {
			return "", fmt.Errorf("%w: object without status field", ErrParse)
		}
		raw = v
	}
	s, ok := utils.Scalar(raw)
	if !ok {
		return "", fmt.Errorf("%w: status is not a scalar", ErrParse)
	}
	status, ok := models.ParseDeviceStatus(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrParse, s)
	}
	return status, nil
}

func parseOnline(payload any) bool {
	if obj, ok := payload.(map[string]any); ok {
		return utils.Truthy(obj["online"])
	}
	return utils.Truthy(payload)
}

type energyFields struct {
	valueWh float64
	voltage *float64
	current *float64
}

func parseEnergy(payload any) (energyFields, error) {
	var out energyFields
	obj, ok := payload.(map[string]any)
	if !ok {
		// bare numeric payloads carry the watt-hours directly
		v, err := utils.ToFloat(payload)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrParse, err)
		}
		out.valueWh = v
		return out, nil
	}

	for _, key := range energyValueKeys {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		f, err := utils.ToFloat(v)
		if err != nil {
			return out, fmt.Errorf("%w: %s: %v", ErrParse, key, err)
		}
		out.valueWh = f
		break
	}

	var err error
	if out.voltage, err = optionalFloat(obj, "voltage"); err != nil {
		return out, err
	}
	if out.current, err = optionalFloat(obj, "current"); err != nil {
		return out, err
	}
	return out, nil
}

func optionalFloat(obj map[string]any, key string) (*float64, error) {
	v, present := obj[key]
	if !present || v == nil {
		return nil, nil
	}
	f, err := utils.ToFloat(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, key, err)
	}
	return &f, nil
}
