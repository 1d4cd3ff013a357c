package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type ActionType string

const (
	ActionMQTT         ActionType = "mqtt"
	ActionHTTP         ActionType = "http"
	ActionNotification ActionType = "notification"
)

// Action is the side effect an automation performs when it fires.
type Action struct {
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Type    ActionType      `json:"type,omitempty"`
	QoS     *byte           `json:"qos,omitempty"`
	Retain  bool            `json:"retain,omitempty"`
}

const actionSchemaSource = `{
	"type": "object",
	"properties": {
		"topic":   {"type": "string", "minLength": 1},
		"payload": true,
		"type":    {"type": "string"},
		"qos":     {"type": "integer", "minimum": 0, "maximum": 2},
		"retain":  {"type": "boolean"}
	}
}`

var actionSchema = jsonschema.MustCompileString("action.json", actionSchemaSource)

func decodeJSON(raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, validationf("action is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, validationf("action is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, validationf("action has trailing data")
	}
	return v, nil
}

// decodeAction parses a stored action into an object, unwrapping a JSON
// string that itself holds an encoded object.
func decodeAction(raw []byte) (map[string]any, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		inner := strings.TrimSpace(s)
		if !strings.HasPrefix(inner, "{") {
			return nil, validationf("action string does not hold a JSON object")
		}
		return decodeAction([]byte(inner))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, validationf("action must be a JSON object, got %T", v)
	}
	return obj, nil
}

// toAction keeps the known keys of obj; anything else is dropped.
func toAction(obj map[string]any) (Action, error) {
	encoded, err := json.Marshal(obj)
	if err != nil {
		return Action{}, validationf("action: %v", err)
	}
	var a Action
	if err := json.Unmarshal(encoded, &a); err != nil {
		return Action{}, validationf("action: %v", err)
	}
	a.Type = ActionType(strings.ToLower(strings.TrimSpace(string(a.Type))))
	return a, nil
}

// NormalizeAction accepts an action as submitted by a client and returns
// its stored form. Objects, and strings holding an encoded object, are
// checked and reduced to the known keys. Any other string is opaque text and
// is stored as is.
func NormalizeAction(raw json.RawMessage) (string, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		inner := strings.TrimSpace(s)
		switch {
		case inner == "":
			return "", validationf("action is required")
		case !strings.HasPrefix(inner, "{"):
			return inner, nil
		}
		if v, err = decodeJSON([]byte(inner)); err != nil {
			return "", err
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", validationf("action must be an object or a string")
	}
	if err := actionSchema.Validate(obj); err != nil {
		return "", validationf("action: %v", err)
	}
	a, err := toAction(obj)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode action: %w", err)
	}
	return string(out), nil
}

// ParseAction decodes a stored action. It only requires a JSON object;
// unknown keys are ignored.
func ParseAction(stored string) (Action, error) {
	obj, err := decodeAction([]byte(stored))
	if err != nil {
		return Action{}, err
	}
	return toAction(obj)
}

// PublishPayload returns what goes on the wire: an empty object when no
// payload is set, a JSON string verbatim, anything else as JSON.
func (a Action) PublishPayload() any {
	p := bytes.TrimSpace(a.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return json.RawMessage("{}")
	}
	var s string
	if p[0] == '"' && json.Unmarshal(p, &s) == nil {
		return s
	}
	return json.RawMessage(p)
}

// Present returns the stored action as a JSON value for API responses. A
// value that no longer decodes is returned as the raw string.
func Present(stored string) any {
	if obj, err := decodeAction([]byte(stored)); err == nil {
		return obj
	}
	return stored
}
