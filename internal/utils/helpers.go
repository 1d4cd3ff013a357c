package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeLoose parses a payload as JSON and falls back to the trimmed raw string
// when it is not valid JSON. Numbers decode as json.Number.
func DecodeLoose(payload []byte) any {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(trimmed)
	}
	return v
}

// ToFloat coerces a decoded value into a finite float64.
// Numeric strings are accepted; booleans, objects, empty strings, NaN and
// infinities are not.
func ToFloat(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value %v is not a finite number", v)
	}
	return f, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, fmt.Errorf("empty numeric value")
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// Truthy interprets the on/off conventions devices use: true, "true", "1", 1.
func Truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		f, err := b.Float64()
		return err == nil && f == 1
	case float64:
		return b == 1
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "1"
	default:
		return false
	}
}

// Scalar renders a decoded scalar as a string; ok is false for objects and arrays.
func Scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

// ParentTopic strips the last "/" segment of a topic.
func ParentTopic(topic string) (string, bool) {
	i := strings.LastIndex(topic, "/")
	if i <= 0 {
		return "", false
	}
	return topic[:i], true
}

// TopicSuffix returns the last "/" segment of a topic
func TopicSuffix(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}
