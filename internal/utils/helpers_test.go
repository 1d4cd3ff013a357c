package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLoose(t *testing.T) {
	obj, ok := DecodeLoose([]byte(`{"status":"ON"}`)).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ON", obj["status"])

	assert.Equal(t, "ON", DecodeLoose([]byte("ON")))
	assert.Equal(t, "ON", DecodeLoose([]byte(`"ON"`)))
	assert.Equal(t, json.Number("42.5"), DecodeLoose([]byte("42.5")))
	assert.Equal(t, `{"broken":`, DecodeLoose([]byte(`{"broken":`)))
	assert.Equal(t, "", DecodeLoose([]byte("  ")))
	assert.Equal(t, "1 2", DecodeLoose([]byte("1 2")))
}

func TestToFloat(t *testing.T) {
	f, err := ToFloat(json.Number("150.5"))
	require.NoError(t, err)
	assert.Equal(t, 150.5, f)

	f, err = ToFloat(" 220 ")
	require.NoError(t, err)
	assert.Equal(t, 220.0, f)

	_, err = ToFloat("abc")
	assert.Error(t, err)
	_, err = ToFloat(true)
	assert.Error(t, err)
	_, err = ToFloat(map[string]any{})
	assert.Error(t, err)

	for _, v := range []any{"NaN", "inf", "-Infinity", json.Number("NaN"), math.NaN(), math.Inf(1)} {
		_, err = ToFloat(v)
		assert.Error(t, err, "%v", v)
	}
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("true"))
	assert.True(t, Truthy("1"))
	assert.True(t, Truthy(json.Number("1")))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy("yes"))
	assert.False(t, Truthy(nil))
}

func TestTopicHelpers(t *testing.T) {
	parent, ok := ParentTopic("devices/light-101/status")
	assert.True(t, ok)
	assert.Equal(t, "devices/light-101", parent)

	_, ok = ParentTopic("standalone")
	assert.False(t, ok)
	_, ok = ParentTopic("/leading")
	assert.False(t, ok)

	assert.Equal(t, "status", TopicSuffix("devices/light-101/status"))
	assert.Equal(t, "standalone", TopicSuffix("standalone"))
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"buildingops"`)
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
