package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("unit_id", "u1").Info("hold created")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hold created", entry["msg"])
	assert.Equal(t, "u1", entry["unit_id"])
}

func TestNewLogger_Rejects(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)

	_, err = newLogger(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
