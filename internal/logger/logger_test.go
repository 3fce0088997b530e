package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keepDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInit_Std(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	l := Init(Config{Env: EnvDev, Service: "svc", Version: "1.2.3", Output: &buf})

	l.Info("room joined", "room", "R")
	slog.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "room joined")
	assert.Contains(t, out, "service=svc")
	assert.Contains(t, out, "version=1.2.3")
	assert.Contains(t, out, "room=R")
	assert.Contains(t, out, "instance_id=")
	assert.NotContains(t, out, "hidden")
}

func TestInit_StdDebug(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	Init(Config{Env: EnvDev, Debug: true, Output: &buf})

	slog.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestInit_Zap(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	Init(Config{Env: EnvProd, Service: "svc", InstanceID: "host-1", Output: &buf})

	slog.Warn("store unavailable", "room", "R")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "store unavailable", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "host-1", rec["instance_id"])
	assert.Equal(t, "R", rec["room"])
}

func TestParseEnv(t *testing.T) {
	assert.Equal(t, EnvProd, ParseEnv("Production"))
	assert.Equal(t, EnvStage, ParseEnv("staging"))
	assert.Equal(t, EnvDev, ParseEnv(""))
	assert.Equal(t, EnvDev, ParseEnv("local"))
}
