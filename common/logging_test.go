package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{JSON: true, Service: "svc", Version: "v1", Writer: &buf})

	log.Debug("hidden")
	log.Info("hello", "serial", "00008")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "svc", line["service"])
	require.Equal(t, "v1", line["version"])
	require.Equal(t, "00008", line["serial"])
}

func TestSetupLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{Debug: true, Writer: &buf})

	log.Debug("visible")
	require.Contains(t, buf.String(), "visible")
}
