package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "hustings/pkg/platform/audit"
)

func TestEmitWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	p := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := p.Emit(context.Background(), audit.Event{
		Type:    audit.EventTallyDriftDetected,
		Subject: "nomination-1",
		Details: map[string]string{"counter": "4", "recount": "5"},
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "tally_drift_detected", line["audit_type"])
	assert.Equal(t, "security", line["category"])
	assert.Equal(t, "5", line["recount"])
}
