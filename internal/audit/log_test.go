package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hemicycle.org/internal/obs"
)

func captureAudit(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewJSONLogger(&buf, false))
	t.Cleanup(func() { obs.SetLogger(prev) })
	return &buf
}

func TestLogEventCarriesContext(t *testing.T) {
	buf := captureAudit(t)

	ctx := WithActor(WithRequestID(context.Background(), " req-123 "), "10.0.0.7")
	require.NoError(t, LogEvent(ctx, "refresh.trigger", map[string]any{"outcome": "started"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["msg"])
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "refresh.trigger", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "10.0.0.7", entry["actor"])
	assert.Equal(t, map[string]any{"outcome": "started"}, entry["fields"])
}

func TestLogEventOmitsBlankContext(t *testing.T) {
	buf := captureAudit(t)

	ctx := WithActor(WithRequestID(context.Background(), "  "), "")
	require.NoError(t, LogEvent(ctx, "refresh.trigger", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "request_id")
	assert.NotContains(t, entry, "actor")
	assert.Equal(t, map[string]any{}, entry["fields"])
}

func TestLogEventRequiresName(t *testing.T) {
	buf := captureAudit(t)
	require.Error(t, LogEvent(context.Background(), "  ", nil))
	assert.Zero(t, buf.Len())
}
