package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "stdout tracing", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "stdout" }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordCall("H", OutcomeOK, 2*time.Millisecond, 1)
	m.RecordCall("graph_user_data", OutcomeStructuredError, time.Millisecond, 0)
	m.RecordStructuredError("NOSUCHGRAPHUSERDATA")
	m.RecordParseError("rewrite", "duplicate_element")
	m.RecordTransportFailure("disconnected")
	m.RecordFragmentDecoded("graph")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("H", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.structuredErrors.WithLabelValues("NOSUCHGRAPHUSERDATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseErrors.WithLabelValues("rewrite", "duplicate_element")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportFailures.WithLabelValues("disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fragmentsDecoded.WithLabelValues("graph")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordCall("H", OutcomeOK, time.Millisecond, 1)
		m.RecordStructuredError("X")
		m.RecordParseError("graph", "malformed")
		m.RecordTransportFailure("timeout")
		m.RecordFragmentDecoded("rule")
		m.SessionStarted()
		m.SessionEnded()
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.StartMetricsServer())
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("client").WithSessionID("s1").WithVerb("H").Debug("sent")
	out := buf.String()
	assert.Contains(t, out, `"component":"client"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"verb":"H"`)
	assert.Contains(t, out, `"message":"sent"`)

	buf.Reset()
	quiet := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	quiet.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestTelemetryContext(t *testing.T) {
	tel := NewNop()
	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))
	assert.Same(t, tel.Logger, FromContext(ctx))
	assert.Nil(t, FromTelemetryContext(context.Background()))
}

func TestSessionSpanParentsCalls(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "quanto", "test", "test")
	require.NoError(t, err)
	defer tr.Shutdown(context.Background())

	ctx, session := tr.StartSessionSpan(context.Background(), "s1")
	defer session.End()
	assert.True(t, session.SpanContext().IsSampled())
	assert.Equal(t, session.SpanContext().TraceID().String(), TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))

	_, call := tr.StartCallSpan(ctx, "H", 0)
	defer call.End()
	assert.Equal(t, session.SpanContext().TraceID(), call.SpanContext().TraceID())
	assert.NotEqual(t, session.SpanContext().SpanID(), call.SpanContext().SpanID())
}

func TestTracerDisabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{}, "quanto", "test", "test")
	require.NoError(t, err)

	_, span := tr.StartCallSpan(context.Background(), "H", 0)
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
	assert.False(t, span.IsRecording())
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestWithSessionContext(t *testing.T) {
	var buf bytes.Buffer
	tel := NewNop()
	tel.Logger = NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := WithSessionContext(tel.WithContext(context.Background()), "abc")
	FromContext(ctx).Info("hello")
	assert.True(t, strings.Contains(buf.String(), `"session_id":"abc"`))
}
