package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/sessionkit/config"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracerFromProvider(tp, "test"), rec
}

func attrs(kv []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kv))
	for _, a := range kv {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

// --- Unit Tests ---

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	require.NotNil(t, tr)

	_, span := tr.StartSpan(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestSetGlobalTracer(t *testing.T) {
	tr, _ := newRecordingTracer(t)
	SetGlobalTracer(tr)
	defer SetGlobalTracer(nil)
	require.Same(t, tr, GetTracer())
}

func TestRequestSpan(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   codes.Code
	}{
		{"success", 200, nil, codes.Ok},
		{"server error", 503, errors.New("unavailable"), codes.Error},
		{"no response", 0, errors.New("connection refused"), codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec := newRecordingTracer(t)

			_, span := tr.StartRequestSpan(context.Background(), "POST", "users/heartbeat")
			tr.EndRequestSpan(span, tt.status, tt.err)

			spans := rec.Ended()
			require.Len(t, spans, 1)
			s := spans[0]
			require.Equal(t, "POST users/heartbeat", s.Name())
			require.Equal(t, trace.SpanKindClient, s.SpanKind())
			require.Equal(t, tt.want, s.Status().Code)

			got := attrs(s.Attributes())
			require.Equal(t, "POST", got["http.method"])
			require.Equal(t, "users/heartbeat", got["http.route"])
			if tt.status > 0 {
				require.Equal(t, strconv.Itoa(tt.status), got["http.status_code"])
			} else {
				require.NotContains(t, got, "http.status_code")
			}
			if tt.err != nil {
				require.Len(t, s.Events(), 1)
			}
		})
	}
}

func TestRecordLogout(t *testing.T) {
	tr, rec := newRecordingTracer(t)
	tr.RecordLogout(context.Background(), "admin", 30)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "session.logout", spans[0].Name())
	got := attrs(spans[0].Attributes())
	require.Equal(t, "admin", got["session.role"])
	require.Equal(t, "inactivity", got["session.reason"])
	require.Equal(t, "30", got["session.timeout_minutes"])
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	_, err := InitProvider(context.Background(), config.TelemetryConfig{Protocol: config.ProtocolGRPC}, Tab{ID: "tab-a"})
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestNewExporter_UnknownProtocol(t *testing.T) {
	_, err := newExporter(context.Background(), config.TelemetryConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "udp")
}

func TestTab_Attributes(t *testing.T) {
	got := attrs(Tab{ID: "tab-a", StoreBackend: "nats", Route: "/admin/settings", Version: "1.2.0"}.attributes())
	require.Equal(t, map[string]string{
		"service.name":             ServiceName,
		"service.version":          "1.2.0",
		"service.instance.id":      "tab-a",
		"sessionkit.store.backend": "nats",
		"sessionkit.route":         "/admin/settings",
	}, got)

	// Empty fields are omitted.
	require.Equal(t, map[string]string{"service.name": ServiceName}, attrs(Tab{}.attributes()))
}

func TestInject_WritesTraceparent(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tr, _ := newRecordingTracer(t)
	ctx, span := tr.StartRequestSpan(context.Background(), "POST", "users/heartbeat")
	defer span.End()

	header := http.Header{}
	Inject(ctx, header)
	tp := header.Get("traceparent")
	require.NotEmpty(t, tp)
	require.Contains(t, tp, span.SpanContext().TraceID().String())
}
