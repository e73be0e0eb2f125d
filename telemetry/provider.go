package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vinayprograms/sessionkit/config"
)

// ServiceName is the service name stamped on every exported span.
const ServiceName = "sessionkit"

// Resource attribute keys describing the exporting tab.
const (
	AttrTabID        = attribute.Key("service.instance.id")
	AttrStoreBackend = attribute.Key("sessionkit.store.backend")
	AttrRoute        = attribute.Key("sessionkit.route")
)

// ErrNoEndpoint is returned when tracing is requested without an endpoint.
var ErrNoEndpoint = errors.New("telemetry endpoint not configured")

// Tab identifies the tab whose spans a Provider exports.
type Tab struct {
	ID           string
	StoreBackend string
	Route        string
	Version      string
}

func (t Tab) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(ServiceName)}
	if t.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(t.Version))
	}
	if t.ID != "" {
		attrs = append(attrs, AttrTabID.String(t.ID))
	}
	if t.StoreBackend != "" {
		attrs = append(attrs, AttrStoreBackend.String(t.StoreBackend))
	}
	if t.Route != "" {
		attrs = append(attrs, AttrRoute.String(t.Route))
	}
	return attrs
}

// Provider owns the SDK tracer provider exporting one tab's spans.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider exports spans for tab to the OTLP collector named in cfg
// and installs the result as the global tracer and propagator.
func InitProvider(ctx context.Context, cfg config.TelemetryConfig, tab Tab) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, tab.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tracer := NewTracerFromProvider(tp, ServiceName)
	SetGlobalTracer(tracer)
	return &Provider{tp: tp, tracer: tracer}, nil
}

// newExporter dials the collector over the configured protocol. An
// endpoint with a scheme is taken as a URL, otherwise as host:port.
func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	isURL := strings.Contains(cfg.Endpoint, "://")

	switch cfg.Protocol {
	case "", config.ProtocolGRPC:
		var opts []otlptracegrpc.Option
		if isURL {
			opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp grpc exporter: %w", err)
		}
		return exp, nil

	case config.ProtocolHTTP:
		var opts []otlptracehttp.Option
		if isURL {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp http exporter: %w", err)
		}
		return exp, nil

	default:
		return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
	}
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops the exporter. It matches the
// shutdown handler signature so the tab can release it last.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
