package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	p, err := newProvider(Config{ServiceName: "clinic-test", SampleRate: 1}, sdktrace.WithSpanProcessor(rec))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p, rec
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{SampleRate: 7}
	cfg.applyDefaults()
	if cfg.ServiceName != "clinic-server" || cfg.Environment != "development" || cfg.SampleRate != 1 {
		t.Errorf("got %+v", cfg)
	}
}

func TestInit_WithoutExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	var nilProvider *Provider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Errorf("nil shutdown: %v", err)
	}
}

func TestTracingMiddleware_NamesSpanByRoute(t *testing.T) {
	p, rec := newRecordingProvider(t)
	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/doctors/:doctor_id/slots", func(c echo.Context) error {
		if !trace.SpanContextFromContext(c.Request().Context()).IsValid() {
			t.Error("handler context carries no span")
		}
		return c.String(http.StatusOK, "[]")
	})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/doctors/abc/slots", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "HTTP GET /doctors/:doctor_id/slots" {
		t.Errorf("span name: %s", s.Name())
	}
	if v, ok := attr(s, "http.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("status attribute: %v", v)
	}
	if s.Status().Code == codes.Error {
		t.Error("successful request marked as error")
	}
	if resp.Header().Get("X-Trace-ID") != s.SpanContext().TraceID().String() {
		t.Error("trace id header missing")
	}
}

func TestTracingMiddleware_ServerErrorMarksSpan(t *testing.T) {
	p, rec := newRecordingProvider(t)
	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/boom", func(c echo.Context) error { return errors.New("db down") })
	e.GET("/conflict", func(c echo.Context) error { return echo.NewHTTPError(http.StatusConflict) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conflict", nil))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Error("500 should mark the span as error")
	}
	if spans[1].Status().Code == codes.Error {
		t.Error("409 is a client outcome, not a span error")
	}
	if v, _ := attr(spans[1], "http.status_code"); v.AsInt64() != 409 {
		t.Errorf("status attribute: %v", v)
	}
}
