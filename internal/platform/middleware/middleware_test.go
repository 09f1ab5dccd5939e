package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinic/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid, _ := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}
	RequestID()(handler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	RequestID()(func(c echo.Context) error { return nil })(c)
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a generated uuid, got %q", got)
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.New(&buf)))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), "user-7", nil)))
			return next(c)
		}
	})
	e.GET("/appointments/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/42", nil))

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	l := lines[0]
	if l["level"] != "info" || l["status"] != float64(200) || l["route"] != "/appointments/:id" || l["user_id"] != "user-7" {
		t.Errorf("unexpected log line: %v", l)
	}
	if l["request_id"] == "" {
		t.Error("request_id missing")
	}
}

func TestLogger_ErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Logger(zerolog.New(&buf)))
	e.GET("/bad", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "slot already booked")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("database unavailable")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}

	lines := logLines(t, &buf)
	if len(lines) != 2 || lines[0]["level"] != "warn" || lines[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v", lines)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "user-7", []string{auth.RolePatient}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/appointments")
	c.Set("request_id", "rid-9")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("nil calendar")
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	want := map[string]string{
		"panic":      "nil calendar",
		"route":      "/api/v1/appointments",
		"user_id":    "user-7",
		"request_id": "rid-9",
		"method":     http.MethodPost,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s: got %v, want %q", k, entry[k], v)
		}
	}
	if entry["stack"] == "" || entry["stack"] == nil {
		t.Error("stack not logged")
	}
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	Recovery(zerolog.Nop())(func(c echo.Context) error { panic(http.ErrAbortHandler) })(c) //nolint:errcheck
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		forwarded string
		wantHSTS  bool
		wantCache bool
	}{
		{"plain GET", http.MethodGet, "", false, true},
		{"proxied TLS GET", http.MethodGet, "https", true, true},
		{"proxied TLS POST", http.MethodPost, "https", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.forwarded != "" {
				req.Header.Set(echo.HeaderXForwardedProto, tt.forwarded)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
				t.Fatal(err)
			}
			expected := map[string]string{
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "DENY",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":         "no-referrer",
			}
			for header, want := range expected {
				if got := rec.Header().Get(header); got != want {
					t.Errorf("%s: got %q, want %q", header, got, want)
				}
			}
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present=%v, want %v", got, tt.wantHSTS)
			}
			if got := rec.Header().Get("Cache-Control") == "no-store"; got != tt.wantCache {
				t.Errorf("no-store present=%v, want %v", got, tt.wantCache)
			}
		})
	}
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/doctors/:doctor_id/slots", func(c echo.Context) error {
		return c.String(http.StatusOK, "[]")
	})
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict)
	})

	for _, p := range []string{"/doctors/a/slots", "/doctors/b/slots", "/fail"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/doctors/:doctor_id/slots", "200")); got != 2 {
		t.Errorf("slots requests: got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/fail", "409")); got != 1 {
		t.Errorf("failed requests: got %v", got)
	}
}
