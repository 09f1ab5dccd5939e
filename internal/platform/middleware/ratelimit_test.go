package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinic/internal/platform/auth"
)

func serveLimited(t *testing.T, h echo.HandlerFunc, ip, user string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	if user != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), user, nil))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_WithinBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	for i := 0; i < 5; i++ {
		rec, err := serveLimited(t, h, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	for i := 0; i < 2; i++ {
		if _, err := serveLimited(t, h, "10.0.0.2", ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	rec, err := serveLimited(t, h, "10.0.0.2", "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("missing throttle headers: %v", rec.Header())
	}

	// Other clients keep their own budget.
	if _, err := serveLimited(t, h, "10.0.0.3", ""); err != nil {
		t.Errorf("other ip throttled: %v", err)
	}
	if _, err := serveLimited(t, h, "10.0.0.2", "patient-1"); err != nil {
		t.Errorf("authenticated caller should have its own budget: %v", err)
	}
}

func TestLimiterStore_DropsIdleVisitors(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.get("a")
	now = now.Add(2 * time.Minute)
	s.get("b")
	if _, ok := s.visitors["a"]; ok {
		t.Error("idle visitor not evicted")
	}
	if _, ok := s.visitors["b"]; !ok {
		t.Error("active visitor evicted")
	}
}
