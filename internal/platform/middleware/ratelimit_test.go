package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	mw := RateLimit(cfg)
	return mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func doRequest(t *testing.T, handler echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if ip != "" {
		req.Header.Set(echo.HeaderXRealIP, ip)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, handler(c)
}

func TestRateLimit_WithinBurst(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := doRequest(t, handler, "")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 10", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := doRequest(t, handler, ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := doRequest(t, handler, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := doRequest(t, handler, ""); err != nil {
		t.Fatal(err)
	}
	rec, err := doRequest(t, handler, "")
	if err == nil {
		t.Fatal("expected rate limit error")
	}

	retryAfter, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil {
		t.Fatalf("Retry-After not an integer: %q", rec.Header().Get("Retry-After"))
	}
	if retryAfter < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", retryAfter)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := doRequest(t, handler, "10.0.0.1"); err != nil {
		t.Fatalf("client A first request: %v", err)
	}
	if _, err := doRequest(t, handler, "10.0.0.1"); err == nil {
		t.Fatal("client A second request: expected rate limit error")
	}
	// A throttled A must not affect B.
	if _, err := doRequest(t, handler, "10.0.0.2"); err != nil {
		t.Fatalf("client B first request: %v", err)
	}
}

func TestLimiter_ZeroRateStillAnswersRetryAfter(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1})

	if ok, _ := l.take("k"); !ok {
		t.Fatal("expected the single burst token granted")
	}
	ok, wait := l.take("k")
	if ok {
		t.Fatal("expected refusal with an empty bucket")
	}
	if wait != 1 {
		t.Errorf("expected wait 1 for zero rate, got %d", wait)
	}
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleEviction: time.Millisecond})

	l.take("gone")
	if len(l.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(l.buckets))
	}

	time.Sleep(5 * time.Millisecond)
	l.take("fresh")
	if _, ok := l.buckets["gone"]; ok {
		t.Error("expected idle bucket evicted")
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Error("expected active bucket retained")
	}
}
