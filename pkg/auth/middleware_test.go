package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareRateLimitsCredentialPaths(t *testing.T) {
	handler := Middleware(LimitConfig{RPS: 1, Burst: 2})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	hit := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if hit("/login", "10.0.0.1") != http.StatusOK || hit("/login", "10.0.0.1") != http.StatusOK {
		t.Fatalf("burst requests rejected")
	}
	if hit("/login", "10.0.0.1") != http.StatusTooManyRequests {
		t.Fatalf("third request within the burst window passed")
	}
	// other clients and other paths are unaffected
	if hit("/login", "10.0.0.2") != http.StatusOK {
		t.Fatalf("limit leaked across client IPs")
	}
	for i := 0; i < 5; i++ {
		if hit("/sendmessage", "10.0.0.1") != http.StatusOK {
			t.Fatalf("non-credential path limited")
		}
	}
}

func TestMiddlewareCORSPreflight(t *testing.T) {
	handler := Middleware(LimitConfig{})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Fatalf("preflight reached the inner handler")
		}))

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "https://client.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.7:9999"
	if ip := clientIP(req); ip != "192.0.2.7" {
		t.Fatalf("ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 192.0.2.7")
	if ip := clientIP(req); ip != "203.0.113.5" {
		t.Fatalf("forwarded ip = %q", ip)
	}
}
