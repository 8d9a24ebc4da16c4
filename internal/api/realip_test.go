package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"storefront/internal/ratelimit"
)

func limitedBehind(trusted []string, limit int) http.Handler {
	return RealIP(trusted)(RateLimit(ratelimit.NewInMemory(time.Minute), limit)(http.HandlerFunc(okHandler)))
}

func TestRealIP_UntrustedPeerCannotRotateKey(t *testing.T) {
	h := limitedBehind(nil, 2)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "192.0.2."+strconv.Itoa(i))
		if serve(h, req).Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Fatalf("expected forwarding headers to be ignored, %d of 20 limited", limited)
	}
}

func TestRealIP_TrustedProxy(t *testing.T) {
	h := limitedBehind([]string{"10.0.0.0/8", "192.0.2.1"}, 1)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		if rec := serve(h, req); rec.Code != http.StatusOK {
			t.Fatalf("client %d behind the proxy: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.0")
	if rec := serve(h, req); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same forwarded client must share a window, got %d", rec.Code)
	}

	// A peer outside the list is keyed on its socket even if it claims otherwise.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "172.16.0.9:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.77")
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Fatalf("first request from untrusted peer: expected 200, got %d", rec.Code)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.78")
	if rec := serve(h, req); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("untrusted peer rotated its key, got %d", rec.Code)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got := ParseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", "::1", "not-an-ip", ""})
	if len(got) != 3 {
		t.Fatalf("expected 3 prefixes, got %v", got)
	}
	if !peerTrusted("[::1]:80", got) || !peerTrusted("127.0.0.1:9", got) || peerTrusted("127.0.0.2:9", got) {
		t.Fatalf("unexpected trust decisions for %v", got)
	}
}
