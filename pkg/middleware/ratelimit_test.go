package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Hour,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("ip:10.0.0.1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("ip:10.0.0.1"))

	// Other clients have their own bucket.
	assert.True(t, limiter.Allow("ip:10.0.0.2"))
}

func TestRateLimiter_BurstAllowance(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Hour,
		BurstSize:         2,
	})

	for i := 0; i < 4; i++ {
		assert.True(t, limiter.Allow("ip:10.0.0.1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("ip:10.0.0.1"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Hour,
	})

	assert.Equal(t, 5, limiter.Remaining("ip:10.0.0.1"))
	limiter.Allow("ip:10.0.0.1")
	assert.Equal(t, 4, limiter.Remaining("ip:10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := NewRateLimitMiddleware(&RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Hour,
	})
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/audit-logs", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := do("203.0.113.9")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do("203.0.113.9").Code)

	limited := do("203.0.113.9")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "rate limit exceeded")

	// A different client is unaffected.
	assert.Equal(t, http.StatusOK, do("203.0.113.10").Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "192.168.1.1:1234", "203.0.113.9"},
		{"single forwarded", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.168.1.1:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "192.168.1.1:1234", "203.0.113.9"},
		{"remote addr", nil, "192.168.1.1:1234", "192.168.1.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
