package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutate": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("mutate")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesGroupsAndCallers(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutate": {RequestsPerMinute: 1, Burst: 1},
		"query":  {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	mutate := limiter.Middleware("mutate")(okHandler())
	query := limiter.Middleware("query")(okHandler())

	withCaller := func(addr string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
		ctx := context.WithValue(req.Context(), ContextKeyCaller, common.HexToAddress(addr))
		return req.WithContext(ctx)
	}

	for _, tc := range []struct {
		name    string
		handler http.Handler
		req     *http.Request
	}{
		{"mutate a", mutate, withCaller("0xa1")},
		{"query a", query, withCaller("0xa1")},
		{"mutate b", mutate, withCaller("0xb0")},
	} {
		res := httptest.NewRecorder()
		tc.handler.ServeHTTP(res, tc.req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected success, got %d", tc.name, res.Code)
		}
	}

	res := httptest.NewRecorder()
	mutate.ServeHTTP(res, withCaller("0xa1"))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat caller to be limited, got %d", res.Code)
	}
}

func TestRateLimiterUnknownGroupPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("admin")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected pass through, got %d", res.Code)
		}
	}
}
