package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestMemoryRateLimiterWindow(t *testing.T) {
	base := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	now := base
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()
	rl.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		d := rl.Allow("login|ip:1.2.3.4", 3, time.Minute)
		if !d.allowed || d.count != i {
			t.Fatalf("attempt %d: unexpected decision %+v", i, d)
		}
	}
	if d := rl.Allow("login|ip:1.2.3.4", 3, time.Minute); d.allowed {
		t.Fatalf("expected fourth attempt to be limited")
	}
	if d := rl.Allow("login|ip:5.6.7.8", 3, time.Minute); !d.allowed {
		t.Fatalf("expected other key to be admitted")
	}

	now = base.Add(time.Minute + time.Second)
	if d := rl.Allow("login|ip:1.2.3.4", 3, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected new window, got %+v", d)
	}

	rl.cleanup(now.Add(2 * time.Minute))
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries to be swept, got %d", len(rl.entries))
	}
}

func TestMemoryRateLimiterDisabledLimit(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()
	for i := 0; i < 10; i++ {
		if d := rl.Allow("k", 0, time.Minute); !d.allowed {
			t.Fatalf("expected zero limit to admit everything")
		}
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	rl := newRedisRateLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rl.Close()
	for i := 0; i < 3; i++ {
		if d := rl.Allow("login|ip:1.2.3.4", 1, time.Minute); !d.allowed {
			t.Fatalf("attempt %d: expected unreachable redis to admit request", i)
		}
	}
}

func TestNewRedisRateLimiterPingFailure(t *testing.T) {
	if _, err := NewRedisRateLimiter("127.0.0.1:1", "", 0, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected ping failure for unreachable redis")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded client, got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Bearer":        false,
		"Bearer abc":    true,
		"Token abc":     true,
		"  Bearer  abc": true,
	}
	for header, ok := range cases {
		token, err := bearerToken(header)
		if ok && (err != nil || token != "abc") {
			t.Fatalf("%q: expected token abc, got %q (%v)", header, token, err)
		}
		if !ok && err == nil {
			t.Fatalf("%q: expected error", header)
		}
	}
}
