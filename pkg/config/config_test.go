package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadAPIConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "JWT_SECRET", "ACCESS_TOKEN_TTL_MIN", "BCRYPT_COST", "CORS_ORIGINS", "STORE_DRIVER"} {
		t.Setenv(key, "")
	}
	t.Setenv("PORT", "4549")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "60")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("CORS_ORIGINS", " http://a.test , ,http://b.test")

	cfg := LoadAPIConfig()
	if cfg.Addr != ":4549" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.JWTSecret != "" {
		t.Fatalf("expected empty secret, got %q", cfg.JWTSecret)
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", cfg.AccessTokenTTL)
	}
	if cfg.BcryptCost != 10 {
		t.Fatalf("expected cost 10, got %d", cfg.BcryptCost)
	}
	if cfg.StoreDriver != StoreDriverMongo {
		t.Fatalf("expected lower-cased driver, got %q", cfg.StoreDriver)
	}
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := GetInt("SOME_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("SOME_BOOL", "true")
	if !GetBool("SOME_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("SOME_BOOL", "maybe")
	if GetBool("SOME_BOOL", false) {
		t.Fatal("expected fallback false")
	}
}

func TestIsProduction(t *testing.T) {
	if !(APIConfig{Environment: "Production"}).IsProduction() {
		t.Fatal("expected production")
	}
	if (APIConfig{Environment: "development"}).IsProduction() {
		t.Fatal("expected non-production")
	}
}
