package config

import (
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(env(map[string]string{"JWT_SECRET": "s"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.AppPort != "8080" {
		t.Fatalf("port = %s; want 8080", cfg.AppPort)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Fatalf("backend = %s; want memory", cfg.StoreBackend)
	}
	if cfg.RoundDuration != 30*time.Second || cfg.InviteTTL != 30*time.Second {
		t.Fatalf("timing = %v/%v; want 30s/30s", cfg.RoundDuration, cfg.InviteTTL)
	}
	if cfg.StorePrefix != "rps" {
		t.Fatalf("prefix = %s; want rps", cfg.StorePrefix)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(env(map[string]string{
		"JWT_SECRET":         "s",
		"STORE_BACKEND":      "Redis",
		"REDIS_ADDR":         "localhost:6379",
		"REDIS_DB":           "2",
		"ROUND_SECONDS":      "10",
		"INVITE_TTL_SECONDS": "-4",
		"LOG_JSON":           "true",
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.StoreBackend != StoreRedis || cfg.RedisDB != 2 {
		t.Fatalf("redis config not applied: %+v", cfg)
	}
	if cfg.RoundDuration != 10*time.Second {
		t.Fatalf("round = %v; want 10s", cfg.RoundDuration)
	}
	if cfg.InviteTTL != 30*time.Second {
		t.Fatalf("negative ttl should fall back to default, got %v", cfg.InviteTTL)
	}
	if !cfg.LogJSON {
		t.Fatalf("expected json logging")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []map[string]string{
		{},
		{"JWT_SECRET": "s", "STORE_BACKEND": "etcd"},
		{"JWT_SECRET": "s", "STORE_BACKEND": "redis"},
		{"JWT_SECRET": "s", "REDIS_DB": "x"},
	}
	for i, m := range cases {
		if _, err := Parse(env(m)); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
