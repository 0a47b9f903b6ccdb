package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/mdx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.BusSubscriberBuffer != 256 {
		t.Errorf("expected default subscriber buffer 256, got %d", cfg.BusSubscriberBuffer)
	}
	if cfg.BusReplayDepth != 64 {
		t.Errorf("expected default replay depth 64, got %d", cfg.BusReplayDepth)
	}
	if cfg.SessionRetention != 60*time.Second {
		t.Errorf("expected default retention 60s, got %s", cfg.SessionRetention)
	}
	if !cfg.PauseBlocksPublish {
		t.Error("expected pause to block publishes by default")
	}
	if !cfg.IsDev() {
		t.Error("expected development env by default")
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/mdx")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_RETENTION", "5m")
	t.Setenv("BUS_REPLAY_DEPTH", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.SessionRetention != 5*time.Minute {
		t.Errorf("expected retention 5m, got %s", cfg.SessionRetention)
	}
	if cfg.BusReplayDepth != 128 {
		t.Errorf("expected replay depth 128, got %d", cfg.BusReplayDepth)
	}
}

func TestResolvedAuthMode(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit mode wins", Config{AuthMode: "hmac", Env: "development"}, "hmac"},
		{"development env", Config{Env: "development"}, "development"},
		{"issuer implies external", Config{Env: "production", AuthIssuer: "https://auth.example.com"}, "external"},
		{"production fallback", Config{Env: "production"}, "hmac"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolvedAuthMode(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Env:                 "production",
		JWTSigningKey:       "secret",
		BusSubscriberBuffer: 256,
		BusReplayDepth:      64,
		SessionRetention:    time.Minute,
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"hmac without key", func(c *Config) { c.JWTSigningKey = "" }},
		{"unknown auth mode", func(c *Config) { c.AuthMode = "ldap" }},
		{"zero subscriber buffer", func(c *Config) { c.BusSubscriberBuffer = 0 }},
		{"negative replay depth", func(c *Config) { c.BusReplayDepth = -1 }},
		{"zero retention", func(c *Config) { c.SessionRetention = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
