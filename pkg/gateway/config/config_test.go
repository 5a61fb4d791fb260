package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode=%q, want disabled", cfg.AuthMode)
	}
	if cfg.HoldMessage != "Please hold while I check that." {
		t.Fatalf("HoldMessage=%q", cfg.HoldMessage)
	}
	if cfg.CommandWorkers != 4 || cfg.CommandQueueSize != 16 {
		t.Fatalf("worker pool defaults: %d/%d", cfg.CommandWorkers, cfg.CommandQueueSize)
	}
	if cfg.CommandTimeout != 10*time.Second {
		t.Fatalf("CommandTimeout=%v", cfg.CommandTimeout)
	}
}

func TestLoadFromEnv_AuthRequiredNeedsKeys(t *testing.T) {
	t.Setenv("CALLRELAY_AUTH_MODE", "required")
	t.Setenv("CALLRELAY_API_KEYS", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error when auth required without keys")
	}

	t.Setenv("CALLRELAY_API_KEYS", "sk-one, sk-two")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys=%d, want 2", len(cfg.APIKeys))
	}
}

func TestLoadFromEnv_InvalidAuthMode(t *testing.T) {
	t.Setenv("CALLRELAY_AUTH_MODE", "maybe")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for invalid auth mode")
	}
}

func TestLoadFromEnv_BadDurationFallsBack(t *testing.T) {
	t.Setenv("CALLRELAY_COMMAND_TIMEOUT", "not-a-duration")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.CommandTimeout != 10*time.Second {
		t.Fatalf("CommandTimeout=%v, want default", cfg.CommandTimeout)
	}
}

func TestLoadFromEnv_RequireFeedback(t *testing.T) {
	t.Setenv("CALLRELAY_REQUIRE_FEEDBACK", "true")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !cfg.RequireFeedback {
		t.Fatalf("RequireFeedback=false, want true")
	}
}
