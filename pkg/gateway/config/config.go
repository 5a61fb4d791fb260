package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	// Auth applies to the supervisor surfaces (/override/*, /events/ws).
	// The telephony relay socket is authenticated upstream by the webhook
	// validator, not by this gateway.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS for dashboard origins; empty => disabled.
	CORSAllowedOrigins map[string]struct{}

	// Upstream realtime model.
	RealtimeURL    string
	RealtimeAPIKey string
	Model          string
	Voice          string
	Instructions   string

	// Fixed message spoken to the caller while a supervisor query or
	// feedback hold is pending.
	HoldMessage string

	// If true every generated assistant turn is held for supervisor
	// approval before it reaches the caller.
	RequireFeedback bool

	// Fallback target for [[transfer]] directives without a value.
	TransferDefault string

	// Telephony control credentials. When unset, command execution
	// degrades to logged no-ops.
	TwilioAccountSID string
	TwilioAuthToken  string

	// Command worker pool.
	CommandWorkers   int
	CommandQueueSize int
	CommandTimeout   time.Duration

	// Per-tenant concurrent session cap (multi-tenant deployments).
	TenantMaxConcurrent int

	// Relay WebSocket behavior.
	RelayWriteTimeout time.Duration
	RelayPingInterval time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream dial timeout.
	RealtimeDialTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CALLRELAY_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("CALLRELAY_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		CORSAllowedOrigins:  make(map[string]struct{}),
		RealtimeURL:         envOr("CALLRELAY_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:               envOr("CALLRELAY_MODEL", "gpt-4o-realtime-preview"),
		Voice:               envOr("CALLRELAY_VOICE", "alloy"),
		Instructions:        envOr("CALLRELAY_INSTRUCTIONS", "You are a helpful phone assistant."),
		HoldMessage:         envOr("CALLRELAY_HOLD_MESSAGE", "Please hold while I check that."),
		RequireFeedback:     envBoolOr("CALLRELAY_REQUIRE_FEEDBACK", false),
		TransferDefault:     strings.TrimSpace(os.Getenv("CALLRELAY_TRANSFER_DEFAULT")),
		TwilioAccountSID:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:     strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		CommandWorkers:      envIntOr("CALLRELAY_COMMAND_WORKERS", 4),
		CommandQueueSize:    envIntOr("CALLRELAY_COMMAND_QUEUE_SIZE", 16),
		CommandTimeout:      envDurationOr("CALLRELAY_COMMAND_TIMEOUT", 10*time.Second),
		TenantMaxConcurrent: envIntOr("CALLRELAY_TENANT_MAX_CONCURRENT", 10),
		RelayWriteTimeout:   envDurationOr("CALLRELAY_RELAY_WRITE_TIMEOUT", 5*time.Second),
		RelayPingInterval:   envDurationOr("CALLRELAY_RELAY_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:   envDurationOr("CALLRELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("CALLRELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		RealtimeDialTimeout: envDurationOr("CALLRELAY_REALTIME_DIAL_TIMEOUT", 10*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CALLRELAY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("CALLRELAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("CALLRELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("CALLRELAY_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("CALLRELAY_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.HoldMessage) == "" {
		return Config{}, fmt.Errorf("CALLRELAY_HOLD_MESSAGE must not be empty")
	}
	if cfg.CommandWorkers <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_COMMAND_WORKERS must be > 0")
	}
	if cfg.CommandQueueSize <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_COMMAND_QUEUE_SIZE must be > 0")
	}
	if cfg.CommandTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_COMMAND_TIMEOUT must be > 0")
	}
	if cfg.TenantMaxConcurrent <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_TENANT_MAX_CONCURRENT must be > 0")
	}
	if cfg.RelayWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_RELAY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.RelayPingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_RELAY_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.RealtimeDialTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLRELAY_REALTIME_DIAL_TIMEOUT must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CALLRELAY_API_KEYS must be set when CALLRELAY_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
