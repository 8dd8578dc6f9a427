package endpoints

import (
	"strings"
	"testing"
)

func TestNewWebhookValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WebhookConfig
		format  string
		wantErr string
	}{
		{"valid https", WebhookConfig{URL: "https://hooks.example.com/in"}, "", ""},
		{"valid discord format", WebhookConfig{URL: "https://discord.com/api/webhooks/1/x"}, FormatDiscord, ""},
		{"missing scheme", WebhookConfig{URL: "hooks.example.com/in"}, "", "invalid webhook URL"},
		{"ftp scheme", WebhookConfig{URL: "ftp://example.com"}, "", "invalid webhook URL"},
		{"empty", WebhookConfig{}, "", "invalid webhook URL"},
		{"negative retries", WebhookConfig{URL: "https://x.com", RetryAttempts: -1}, "", "retry_attempts"},
		{"excessive retries", WebhookConfig{URL: "https://x.com", RetryAttempts: 11}, "", "retry_attempts"},
		{"bad format", WebhookConfig{URL: "https://x.com"}, "teams", "unknown webhook format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewWebhook("u1", "hook", tt.cfg, tt.format)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if e.Type != TypeWebhook || !e.IsActive {
					t.Errorf("endpoint = %+v", e)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewWebhookDefaultsFormat(t *testing.T) {
	e, err := NewWebhook("u1", "hook", WebhookConfig{URL: "https://x.com"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if e.WebhookFormat != FormatInbound {
		t.Errorf("format = %q, want inbound default", e.WebhookFormat)
	}
}

func TestNewForwardValidation(t *testing.T) {
	if _, err := NewForward("u1", "fwd", ForwardConfig{Email: "ops@example.com"}); err != nil {
		t.Errorf("valid forward rejected: %v", err)
	}
	if _, err := NewForward("u1", "fwd", ForwardConfig{Email: "not-an-address"}); err == nil {
		t.Error("invalid forward address accepted")
	}
	if _, err := NewForward("u1", "fwd", ForwardConfig{}); err == nil {
		t.Error("empty forward address accepted")
	}
}

func TestNewGroupValidation(t *testing.T) {
	if _, err := NewGroup("u1", "team", GroupConfig{Emails: []string{"a@x.com", "b@x.com"}}); err != nil {
		t.Errorf("valid group rejected: %v", err)
	}
	if _, err := NewGroup("u1", "team", GroupConfig{}); err == nil {
		t.Error("empty group accepted")
	}
	if _, err := NewGroup("u1", "team", GroupConfig{Emails: []string{"a@x.com", "bad"}}); err == nil {
		t.Error("group with invalid member accepted")
	}
}

func TestConfigRoundTripByType(t *testing.T) {
	wh, err := NewWebhook("u1", "hook", WebhookConfig{
		URL: "https://hooks.example.com/in", TimeoutSeconds: 5, RetryAttempts: 2,
		Headers: map[string]string{"X-Token": "abc"},
	}, FormatSlack)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := wh.Webhook()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "https://hooks.example.com/in" || cfg.TimeoutSeconds != 5 || cfg.Headers["X-Token"] != "abc" {
		t.Errorf("decoded config = %+v", cfg)
	}

	// Decoding as the wrong variant is an error, not garbage.
	if _, err := wh.Forward(); err == nil {
		t.Error("webhook decoded as forward")
	}
	if _, err := wh.Group(); err == nil {
		t.Error("webhook decoded as group")
	}
}

func TestWebhookTimeoutClamped(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    string
	}{
		{"zero uses default", 0, "10s"},
		{"within range", 5, "5s"},
		{"clamped to max", 120, "30s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WebhookConfig{TimeoutSeconds: tt.seconds}
			got := cfg.Timeout(10e9, 30e9)
			if got.String() != tt.want {
				t.Errorf("Timeout = %s, want %s", got, tt.want)
			}
		})
	}
}
