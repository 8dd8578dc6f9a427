// Package endpoints models delivery endpoints: webhooks, single-address
// forwards, and forwarding groups. The config column is raw JSON but its
// shape is fixed by the endpoint type, so configs are decoded into typed
// structs and validated at construction, never at point of use.
package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// Endpoint types.
const (
	TypeWebhook = "webhook"
	TypeEmail   = "email"
	TypeGroup   = "email_group"
)

// Webhook payload formats.
const (
	FormatInbound = "inbound"
	FormatDiscord = "discord"
	FormatSlack   = "slack"
)

var ErrNotFound = errors.New("endpoint not found")

// Endpoint is a delivery target. Config holds the raw JSON for the typed
// variant; use Webhook/Forward/Group to get the decoded form.
type Endpoint struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Config        json.RawMessage `json:"config"`
	WebhookFormat string          `json:"webhook_format,omitempty"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WebhookConfig is the config variant for webhook endpoints.
type WebhookConfig struct {
	URL            string            `json:"url"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
	RetryAttempts  int               `json:"retry_attempts,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Timeout returns the per-attempt delivery timeout, clamped to [1, max].
func (c WebhookConfig) Timeout(def, max time.Duration) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return def
	}
	t := time.Duration(c.TimeoutSeconds) * time.Second
	if t > max {
		return max
	}
	return t
}

// ForwardConfig is the config variant for single-address forwards.
type ForwardConfig struct {
	Email string `json:"email"`
}

// GroupConfig is the config variant for group fan-out.
type GroupConfig struct {
	Emails []string `json:"emails"`
}

// NewWebhook validates and assembles a webhook endpoint.
func NewWebhook(userID, name string, cfg WebhookConfig, format string) (*Endpoint, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", cfg.URL)
	}
	if cfg.RetryAttempts < 0 || cfg.RetryAttempts > 10 {
		return nil, fmt.Errorf("retry_attempts must be 0-10, got %d", cfg.RetryAttempts)
	}
	switch format {
	case "", FormatInbound:
		format = FormatInbound
	case FormatDiscord, FormatSlack:
	default:
		return nil, fmt.Errorf("unknown webhook format %q", format)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook config: %w", err)
	}
	return &Endpoint{UserID: userID, Name: name, Type: TypeWebhook, Config: raw, WebhookFormat: format, IsActive: true}, nil
}

// NewForward validates and assembles a forward endpoint.
func NewForward(userID, name string, cfg ForwardConfig) (*Endpoint, error) {
	if err := validateAddress(cfg.Email); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding forward config: %w", err)
	}
	return &Endpoint{UserID: userID, Name: name, Type: TypeEmail, Config: raw, IsActive: true}, nil
}

// NewGroup validates and assembles a group endpoint. Groups must be
// non-empty; an empty group would silently drop mail.
func NewGroup(userID, name string, cfg GroupConfig) (*Endpoint, error) {
	if len(cfg.Emails) == 0 {
		return nil, errors.New("email group must contain at least one address")
	}
	for _, addr := range cfg.Emails {
		if err := validateAddress(addr); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding group config: %w", err)
	}
	return &Endpoint{UserID: userID, Name: name, Type: TypeGroup, Config: raw, IsActive: true}, nil
}

// Webhook decodes the config for a webhook endpoint.
func (e *Endpoint) Webhook() (WebhookConfig, error) {
	var cfg WebhookConfig
	if e.Type != TypeWebhook {
		return cfg, fmt.Errorf("endpoint %s is %s, not webhook", e.ID, e.Type)
	}
	if err := json.Unmarshal(e.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding webhook config: %w", err)
	}
	return cfg, nil
}

// Forward decodes the config for a forward endpoint.
func (e *Endpoint) Forward() (ForwardConfig, error) {
	var cfg ForwardConfig
	if e.Type != TypeEmail {
		return cfg, fmt.Errorf("endpoint %s is %s, not email", e.ID, e.Type)
	}
	if err := json.Unmarshal(e.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding forward config: %w", err)
	}
	return cfg, nil
}

// Group decodes the config for a group endpoint.
func (e *Endpoint) Group() (GroupConfig, error) {
	var cfg GroupConfig
	if e.Type != TypeGroup {
		return cfg, fmt.Errorf("endpoint %s is %s, not email_group", e.ID, e.Type)
	}
	if err := json.Unmarshal(e.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding group config: %w", err)
	}
	return cfg, nil
}

func validateAddress(addr string) error {
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || !strings.Contains(addr, "@") {
		return fmt.Errorf("invalid email address %q", addr)
	}
	return nil
}
