// File: push.go
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Push gateway defaults.
const (
	defaultPushBaseURL = "https://onesignal.com/api/v1"
	defaultPushTimeout = 10 * time.Second
)

// PushConfig holds push gateway settings.
type PushConfig struct {
	APIBaseURL string
	APIKey     string
	AppID      string
	Timeout    time.Duration
}

// LoadPushConfigFromEnv reads push gateway settings from the environment.
// With no PUSH_API_KEY configured the push client is disabled and offline
// users simply receive nothing until they reconnect.
func LoadPushConfigFromEnv() PushConfig {
	cfg := PushConfig{
		APIBaseURL: defaultPushBaseURL,
		APIKey:     os.Getenv("PUSH_API_KEY"),
		AppID:      os.Getenv("PUSH_APP_ID"),
		Timeout:    defaultPushTimeout,
	}
	if base := os.Getenv("PUSH_API_URL"); base != "" {
		cfg.APIBaseURL = base
	}
	return cfg
}

// PushClient sends mobile push notifications through the push gateway.
type PushClient struct {
	config     PushConfig
	httpClient *http.Client
}

// NewPushClient builds a push client from cfg.
func NewPushClient(cfg PushConfig) *PushClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultPushBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPushTimeout
	}
	return &PushClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether a gateway credential is configured.
func (p *PushClient) Enabled() bool {
	return p.config.APIKey != ""
}

// pushRequest is the gateway's notification creation payload.
type pushRequest struct {
	AppID            string            `json:"app_id"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
	Data             map[string]string `json:"data,omitempty"`
}

// Notify sends one push notification to a device. Callers treat failures as
// best-effort; a push that cannot be delivered never fails the message send.
func (p *PushClient) Notify(playerID, heading, content string, data map[string]string) error {
	if !p.Enabled() {
		return nil
	}

	payload := pushRequest{
		AppID:            p.config.AppID,
		Headings:         map[string]string{"en": heading},
		Contents:         map[string]string{"en": content},
		IncludePlayerIDs: []string{playerID},
		Data:             data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.config.APIBaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}
