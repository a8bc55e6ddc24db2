package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Telegram posts monitoring copies to a bot chat.
type Telegram struct {
	BaseURL string
	Token   string
	ChatID  string
	HTTP    *http.Client
}

func NewTelegram(baseURL, token, chatID string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Telegram{
		BaseURL: baseURL,
		Token:   token,
		ChatID:  chatID,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether both the token and chat id are set.
func (t *Telegram) Configured() bool {
	return t != nil && t.Token != "" && t.ChatID != ""
}

// Mirror sends text to the configured chat.
func (t *Telegram) Mirror(ctx context.Context, text string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	body, _ := json.Marshal(map[string]string{
		"chat_id": t.ChatID,
		"text":    text,
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram error %s: %s", resp.Status, string(raw))
	}
	if !out.OK {
		return fmt.Errorf("telegram error: %s", out.Description)
	}
	return nil
}
