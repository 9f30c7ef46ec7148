package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"cryptoSpotBot/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultBaseURL = "https://api.telegram.org"

// Config holds the bot credentials and transport settings.
type Config struct {
	BotToken   string
	ChatID     string
	BaseURL    string        // Overridable for tests
	Timeout    time.Duration // Per request
	HTTPClient *http.Client
	Logger     ports.Logger
}

// Notifier delivers alerts through the Telegram Bot API.
type Notifier struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	logger  ports.Logger
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for telegram notifier")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Notifier{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		baseURL: baseURL,
		http:    client,
		logger:  cfg.Logger,
	}, nil
}

// Send posts message to the configured chat and reports delivery failures.
func (n *Notifier) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: n.chatID, Text: message, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("encode sendMessage body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode sendMessage response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		sentinel := ports.ErrInvalidRequest
		if resp.StatusCode == http.StatusTooManyRequests {
			sentinel = ports.ErrRateLimited
		}
		return fmt.Errorf("sendMessage failed: %w: telegram error %d: %s", sentinel, out.ErrorCode, out.Description)
	}
	return nil
}

// Notify implements ports.AlertSink. Failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, message string) {
	if err := n.Send(ctx, message); err != nil {
		n.logger.Error(ctx, err, "Failed to deliver Telegram alert")
	}
}
