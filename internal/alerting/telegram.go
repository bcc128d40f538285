package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramPusher 通过 Telegram Bot API 推送消息。
type TelegramPusher struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramPusher 构造 Telegram 推送器。
func NewTelegramPusher(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramPusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramPusher{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "push_telegram").Logger(),
	}
}

// Push 调用 sendMessage, 各段以空行拼接为一条消息。
func (n *TelegramPusher) Push(ctx context.Context, chatID string, messages []string) error {
	segments := capSegments(messages)
	if len(segments) == 0 {
		return fmt.Errorf("telegram: empty message")
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    strings.Join(segments, "\n\n"),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}

	n.logger.Debug().Int("segments", len(segments)).Msg("消息已发送 (Telegram)")
	return nil
}

var _ Pusher = (*TelegramPusher)(nil)
