package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	linePushPath  = "/v2/bot/message/push"
	lineReplyPath = "/v2/bot/message/reply"
	lineProfile   = "/v2/bot/profile/"
)

// LinePusher 调用 LINE Messaging API 的 push 与 reply 接口。
type LinePusher struct {
	channelToken string
	baseURL      string
	client       *http.Client
	logger       zerolog.Logger
}

// NewLinePusher 构造 LINE 推送器。
func NewLinePusher(channelToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *LinePusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	return &LinePusher{
		channelToken: channelToken,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		logger:       logger.With().Str("component", "push_line").Logger(),
	}
}

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string            `json:"to"`
	Messages []lineTextMessage `json:"messages"`
}

type lineReplyRequest struct {
	ReplyToken string            `json:"replyToken"`
	Messages   []lineTextMessage `json:"messages"`
}

// Push 向单个用户推送最多 5 段文本。
func (p *LinePusher) Push(ctx context.Context, to string, messages []string) error {
	msgs := lineMessages(messages)
	if len(msgs) == 0 {
		return fmt.Errorf("line: empty message")
	}
	return p.post(ctx, linePushPath, linePushRequest{To: to, Messages: msgs})
}

// Reply 使用 reply token 回复最多 5 段文本。
func (p *LinePusher) Reply(ctx context.Context, replyToken string, messages []string) error {
	msgs := lineMessages(messages)
	if len(msgs) == 0 {
		return fmt.Errorf("line: empty message")
	}
	return p.post(ctx, lineReplyPath, lineReplyRequest{ReplyToken: replyToken, Messages: msgs})
}

// DisplayName 查询用户的 LINE 昵称。
func (p *LinePusher) DisplayName(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("line: empty user id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+lineProfile+url.PathEscape(userID), nil)
	if err != nil {
		return "", fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.channelToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send line request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("line profile error (%d)", resp.StatusCode)
	}
	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode line profile: %w", err)
	}
	return profile.DisplayName, nil
}

func (p *LinePusher) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.channelToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send line request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("line api error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("line api error (%d)", resp.StatusCode)
	}

	p.logger.Debug().Str("path", path).Msg("LINE 消息已发送")
	return nil
}

func lineMessages(messages []string) []lineTextMessage {
	segments := capSegments(messages)
	out := make([]lineTextMessage, 0, len(segments))
	for _, s := range segments {
		out = append(out, lineTextMessage{Type: "text", Text: s})
	}
	return out
}

var (
	_ Pusher        = (*LinePusher)(nil)
	_ Replier       = (*LinePusher)(nil)
	_ ProfileLookup = (*LinePusher)(nil)
)
