// Package alerting delivers messages to chat subscribers.
package alerting

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"spacewatch/internal/config"
)

// MaxSegments is the channel batch ceiling for one push or reply.
const MaxSegments = 5

// ErrPushDisabled is returned by a pusher built without credentials.
var ErrPushDisabled = errors.New("push channel disabled: credentials missing")

// Pusher sends message segments to one subscriber.
type Pusher interface {
	Push(ctx context.Context, to string, messages []string) error
}

// Replier answers an inbound chat event by reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken string, messages []string) error
}

// ProfileLookup resolves a chat user's display name.
type ProfileLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// DisabledPusher fails every call with ErrPushDisabled.
type DisabledPusher struct{}

func (DisabledPusher) Push(context.Context, string, []string) error  { return ErrPushDisabled }
func (DisabledPusher) Reply(context.Context, string, []string) error { return ErrPushDisabled }

// NewFromConfig builds the configured channel. Missing credentials yield a
// DisabledPusher and one warning.
func NewFromConfig(cfg config.PushConfig, logger zerolog.Logger) (Pusher, Replier) {
	switch cfg.ProviderName() {
	case "telegram":
		if cfg.Telegram.BotToken == "" {
			logger.Warn().Str("provider", "telegram").Msg("push disabled: telegram bot token missing")
			return DisabledPusher{}, DisabledPusher{}
		}
		// Telegram has no reply tokens; inbound replies go through the LINE webhook only.
		return NewTelegramPusher(cfg.Telegram.BotToken, cfg.Telegram.APIBase, cfg.Timeout, logger), DisabledPusher{}
	default:
		if cfg.Line.ChannelToken == "" {
			logger.Warn().Str("provider", "line").Msg("push disabled: LINE channel token missing")
			return DisabledPusher{}, DisabledPusher{}
		}
		line := NewLinePusher(cfg.Line.ChannelToken, cfg.Line.APIBase, cfg.Timeout, logger)
		return line, line
	}
}

func capSegments(messages []string) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m) == "" {
			continue
		}
		out = append(out, m)
		if len(out) == MaxSegments {
			break
		}
	}
	return out
}

var (
	_ Pusher  = DisabledPusher{}
	_ Replier = DisabledPusher{}
)
