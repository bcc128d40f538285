// Package chatbot turns inbound chat events into subscription changes and
// report replies.
package chatbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/alerting"
	"spacewatch/internal/cache"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// Backend is the slice of the pipeline the bot talks to.
type Backend interface {
	GetSnapshot(ctx context.Context, forceRefresh bool) cache.Result
	Subscribe(ctx context.Context, subscriberID string, topic storage.Topic, displayName, schedule string) subscription.Result
	Unsubscribe(ctx context.Context, subscriberID string, topic storage.Topic) subscription.Result
	ListSubscriptions(ctx context.Context, subscriberID string) []storage.Subscription
}

// Bot handles chat events.
type Bot struct {
	backend Backend
	replier alerting.Replier
	loc     *time.Location
	logger  zerolog.Logger
}

// New constructs a bot replying through replier.
func New(backend Backend, replier alerting.Replier, loc *time.Location, logger zerolog.Logger) *Bot {
	if replier == nil {
		replier = alerting.DisabledPusher{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		backend: backend,
		replier: replier,
		loc:     loc,
		logger:  logger.With().Str("component", "chatbot").Logger(),
	}
}

const welcomeText = "Welcome to SpaceWatch! Send \"report\" for current space weather or \"help\" for commands."

// HandleEvent processes one event; reply failures are logged, not returned.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) {
	userID := ev.Source.UserID
	var reply []string

	switch ev.Type {
	case EventFollow:
		reply = []string{welcomeText, helpText()}
	case EventUnfollow:
		res := b.backend.Unsubscribe(ctx, userID, "")
		b.logger.Info().Str("subscriber", alerting.Redact(userID)).Int("deactivated", res.Affected).Msg("subscriber unfollowed")
		return
	case EventMessage:
		if ev.Message.Type != "text" {
			reply = []string{"Only text commands are supported. " + helpHint}
			break
		}
		reply = b.Respond(ctx, userID, ev.Message.Text)
	default:
		return
	}

	if ev.ReplyToken == "" || len(reply) == 0 {
		return
	}
	if err := b.replier.Reply(ctx, ev.ReplyToken, reply); err != nil {
		b.logger.Warn().Err(err).Str("event", ev.Type).Msg("reply failed")
	}
}

const helpHint = "Send \"help\" for the command list."

// Respond executes one text command and returns the reply segments.
func (b *Bot) Respond(ctx context.Context, subscriberID, text string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return []string{helpText()}
	}

	switch fields[0] {
	case "report", "status", "now":
		res := b.backend.GetSnapshot(ctx, false)
		snap, err := res.Usable()
		if err != nil {
			return []string{spaceweather.Summary(nil)}
		}
		return spaceweather.DailyReport(snap, b.loc)

	case "subscribe", "sub":
		if len(fields) < 2 {
			return []string{"Usage: subscribe <topic> [HH:00]\nTopics: " + topicList()}
		}
		topic, err := storage.ParseTopic(fields[1])
		if err != nil {
			return []string{fmt.Sprintf("Unknown topic %q. Topics: %s", fields[1], topicList())}
		}
		schedule := ""
		if len(fields) > 2 {
			schedule = fields[2]
		}
		res := b.backend.Subscribe(ctx, subscriberID, topic, b.displayName(ctx, subscriberID), schedule)
		if !res.Success {
			return []string{"Could not subscribe: " + res.Message}
		}
		if topic == storage.TopicDailyReport {
			return []string{fmt.Sprintf("Subscribed to %s at %s (%s).", topic, res.Subscription.Schedule, b.loc)}
		}
		return []string{fmt.Sprintf("Subscribed to %s.", topic)}

	case "unsubscribe", "unsub", "stop":
		var topic storage.Topic
		if len(fields) > 1 && fields[1] != "all" {
			t, err := storage.ParseTopic(fields[1])
			if err != nil {
				return []string{fmt.Sprintf("Unknown topic %q. Topics: %s", fields[1], topicList())}
			}
			topic = t
		}
		res := b.backend.Unsubscribe(ctx, subscriberID, topic)
		if !res.Success {
			return []string{"Could not unsubscribe: " + res.Message}
		}
		if res.Affected == 0 {
			return []string{"You had no matching active subscription."}
		}
		if topic == "" {
			return []string{"Unsubscribed from all topics."}
		}
		return []string{fmt.Sprintf("Unsubscribed from %s.", topic)}

	case "list", "subscriptions":
		subs := b.backend.ListSubscriptions(ctx, subscriberID)
		if len(subs) == 0 {
			return []string{"You have no active subscriptions."}
		}
		lines := make([]string, 0, len(subs))
		for _, s := range subs {
			line := "• " + string(s.Topic)
			if s.Schedule != "" {
				line += " at " + s.Schedule
			}
			lines = append(lines, line)
		}
		return []string{"Your subscriptions:\n" + strings.Join(lines, "\n")}

	default:
		return []string{helpText()}
	}
}

// displayName asks the reply channel for the user's profile name when it can
// provide one; lookup failures leave the name empty.
func (b *Bot) displayName(ctx context.Context, subscriberID string) string {
	lookup, ok := b.replier.(alerting.ProfileLookup)
	if !ok {
		return ""
	}
	name, err := lookup.DisplayName(ctx, subscriberID)
	if err != nil {
		b.logger.Debug().Err(err).Str("subscriber", alerting.Redact(subscriberID)).Msg("profile lookup failed")
		return ""
	}
	return name
}

func topicList() string {
	names := make([]string, 0, len(storage.Topics()))
	for _, t := range storage.Topics() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"report: current space weather",
		"subscribe <topic> [HH:00]: start notifications",
		"unsubscribe [topic]: stop one topic or all",
		"list: your subscriptions",
		"Topics: " + topicList(),
	}, "\n")
}
