package chatbot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/cache"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

type fakeBackend struct {
	*subscription.Service
	snap *spaceweather.Snapshot
}

func (f fakeBackend) GetSnapshot(context.Context, bool) cache.Result {
	if f.snap == nil {
		return cache.Result{}
	}
	return cache.Result{Snapshot: f.snap, Success: true}
}

func (f fakeBackend) ListSubscriptions(ctx context.Context, id string) []storage.Subscription {
	return f.ListActive(ctx, id)
}

type recordingReplier struct {
	tokens  []string
	replies [][]string
}

func (r *recordingReplier) Reply(_ context.Context, token string, messages []string) error {
	r.tokens = append(r.tokens, token)
	r.replies = append(r.replies, messages)
	return nil
}

func newTestBot(snap *spaceweather.Snapshot) (*Bot, *recordingReplier, fakeBackend) {
	backend := fakeBackend{
		Service: subscription.NewService(storage.NewMemoryStore(), subscription.Options{}, zerolog.Nop()),
		snap:    snap,
	}
	replier := &recordingReplier{}
	return New(backend, replier, time.UTC, zerolog.Nop()), replier, backend
}

func textEvent(user, token, text string) Event {
	var ev Event
	ev.Type = EventMessage
	ev.ReplyToken = token
	ev.Source.UserID = user
	ev.Message.Type = "text"
	ev.Message.Text = text
	return ev
}

func TestSubscribeAndListCommands(t *testing.T) {
	bot, _, _ := newTestBot(nil)
	ctx := context.Background()

	reply := bot.Respond(ctx, "U1", "subscribe daily 7")
	if !strings.Contains(reply[0], "07:00") {
		t.Fatalf("订阅回复应包含时间: %v", reply)
	}
	bot.Respond(ctx, "U1", "Subscribe KP")

	reply = bot.Respond(ctx, "U1", "list")
	if !strings.Contains(reply[0], "daily-report at 07:00") || !strings.Contains(reply[0], "geomagnetic-alert") {
		t.Fatalf("列表内容不符: %v", reply)
	}

	reply = bot.Respond(ctx, "U1", "unsubscribe kp")
	if !strings.Contains(reply[0], "geomagnetic-alert") {
		t.Fatalf("退订回复不符: %v", reply)
	}
	reply = bot.Respond(ctx, "U1", "unsubscribe")
	if reply[0] != "Unsubscribed from all topics." {
		t.Fatalf("全部退订回复不符: %v", reply)
	}
	if reply = bot.Respond(ctx, "U1", "list"); reply[0] != "You have no active subscriptions." {
		t.Fatalf("退订后列表应为空: %v", reply)
	}
}

type profileReplier struct {
	recordingReplier
	names map[string]string
}

func (p *profileReplier) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := p.names[userID]
	if !ok {
		return "", errors.New("profile not found")
	}
	return name, nil
}

func TestSubscribeStoresProfileName(t *testing.T) {
	backend := fakeBackend{
		Service: subscription.NewService(storage.NewMemoryStore(), subscription.Options{}, zerolog.Nop()),
	}
	replier := &profileReplier{names: map[string]string{"U1": "Ann"}}
	bot := New(backend, replier, time.UTC, zerolog.Nop())
	ctx := context.Background()

	bot.Respond(ctx, "U1", "subscribe kp")
	bot.Respond(ctx, "U2", "subscribe kp")

	subs := backend.ListActive(ctx, "U1")
	if len(subs) != 1 || subs[0].DisplayName != "Ann" {
		t.Fatalf("订阅应记录用户昵称, 实际 %+v", subs)
	}
	subs = backend.ListActive(ctx, "U2")
	if len(subs) != 1 || subs[0].DisplayName != "" {
		t.Fatalf("查询昵称失败时应留空且仍完成订阅, 实际 %+v", subs)
	}
}

func TestUnknownTopicAndHelp(t *testing.T) {
	bot, _, _ := newTestBot(nil)
	ctx := context.Background()

	if reply := bot.Respond(ctx, "U1", "subscribe aurora"); !strings.Contains(reply[0], "Unknown topic") {
		t.Fatalf("未知主题应提示: %v", reply)
	}
	if reply := bot.Respond(ctx, "U1", "what?"); !strings.HasPrefix(reply[0], "Commands:") {
		t.Fatalf("未知命令应返回帮助: %v", reply)
	}
}

func TestReportWithoutSnapshot(t *testing.T) {
	bot, _, _ := newTestBot(nil)
	reply := bot.Respond(context.Background(), "U1", "report")
	if len(reply) != 1 || !strings.Contains(reply[0], "unavailable") {
		t.Fatalf("无数据时应返回占位文本: %v", reply)
	}
}

func TestFollowAndUnfollowEvents(t *testing.T) {
	bot, replier, backend := newTestBot(nil)
	ctx := context.Background()

	var follow Event
	follow.Type = EventFollow
	follow.ReplyToken = "rt-1"
	follow.Source.UserID = "U1"
	bot.HandleEvent(ctx, follow)
	if len(replier.tokens) != 1 || replier.tokens[0] != "rt-1" {
		t.Fatalf("关注事件应回复欢迎语: %v", replier.tokens)
	}

	bot.HandleEvent(ctx, textEvent("U1", "rt-2", "subscribe flare"))
	bot.HandleEvent(ctx, textEvent("U1", "rt-3", "subscribe cme"))

	var unfollow Event
	unfollow.Type = EventUnfollow
	unfollow.Source.UserID = "U1"
	bot.HandleEvent(ctx, unfollow)

	if active := backend.ListActive(ctx, "U1"); len(active) != 0 {
		t.Fatalf("取消关注应停用全部订阅, 剩余 %d", len(active))
	}
	if len(replier.tokens) != 3 {
		t.Fatalf("取消关注不应回复, 实际回复 %d 次", len(replier.tokens))
	}
}

func TestParseWebhookSignature(t *testing.T) {
	body := []byte(`{"destination":"x","events":[{"type":"message","replyToken":"rt","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"report"}}]}`)
	sig := Sign("secret", body)

	events, err := ParseWebhook("secret", body, sig)
	if err != nil {
		t.Fatalf("签名正确时应解析成功: %v", err)
	}
	if len(events) != 1 || events[0].Message.Text != "report" || events[0].Source.UserID != "U1" {
		t.Fatalf("事件解析不符: %+v", events)
	}

	if _, err := ParseWebhook("other", body, sig); err != ErrInvalidSignature {
		t.Fatalf("签名错误应被拒绝, 实际 %v", err)
	}
	if _, err := ParseWebhook("secret", body, "!!"); err != ErrInvalidSignature {
		t.Fatalf("非法签名应被拒绝, 实际 %v", err)
	}
}
