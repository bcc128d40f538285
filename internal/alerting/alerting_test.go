package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/config"
	"spacewatch/internal/storage"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type scriptedPusher struct {
	fail  map[string]bool
	calls []string
	sizes []int
}

func (p *scriptedPusher) Push(_ context.Context, to string, messages []string) error {
	p.calls = append(p.calls, to)
	p.sizes = append(p.sizes, len(messages))
	if p.fail[to] {
		return errors.New("push rejected")
	}
	return nil
}

func TestFanoutIsolatesFailures(t *testing.T) {
	pusher := &scriptedPusher{fail: map[string]bool{"U2": true}}
	store := storage.NewMemoryStore()
	fan := NewFanout(pusher, store, FanoutOptions{}, testLogger())

	res := fan.Deliver(context.Background(), []string{"U1", "U2", "U3"}, Payload{
		Topic:    storage.TopicFlareAlert,
		Messages: []string{"flare!"},
	})

	if res.Sent != 2 || res.Total != 3 {
		t.Fatalf("期望 {sent:2 total:3}, 实际 %+v", res)
	}
	if strings.Join(pusher.calls, ",") != "U1,U2,U3" {
		t.Fatalf("应按顺序尝试全部订阅者: %v", pusher.calls)
	}
	if strings.Join(res.Delivered, ",") != "U1,U3" {
		t.Fatalf("成功列表不正确: %v", res.Delivered)
	}

	recs, _ := store.ListRecentDeliveries(context.Background(), 10)
	if len(recs) != 3 {
		t.Fatalf("每次尝试都应写一条记录, 实际 %d", len(recs))
	}
	failures := 0
	for _, r := range recs {
		if !r.Success {
			failures++
			if r.Error == "" {
				t.Fatal("失败记录应包含错误信息")
			}
		}
		if r.ID == "" {
			t.Fatal("记录应有 ID")
		}
	}
	if failures != 1 {
		t.Fatalf("期望 1 条失败记录, 实际 %d", failures)
	}
}

func TestFanoutCapsSegments(t *testing.T) {
	pusher := &scriptedPusher{}
	fan := NewFanout(pusher, nil, FanoutOptions{MaxSegments: 9}, testLogger())

	fan.Deliver(context.Background(), []string{"U1"}, Payload{Messages: []string{"1", "2", "3", "4", "5", "6", "7"}})
	if pusher.sizes[0] != MaxSegments {
		t.Fatalf("最多发送 %d 段, 实际 %d", MaxSegments, pusher.sizes[0])
	}
}

func TestFanoutPacing(t *testing.T) {
	pusher := &scriptedPusher{}
	fan := NewFanout(pusher, nil, FanoutOptions{Pacing: 20 * time.Millisecond}, testLogger())

	start := time.Now()
	fan.Deliver(context.Background(), []string{"U1", "U2", "U3"}, Payload{Messages: []string{"hi"}})
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("三位订阅者之间应有间隔, 实际耗时 %s", elapsed)
	}
}

func TestFanoutDisabledPusher(t *testing.T) {
	store := storage.NewMemoryStore()
	fan := NewFanout(DisabledPusher{}, store, FanoutOptions{}, testLogger())

	res := fan.Deliver(context.Background(), []string{"U1", "U2"}, Payload{Messages: []string{"x"}})
	if res.Sent != 0 || res.Total != 2 {
		t.Fatalf("禁用推送时应全部失败: %+v", res)
	}
	recs, _ := store.ListRecentDeliveries(context.Background(), 10)
	if len(recs) != 2 || !strings.Contains(recs[0].Error, "disabled") {
		t.Fatalf("应记录禁用错误: %+v", recs)
	}
}

func TestRedactAndPreview(t *testing.T) {
	if got := Redact("U1234567890abcdef"); got != "U123456789***" {
		t.Fatalf("截断结果不符: %s", got)
	}
	if got := Redact("short"); got != "short" {
		t.Fatalf("短 ID 不应截断: %s", got)
	}
	long := strings.Repeat("磁", 60)
	if got := preview([]string{long}); len([]rune(got)) != previewRunes {
		t.Fatalf("预览应为 %d 个字符", previewRunes)
	}
}

func TestLinePushAndReply(t *testing.T) {
	var paths []string
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("缺少 Bearer token")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	line := NewLinePusher("token", srv.URL, time.Second, testLogger())
	if err := line.Push(context.Background(), "U1", []string{"a", "", "b"}); err != nil {
		t.Fatalf("push 应成功: %v", err)
	}
	if err := line.Reply(context.Background(), "rt", []string{"pong"}); err != nil {
		t.Fatalf("reply 应成功: %v", err)
	}

	if paths[0] != linePushPath || paths[1] != lineReplyPath {
		t.Fatalf("请求路径不符: %v", paths)
	}
	if bodies[0]["to"] != "U1" || len(bodies[0]["messages"].([]any)) != 2 {
		t.Fatalf("push 请求体不符: %v", bodies[0])
	}
	if bodies[1]["replyToken"] != "rt" {
		t.Fatalf("reply 请求体不符: %v", bodies[1])
	}
}

func TestLinePushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	}))
	defer srv.Close()

	line := NewLinePusher("token", srv.URL, time.Second, testLogger())
	err := line.Push(context.Background(), "U1", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "1 error(s)") {
		t.Fatalf("应返回 API 错误信息, 实际 %v", err)
	}
}

func TestLineDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("profile 请求方法或认证不符: %s", r.Method)
		}
		if r.URL.Path != lineProfile+"U1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"userId":"U1","displayName":"Ann"}`))
	}))
	defer srv.Close()

	line := NewLinePusher("token", srv.URL, time.Second, testLogger())
	name, err := line.DisplayName(context.Background(), "U1")
	if err != nil || name != "Ann" {
		t.Fatalf("应返回昵称 Ann, 实际 %q (%v)", name, err)
	}
	if _, err := line.DisplayName(context.Background(), "U404"); err == nil {
		t.Fatal("未知用户应返回错误")
	}
}

func TestTelegramPusherSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	pusher := NewTelegramPusher("token", srv.URL, time.Second, testLogger())
	if err := pusher.Push(context.Background(), "chat", []string{"one", "two"}); err != nil {
		t.Fatalf("Telegram Push 应成功: %v", err)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] != "one\n\ntwo" {
		t.Fatalf("分段应以空行拼接: %q", received["text"])
	}
}

func TestTelegramPusherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	pusher := NewTelegramPusher("token", srv.URL, time.Second, testLogger())
	if err := pusher.Push(context.Background(), "chat", []string{"x"}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestNewFromConfigWithoutCredentials(t *testing.T) {
	pusher, replier := NewFromConfig(config.PushConfig{Provider: "line"}, testLogger())
	if err := pusher.Push(context.Background(), "U1", []string{"x"}); !errors.Is(err, ErrPushDisabled) {
		t.Fatalf("缺少凭据应禁用推送, 实际 %v", err)
	}
	if err := replier.Reply(context.Background(), "rt", []string{"x"}); !errors.Is(err, ErrPushDisabled) {
		t.Fatalf("缺少凭据应禁用回复, 实际 %v", err)
	}
}
