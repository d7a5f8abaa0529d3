package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mfifer/docchat/internal/rag"
)

func newTestHistory(t *testing.T, ttl time.Duration) (*History, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewHistory(rdb, ttl), s
}

func mustAppend(t *testing.T, h *History, sessionID, role, content string) {
	t.Helper()
	msg, err := NewMessage(role, content)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := h.Append(context.Background(), sessionID, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestHistory_AppendAndReadOrder(t *testing.T) {
	h, _ := newTestHistory(t, time.Hour)

	for i := 0; i < 5; i++ {
		mustAppend(t, h, "s1", RoleUser, fmt.Sprintf("msg-%d", i))
	}

	msgs, err := h.Messages(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("msg-%d", i); m.Content != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, m.Content)
		}
	}
}

func TestHistory_LimitTruncatesOldestEnd(t *testing.T) {
	h, _ := newTestHistory(t, time.Hour)

	// 25 stored messages, read window of 20: messages 6..25 in original order.
	for i := 1; i <= 25; i++ {
		mustAppend(t, h, "s1", RoleUser, fmt.Sprintf("msg-%d", i))
	}

	msgs, err := h.Messages(context.Background(), "s1", 20)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "msg-6" {
		t.Fatalf("expected oldest survivor msg-6, got %q", msgs[0].Content)
	}
	if msgs[19].Content != "msg-25" {
		t.Fatalf("expected newest msg-25, got %q", msgs[19].Content)
	}
}

func TestHistory_UnknownSessionReadsEmpty(t *testing.T) {
	h, _ := newTestHistory(t, time.Hour)

	msgs, err := h.Messages(context.Background(), "never-seen", 20)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(msgs))
	}
}

func TestHistory_AppendResetsTTL(t *testing.T) {
	ttl := time.Hour
	h, s := newTestHistory(t, ttl)

	mustAppend(t, h, "s1", RoleUser, "one")
	s.FastForward(30 * time.Minute)
	mustAppend(t, h, "s1", RoleUser, "two")

	if got := s.TTL("chat_history:s1"); got != ttl {
		t.Fatalf("expected ttl reset to %v after append, got %v", ttl, got)
	}
}

func TestHistory_ExpiredSessionRecreatedTransparently(t *testing.T) {
	ttl := time.Hour
	h, s := newTestHistory(t, ttl)

	mustAppend(t, h, "s1", RoleUser, "old")
	s.FastForward(ttl + time.Minute)

	msgs, err := h.Messages(context.Background(), "s1", 20)
	if err != nil {
		t.Fatalf("messages after expiry: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected expired session to read empty, got %d messages", len(msgs))
	}

	// A fresh append starts a new expiry window, not an error.
	mustAppend(t, h, "s1", RoleUser, "new")
	if got := s.TTL("chat_history:s1"); got != ttl {
		t.Fatalf("expected fresh ttl %v, got %v", ttl, got)
	}
}

func TestHistory_ClearIsIdempotent(t *testing.T) {
	h, _ := newTestHistory(t, time.Hour)

	mustAppend(t, h, "s1", RoleUser, "hello")

	if err := h.Clear(context.Background(), "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := h.Clear(context.Background(), "s1"); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	msgs, err := h.Messages(context.Background(), "s1", 20)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(msgs))
	}

	mustAppend(t, h, "s1", RoleUser, "again")
	msgs, err = h.Messages(context.Background(), "s1", 20)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "again" {
		t.Fatalf("expected single fresh message, got %+v", msgs)
	}
}

func TestHistory_ConnectivityLossSurfacesError(t *testing.T) {
	h, s := newTestHistory(t, time.Hour)

	mustAppend(t, h, "s1", RoleUser, "hello")
	s.Close()

	if _, err := h.Messages(context.Background(), "s1", 20); err == nil {
		t.Fatalf("expected error when redis is unreachable, got empty success")
	}
}

func TestHistory_AssistantMessageKeepsRetrievedContext(t *testing.T) {
	h, _ := newTestHistory(t, time.Hour)

	msg, err := NewMessage(RoleAssistant, "grounded answer")
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	msg.RetrievedContext = []rag.RetrievedDocument{{Content: "passage", Source: "file.pdf", Page: 3, Similarity: 0.9}}
	if err := h.Append(context.Background(), "s1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := h.Messages(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].RetrievedContext) != 1 {
		t.Fatalf("expected retrieved context to survive round trip, got %+v", msgs)
	}
	if msgs[0].RetrievedContext[0].Source != "file.pdf" {
		t.Fatalf("unexpected snapshot: %+v", msgs[0].RetrievedContext[0])
	}
}
