package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// History is the Redis-backed session log. Each session key maps to an
// ordered list of JSON-encoded messages with a sliding expiry: every append
// resets the TTL, reads leave it untouched. A session referenced after expiry
// simply reads as empty and is recreated by the next append.
type History struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHistory(rdb *redis.Client, ttl time.Duration) *History {
	return &History{rdb: rdb, ttl: ttl}
}

func historyKey(sessionID string) string {
	return "chat_history:" + sessionID
}

// Append adds a message to the tail of the session log and resets the
// session's expiry window. A missing session is created implicitly.
func (h *History) Append(ctx context.Context, sessionID string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := historyKey(sessionID)
	if err := h.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if err := h.rdb.Expire(ctx, key, h.ttl).Err(); err != nil {
		return fmt.Errorf("reset session ttl: %w", err)
	}
	return nil
}

// Messages returns the most recent limit messages in chronological order,
// fewer if the log is shorter. Connectivity loss is surfaced as an error, not
// an empty slice, because an empty slice means "no history yet".
func (h *History) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	raws, err := h.rdb.LRange(ctx, historyKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode stored message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Clear deletes the session log. Idempotent: clearing an absent session is
// not an error.
func (h *History) Clear(ctx context.Context, sessionID string) error {
	if err := h.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// FormatHistory renders messages as "role: content" lines for prompt input.
func FormatHistory(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
