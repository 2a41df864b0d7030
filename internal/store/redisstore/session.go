package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/chat"
	"github.com/redis/go-redis/v9"
)

const (
	messagesKey  = "chat-messages"
	sessionIDKey = "chat-session-id"
)

// SessionStorage keeps the two per-browsing-session entries (transcript and
// session id) under chedula:<browsing>:. Both expire after ttl of inactivity.
type SessionStorage struct {
	store    *Store
	browsing string
	ttl      time.Duration
}

var _ chat.Storage = (*SessionStorage)(nil)

func (s *Store) Session(browsing string, ttl time.Duration) *SessionStorage {
	return &SessionStorage{store: s, browsing: browsing, ttl: ttl}
}

func (ss *SessionStorage) key(name string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, ss.browsing, name)
}

func (ss *SessionStorage) Load(ctx context.Context) (chat.Persisted, error) {
	var p chat.Persisted
	vals, err := ss.store.rdb.MGet(ctx, ss.key(messagesKey), ss.key(sessionIDKey)).Result()
	if err != nil {
		return p, fmt.Errorf("load chat state: %w", err)
	}
	if raw, ok := vals[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Messages); err != nil {
			return chat.Persisted{}, fmt.Errorf("unmarshal chat messages: %w", err)
		}
	}
	if sid, ok := vals[1].(string); ok {
		p.SessionID = sid
	}
	return p, nil
}

func (ss *SessionStorage) Save(ctx context.Context, p chat.Persisted) error {
	msgs := p.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal chat messages: %w", err)
	}

	_, err = ss.store.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ss.key(messagesKey), data, ss.ttl)
		if p.SessionID != "" {
			pipe.Set(ctx, ss.key(sessionIDKey), p.SessionID, ss.ttl)
		} else {
			pipe.Del(ctx, ss.key(sessionIDKey))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save chat state: %w", err)
	}
	return nil
}

func (ss *SessionStorage) Clear(ctx context.Context) error {
	if err := ss.store.rdb.Del(ctx, ss.key(messagesKey), ss.key(sessionIDKey)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear chat state: %w", err)
	}
	return nil
}
