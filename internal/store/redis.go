package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/user"
)

const (
	redisMessagesKey = "chat:messages"
	redisSeqKey      = "chat:messages:seq"
)

// userKey returns the Redis key for a user record.
func userKey(username string) string {
	return "chat:user:" + username
}

// Redis stores users as JSON strings and messages in a sorted set scored
// by timestamp in microseconds. Each member is the message JSON prefixed
// with a zero-padded insert sequence, so members sharing a score sort in
// insertion order.
type Redis struct {
	client    redis.UniversalClient
	retention int64
}

// NewRedis wraps client. retention > 0 trims the message set to the
// newest retention entries on every insert.
func NewRedis(client redis.UniversalClient, retention int) *Redis {
	return &Redis{client: client, retention: int64(retention)}
}

// OpenRedis connects to the server at uri (redis://host:port/db).
func OpenRedis(ctx context.Context, uri string, retention int) (*Redis, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, retention), nil
}

func (s *Redis) CreateUser(ctx context.Context, u *user.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return wrap("create_user", err)
	}
	ok, err := s.client.SetNX(ctx, userKey(u.Username), data, 0).Result()
	if err != nil {
		return wrap("create_user", err)
	}
	if !ok {
		return ErrDuplicateUsername
	}
	return nil
}

func (s *Redis) getUser(ctx context.Context, username string) (*user.User, error) {
	data, err := s.client.Get(ctx, userKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %q: %w", username, err)
	}
	return &u, nil
}

func (s *Redis) FindUser(ctx context.Context, username, password string) (*user.User, error) {
	u, err := s.getUser(ctx, username)
	if err != nil {
		return nil, wrap("find_user", err)
	}
	if u.Password != password {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Redis) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	u, err := s.getUser(ctx, username)
	if err != nil {
		return wrap("update_last_login", err)
	}
	u.LastLogin = at
	data, err := json.Marshal(u)
	if err != nil {
		return wrap("update_last_login", err)
	}
	if err := s.client.Set(ctx, userKey(username), data, 0).Err(); err != nil {
		return wrap("update_last_login", err)
	}
	return nil
}

func (s *Redis) InsertMessage(ctx context.Context, m *message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return wrap("insert_message", err)
	}
	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return wrap("insert_message", err)
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, redisMessagesKey, redis.Z{
		Score:  float64(m.Timestamp.UnixMicro()),
		Member: fmt.Sprintf("%020d|%s", seq, data),
	})
	if s.retention > 0 {
		pipe.ZRemRangeByRank(ctx, redisMessagesKey, 0, -s.retention-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("insert_message", err)
	}
	return nil
}

func (s *Redis) RecentMessages(ctx context.Context, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := s.client.ZRevRange(ctx, redisMessagesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, wrap("query_recent_messages", err)
	}

	msgs := make([]*message.Message, 0, len(vals))
	for _, v := range vals {
		_, body, ok := strings.Cut(v, "|")
		if !ok {
			continue
		}
		var m message.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// Count returns the number of stored messages.
func (s *Redis) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, redisMessagesKey).Result()
}

func (s *Redis) Close(ctx context.Context) error {
	return s.client.Close()
}
