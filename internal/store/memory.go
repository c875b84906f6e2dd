package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/user"
)

// Memory keeps users and messages in process memory. It is used for
// tests and for running the relay without a database.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]user.User
	messages []message.Message
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]user.User)}
}

func (s *Memory) CreateUser(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrDuplicateUsername
	}
	s.users[u.Username] = *u
	return nil
}

func (s *Memory) FindUser(ctx context.Context, username, password string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok || u.Password != password {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *Memory) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = at
	s.users[username] = u
	return nil
}

func (s *Memory) InsertMessage(ctx context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *Memory) RecentMessages(ctx context.Context, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	sorted := make([]message.Message, len(s.messages))
	copy(sorted, s.messages)
	s.mu.RUnlock()

	// Oldest first, insertion order within a timestamp; read back newest first.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	n := min(limit, len(sorted))
	out := make([]*message.Message, 0, n)
	for i := len(sorted) - 1; i >= len(sorted)-n; i-- {
		out = append(out, &sorted[i])
	}
	return out, nil
}

// User returns a copy of the stored record for username.
func (s *Memory) User(username string) (user.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// Count returns the number of stored messages.
func (s *Memory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Memory) Close(ctx context.Context) error {
	return nil
}
