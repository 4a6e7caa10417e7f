package userstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]User
	banned   map[int64]struct{}
	tokens   map[int64]Token
	verify   map[int64]Verification
	settings Settings
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[int64]User{},
		banned:   map[int64]struct{}{},
		tokens:   map[int64]Token{},
		verify:   map[int64]Verification{},
		settings: DefaultSettings(),
		now:      time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) AddUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok && u.JoinedAt.IsZero() {
		u.JoinedAt = old.JoinedAt
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = s.now().UTC()
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) AllUsers(context.Context) ([]int64, error) {
	s.mu.RLock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func (s *MemoryStore) Ban(_ context.Context, id int64) error {
	s.mu.Lock()
	s.banned[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Unban(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.banned, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsBanned(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	_, ok := s.banned[id]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) SaveToken(_ context.Context, id int64) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newToken(s.settings, s.now())
	s.tokens[id] = t
	return t, nil
}

// GetToken also honours the retention window the Redis driver gets from key TTLs.
func (s *MemoryStore) GetToken(_ context.Context, id int64) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok || s.now().Sub(t.GeneratedAt) >= s.settings.Validity {
		return Token{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) IsTokenValid(ctx context.Context, id int64) (bool, error) {
	t, err := s.GetToken(ctx, id)
	if err != nil {
		return false, nil
	}
	s.mu.RLock()
	set := s.settings
	s.mu.RUnlock()
	return tokenValid(t, set, s.now()), nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveVerification(_ context.Context, id int64) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := newVerification(s.settings, s.now())
	s.verify[id] = v
	return v, nil
}

func (s *MemoryStore) IsVerified(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	v, ok := s.verify[id]
	s.mu.RUnlock()
	return ok && v.ExpiresAt.After(s.now()), nil
}

func (s *MemoryStore) Settings(context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *MemoryStore) SetSettings(_ context.Context, set Settings) error {
	s.mu.Lock()
	s.settings = set.withDefaults()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	ids, _ := s.AllUsers(ctx)
	active, err := countActive(ctx, s, ids)
	if err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	banned, set := len(s.banned), s.settings
	s.mu.RUnlock()
	return Stats{TotalUsers: len(ids), ActiveTokens: active, Banned: banned, Settings: set}, nil
}
