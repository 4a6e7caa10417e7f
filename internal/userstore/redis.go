package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyUsers    = "users"
	keySettings = "settings"
)

func userKey(id int64) string   { return fmt.Sprintf("user:%d", id) }
func banKey(id int64) string    { return fmt.Sprintf("ban:%d", id) }
func tokenKey(id int64) string  { return fmt.Sprintf("token:%d", id) }
func verifyKey(id int64) string { return fmt.Sprintf("verify:%d", id) }

type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// URL, when set, takes precedence over Addr/Password/DB.
	URL string
}

// OpenRedis connects and pings.
func OpenRedis(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	var opts *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("userstore: parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("userstore: ping redis: %w", err)
	}
	return NewRedisStore(rdb), nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) AddUser(ctx context.Context, u User) error {
	if u.JoinedAt.IsZero() {
		u.JoinedAt = s.now().UTC()
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, userKey(u.ID), b, 0)
		p.ZAddNX(ctx, keyUsers, redis.Z{Score: float64(u.JoinedAt.UnixNano()), Member: u.ID})
		return nil
	})
	return err
}

func (s *RedisStore) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.getJSON(ctx, userKey(id), &u)
	return u, err
}

func (s *RedisStore) AllUsers(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.ZRange(ctx, keyUsers, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisStore) Ban(ctx context.Context, id int64) error {
	return s.rdb.Set(ctx, banKey(id), "banned", 0).Err()
}

func (s *RedisStore) Unban(ctx context.Context, id int64) error {
	return s.rdb.Del(ctx, banKey(id)).Err()
}

func (s *RedisStore) IsBanned(ctx context.Context, id int64) (bool, error) {
	n, err := s.rdb.Exists(ctx, banKey(id)).Result()
	return n > 0, err
}

func (s *RedisStore) SaveToken(ctx context.Context, id int64) (Token, error) {
	set, err := s.Settings(ctx)
	if err != nil {
		return Token{}, err
	}
	t := newToken(set, s.now())
	return t, s.setJSON(ctx, tokenKey(id), t, set.Validity)
}

func (s *RedisStore) GetToken(ctx context.Context, id int64) (Token, error) {
	var t Token
	err := s.getJSON(ctx, tokenKey(id), &t)
	return t, err
}

func (s *RedisStore) IsTokenValid(ctx context.Context, id int64) (bool, error) {
	t, err := s.GetToken(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	set, err := s.Settings(ctx)
	if err != nil {
		return false, err
	}
	return tokenValid(t, set, s.now()), nil
}

func (s *RedisStore) DeleteToken(ctx context.Context, id int64) error {
	return s.rdb.Del(ctx, tokenKey(id)).Err()
}

func (s *RedisStore) SaveVerification(ctx context.Context, id int64) (Verification, error) {
	set, err := s.Settings(ctx)
	if err != nil {
		return Verification{}, err
	}
	v := newVerification(set, s.now())
	return v, s.setJSON(ctx, verifyKey(id), v, set.Validity)
}

func (s *RedisStore) IsVerified(ctx context.Context, id int64) (bool, error) {
	var v Verification
	err := s.getJSON(ctx, verifyKey(id), &v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.ExpiresAt.After(s.now()), nil
}

func (s *RedisStore) Settings(ctx context.Context) (Settings, error) {
	var set Settings
	err := s.getJSON(ctx, keySettings, &set)
	if errors.Is(err, ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return set.withDefaults(), nil
}

func (s *RedisStore) SetSettings(ctx context.Context, set Settings) error {
	return s.setJSON(ctx, keySettings, set.withDefaults(), 0)
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.AllUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	active, err := countActive(ctx, s, ids)
	if err != nil {
		return Stats{}, err
	}
	var banned int
	iter := s.rdb.Scan(ctx, 0, "ban:*", 100).Iterator()
	for iter.Next(ctx) {
		banned++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}
	set, err := s.Settings(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalUsers: len(ids), ActiveTokens: active, Banned: banned, Settings: set}, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("userstore: decode %s: %w", key, err)
	}
	return nil
}
