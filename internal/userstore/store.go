// Package userstore keeps the bot's users, bans, access tokens and
// verification records. Redis is the primary driver; the memory driver is
// used when Redis is not configured or unreachable at startup.
package userstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("userstore: not found")

type User struct {
	ID        int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Token struct {
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Verification struct {
	VerifiedAt time.Time `json:"verified_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Settings control token lifetimes.
type Settings struct {
	// TokenDuration is how long a token grants access after it is generated.
	TokenDuration time.Duration `json:"token_duration"`
	// Validity is how long token and verification records are retained.
	Validity time.Duration `json:"validity"`
}

func DefaultSettings() Settings {
	return Settings{TokenDuration: time.Hour, Validity: 24 * time.Hour}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.TokenDuration <= 0 {
		s.TokenDuration = d.TokenDuration
	}
	if s.Validity <= 0 {
		s.Validity = d.Validity
	}
	return s
}

type Stats struct {
	TotalUsers   int `json:"total_users"`
	ActiveTokens int `json:"active_tokens"`
	Banned       int `json:"banned"`
	Settings
}

type Store interface {
	AddUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (User, error)
	// AllUsers lists user ids in join order.
	AllUsers(ctx context.Context) ([]int64, error)

	Ban(ctx context.Context, id int64) error
	Unban(ctx context.Context, id int64) error
	IsBanned(ctx context.Context, id int64) (bool, error)

	// SaveToken issues a token generated now.
	SaveToken(ctx context.Context, id int64) (Token, error)
	GetToken(ctx context.Context, id int64) (Token, error)
	IsTokenValid(ctx context.Context, id int64) (bool, error)
	DeleteToken(ctx context.Context, id int64) error

	SaveVerification(ctx context.Context, id int64) (Verification, error)
	IsVerified(ctx context.Context, id int64) (bool, error)

	Settings(ctx context.Context) (Settings, error)
	SetSettings(ctx context.Context, s Settings) error
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

func tokenValid(t Token, s Settings, now time.Time) bool {
	return now.Sub(t.GeneratedAt) < s.TokenDuration
}

func newToken(s Settings, now time.Time) Token {
	return Token{GeneratedAt: now.UTC(), ExpiresAt: now.Add(s.TokenDuration).UTC()}
}

func newVerification(s Settings, now time.Time) Verification {
	return Verification{VerifiedAt: now.UTC(), ExpiresAt: now.Add(s.Validity).UTC()}
}

// countActive is shared by the drivers' Stats.
func countActive(ctx context.Context, st Store, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		ok, err := st.IsTokenValid(ctx, id)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
