package userstore

import (
	"context"
	"time"

	"gatebot/pkg/logx"
)

// Open returns a Redis store when addr or url is set and reachable, and a
// memory store otherwise.
func Open(ctx context.Context, o RedisOptions, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if o.Addr == "" && o.URL == "" {
		log.Warn("redis not configured; using in-memory user store")
		return NewMemoryStore()
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := OpenRedis(pctx, o)
	if err != nil {
		log.Warn("redis unavailable; using in-memory user store (data lost on restart)", logx.Err(err))
		return NewMemoryStore()
	}
	log.Info("redis connected", logx.String("addr", o.Addr))
	return st
}
