package broadcast

import (
	"context"
	"fmt"
	"time"

	"gatebot/pkg/logx"
)

// DispatchToRecipients delivers p to ids with the reduced procedure: no ban
// check, no flood retry, no progress reports, no pinning, and no registry
// entry. Every recipient ends up as success or generic failed.
func (e *Engine) DispatchToRecipients(ctx context.Context, ids []int64, p Payload) Stats {
	st := Stats{Total: len(ids)}
	if p.empty() {
		st.Failed = len(ids)
		return st
	}
	start := time.Now()
	_, flood := e.snapshot()
	p.Pin = false

	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.send(ctx, id, p); err != nil {
			st.Failed++
			e.obs.ObserveOutcome(OutcomeOther)
			e.log.Debug("targeted delivery failed", logx.Int64("user", id), logx.Err(err))
		} else {
			st.Success++
			e.obs.ObserveOutcome(OutcomeSuccess)
		}
		if i < len(ids)-1 {
			if err := flood.Pace(ctx); err != nil {
				break
			}
		}
	}
	e.log.Info("targeted dispatch finished",
		logx.Int("total", st.Total),
		logx.Int("success", st.Success),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	)
	return st
}

// DispatchToActiveRecipients delivers p to the users whose access token is
// still valid. Token lookups that fail exclude the user.
func (e *Engine) DispatchToActiveRecipients(ctx context.Context, p Payload) (Stats, error) {
	all, err := e.users.AllUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("broadcast: list recipients: %w", err)
	}
	active := make([]int64, 0, len(all))
	for _, id := range all {
		ok, err := e.users.IsTokenValid(ctx, id)
		if err != nil {
			e.log.Warn("token lookup failed; excluding recipient", logx.Int64("user", id), logx.Err(err))
			continue
		}
		if ok {
			active = append(active, id)
		}
	}
	e.log.Info("active recipients selected", logx.Int("all", len(all)), logx.Int("active", len(active)))
	return e.DispatchToRecipients(ctx, active, p), nil
}
