package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// Engine runs dispatches. It is safe for concurrent use; overlapping runs
// each own their stats but share the client's rate ceiling.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	flood *FloodController

	client   Client
	users    RecipientSource
	registry *Registry
	progress *ProgressReporter
	obs      Observer
	sleeper  Sleeper
	log      logx.Logger
}

type Option func(*Engine)

// WithSleeper replaces the wall-clock sleeper used for pacing and flood waits.
func WithSleeper(s Sleeper) Option { return func(e *Engine) { e.sleeper = s } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }

func New(cfg Config, client Client, users RecipientSource, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		client:  client,
		users:   users,
		obs:     nopObserver{},
		sleeper: realSleeper{},
		log:     log,
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	if e.registry == nil {
		e.registry = NewRegistry(cfg.RegistryMax, cfg.RegistryTTL)
	}
	e.flood = NewFloodController(FixedPacer{Delay: cfg.PacingDelay, Sleeper: e.sleeper}, e.sleeper)
	e.progress = NewProgressReporter(client, log.With(logx.String("comp", "broadcast.progress")))
	return e
}

// Apply swaps tunables. Runs already in flight pick up the new pacing on their next recipient.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.flood = NewFloodController(FixedPacer{Delay: cfg.PacingDelay, Sleeper: e.sleeper}, e.sleeper)
	e.mu.Unlock()
	e.registry.SetLimits(cfg.RegistryMax, cfg.RegistryTTL)
}

func (e *Engine) snapshot() (Config, *FloodController) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.flood
}

func (e *Engine) Registry() *Registry { return e.registry }

// RunStatus returns a copy of the registered run, or false for unknown ids.
func (e *Engine) RunStatus(id string) (RunSnapshot, bool) { return e.registry.Get(id) }

// Start registers a full dispatch to every known recipient and returns its id
// together with a function that executes it. Callers that want to reply with
// the id before the run finishes call exec in their own goroutine.
func (e *Engine) Start(ctx context.Context, operator int64, p Payload) (string, func(context.Context) (Stats, error), error) {
	if p.empty() {
		return "", nil, ErrEmptyPayload
	}
	ids, err := e.users.AllUsers(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("broadcast: list recipients: %w", err)
	}
	run := e.registry.Register(operator, len(ids))
	exec := func(ctx context.Context) (Stats, error) {
		return e.execute(ctx, run, ids, p)
	}
	return run.ID(), exec, nil
}

// DispatchToAll delivers p to every recipient known to the source, in order,
// and returns the final stats. It fails only when the recipient list cannot
// be read, or with ctx's error when the run is cut short by shutdown.
func (e *Engine) DispatchToAll(ctx context.Context, operator int64, p Payload) (Stats, error) {
	_, exec, err := e.Start(ctx, operator, p)
	if err != nil {
		return Stats{}, err
	}
	return exec(ctx)
}

func (e *Engine) execute(ctx context.Context, run *Run, ids []int64, p Payload) (Stats, error) {
	start := time.Now()
	snap := run.snapshot()
	log := e.log.With(logx.String("run", run.ID()))
	log.Info("broadcast started", logx.Int64("operator", snap.Operator), logx.Int("total", len(ids)), logx.Bool("pin", p.Pin), logx.Bool("silent", p.Silent))

	e.obs.RunStarted()
	defer e.obs.RunFinished()

	var runErr error
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		cfg, flood := e.snapshot()
		index := i + 1

		attempted, pace := e.visit(ctx, run, flood, id, p, cfg, log)
		if !attempted {
			continue
		}
		if index%cfg.ProgressEvery == 0 {
			cur := run.snapshot()
			e.progress.Report(ctx, cur.Operator, cur.Stats, index, len(ids))
		}
		if pace && index < len(ids) {
			if err := flood.Pace(ctx); err != nil {
				runErr = err
				break
			}
		}
	}

	e.registry.Complete(run.ID())
	final := run.snapshot()
	fields := []logx.Field{
		logx.Int("total", final.Stats.Total),
		logx.Int("success", final.Stats.Success),
		logx.Int("failed", final.Stats.Failed),
		logx.Int("blocked", final.Stats.Blocked),
		logx.Int("deleted", final.Stats.Deleted),
		logx.Duration("dur", time.Since(start)),
	}
	switch {
	case runErr != nil:
		log.Warn("broadcast interrupted", append(fields, logx.Err(runErr))...)
	case final.Stats.Failed > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}
	return final.Stats, runErr
}

// visit runs the per-recipient procedure. attempted is false when the
// recipient was skipped before any send; pace is false when no pacing delay
// should follow (skips and flood retries).
func (e *Engine) visit(ctx context.Context, run *Run, flood *FloodController, id int64, p Payload, cfg Config, log logx.Logger) (attempted, pace bool) {
	banned, err := e.users.IsBanned(ctx, id)
	if err != nil {
		log.Warn("ban lookup failed; skipping recipient", logx.Int64("user", id), logx.Err(err))
		run.update(func(s *Stats) {
			s.Failed++
			s.addError(diagnostic(id, fmt.Errorf("ban lookup: %w", err)), cfg.MaxErrors)
		})
		e.obs.ObserveOutcome(OutcomeOther)
		return false, false
	}
	if banned {
		run.update(func(s *Stats) { s.record(OutcomeBanned, id, nil, cfg.MaxErrors) })
		e.obs.ObserveOutcome(OutcomeBanned)
		return false, false
	}

	ref, err := e.send(ctx, id, p)
	if err == nil && p.Pin {
		if perr := e.client.Pin(ctx, ref, false); perr != nil {
			log.Debug("pin failed", logx.Int64("user", id), logx.Err(perr))
		}
	}

	o := Classify(err)
	if o != OutcomeFloodWait {
		if o == OutcomeOther {
			log.Debug("delivery failed", logx.Int64("user", id), logx.Err(err))
		}
		run.update(func(s *Stats) { s.record(o, id, err, cfg.MaxErrors) })
		e.obs.ObserveOutcome(o)
		return true, true
	}

	wait, _ := kit.AsFloodWait(err)
	log.Warn("flood wait; pausing run", logx.Int64("user", id), logx.Duration("retry_after", wait))
	e.obs.ObserveFloodWait(wait)
	if werr := flood.Wait(ctx, wait); werr != nil {
		run.update(func(s *Stats) { s.record(OutcomeOther, id, werr, cfg.MaxErrors) })
		e.obs.ObserveOutcome(OutcomeOther)
		return true, false
	}

	// One retry, no pin, and no second flood branch.
	_, rerr := e.send(ctx, id, p)
	ro := OutcomeSuccess
	if rerr != nil {
		ro = OutcomeOther
		log.Debug("retry after flood wait failed", logx.Int64("user", id), logx.Err(rerr))
	}
	run.update(func(s *Stats) { s.record(ro, id, rerr, cfg.MaxErrors) })
	e.obs.ObserveOutcome(ro)
	return true, false
}

func (e *Engine) send(ctx context.Context, id int64, p Payload) (kit.MessageRef, error) {
	to := kit.ChatTarget{ChatID: id}
	opt := &kit.SendOptions{
		ParseMode:      p.ParseMode,
		DisablePreview: true,
		Silent:         p.Silent,
		Buttons:        p.Buttons,
	}
	if p.File != "" {
		return e.client.SendFile(ctx, to, p.File, p.Text, opt)
	}
	return e.client.SendText(ctx, to, p.Text, opt)
}
