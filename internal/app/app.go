// Package app wires gatebot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatebot/internal/bot"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/metrics"
	"gatebot/internal/runtime/supervisor"
	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	telegram "gatebot/internal/transport/telegram/adapter"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	runs *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter    *telegram.Adapter
	users      userstore.Store
	audit      storage.Store
	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	engine     *broadcast.Engine
	cooldown   *bot.Cooldown
	bot        *bot.Bot
	maint      *Maintenance

	updates chan kit.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)

	users := userstore.Open(ctx, mapRedis(cfg), log.With(logx.String("comp", "userstore")))
	if cur, err := users.Settings(ctx); err == nil {
		if set, changed := accessSettings(cfg, cur); changed {
			if err := users.SetSettings(ctx, set); err != nil {
				log.Warn("access settings not applied", logx.Err(err))
			}
		}
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = users.Close()
		return nil, err
	}
	audit, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = users.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if audit != nil {
		log.Info("audit storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = users.Close()
		return nil, err
	}
	m := metrics.New()
	engine := broadcast.New(bcfg, ad, users, log.With(logx.String("comp", "broadcast")), broadcast.WithObserver(m))

	_, _, gap := cfg.Access.Durations()
	cooldown := bot.NewCooldown(gap)
	runs := supervisor.New(context.Background(), supervisor.WithLogger(log.With(logx.String("comp", "broadcast.runs"))))

	b := bot.New(bot.Deps{
		Adapter:  ad,
		Users:    users,
		Engine:   engine,
		Audit:    audit,
		Observer: m,
		Runs:     runs,
		Cooldown: cooldown,
		Log:      log,
	}, bot.Options{
		Admins:          cfg.Telegram.AdminUserIDs,
		VerificationURL: cfg.Access.VerificationURL,
	})

	maintLog := log.With(logx.String("comp", "maintenance"))
	maint := NewMaintenance(maintLog,
		func() {
			if n := engine.Registry().Prune(); n > 0 {
				maintLog.Debug("runs pruned", logx.Int("count", n), logx.Int("left", engine.Registry().Len()))
			}
		},
		func() { cooldown.Prune() },
	)

	return &App{
		cfgm:       cfgm,
		runs:       runs,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		adapter:    ad,
		users:      users,
		audit:      audit,
		metrics:    m,
		metricsSrv: metrics.NewServer(m, log),
		engine:     engine,
		cooldown:   cooldown,
		bot:        b,
		maint:      maint,
		updates:    make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapBroadcastConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	cfg := a.cfgm.Get()
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(context.Context) {
		if err := a.adapter.SetCommands(a.bot.Router().Menu()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})
	a.sup.Go("bot.router", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	if err := a.metricsSrv.Apply(a.sup.Context(), mapMetrics(cfg)); err != nil {
		a.log.Warn("metrics server not started", logx.Err(err))
	}
	if err := a.maint.Apply(cfg.Broadcast.Schedule()); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, "READY=1")
	a.log.Info("app started",
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
		logx.Bool("audit", a.audit != nil),
		logx.Bool("metrics", cfg.Metrics.Enabled),
	)
	return nil
}

// applyConfig pushes a validated config to every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.bot.SetAdmins(next.Telegram.AdminUserIDs)
	a.bot.SetVerificationURL(next.Access.VerificationURL)
	_, _, gap := next.Access.Durations()
	a.cooldown.SetGap(gap)

	if bcfg, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(bcfg)
	}
	if err := a.maint.Apply(next.Broadcast.Schedule()); err != nil {
		a.log.Warn("invalid prune schedule; keeping previous", logx.Err(err))
	}
	if err := a.metricsSrv.Apply(ctx, mapMetrics(next)); err != nil {
		a.log.Warn("metrics server apply failed", logx.Err(err))
	}
	if prev.Access != next.Access {
		if cur, err := a.users.Settings(ctx); err == nil {
			if set, changed := accessSettings(next, cur); changed {
				if err := a.users.SetSettings(ctx, set); err != nil {
					a.log.Warn("access settings not applied", logx.Err(err))
				}
			}
		}
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("maintenance", time.Second, func(context.Context) error { a.maint.Stop(); return nil })
	// Broadcasts stop at their next recipient and still report a summary.
	step("broadcasts", 5*time.Second, func(c context.Context) error { return a.runs.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	step("userstore", time.Second, func(context.Context) error { return a.users.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.audit != nil {
			return a.audit.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
