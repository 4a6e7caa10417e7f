package app

import (
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"gatebot/pkg/logx"
)

// Maintenance runs periodic housekeeping (run registry and cooldown pruning)
// on a cron schedule that can be changed at runtime.
type Maintenance struct {
	mu     sync.Mutex
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	spec   string
	jobs   []func()
}

func NewMaintenance(log logx.Logger, jobs ...func()) *Maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Maintenance{
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   jobs,
	}
}

// Apply (re)starts the schedule. An unchanged spec is a no-op.
func (m *Maintenance) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	sched, err := m.parser.Parse(spec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil && m.spec == spec {
		return nil
	}
	m.stopLocked()

	c := cron.New(cron.WithParser(m.parser))
	c.Schedule(sched, cron.FuncJob(m.RunOnce))
	c.Start()
	m.c, m.spec = c, spec
	m.log.Info("maintenance scheduled", logx.String("spec", spec))
	return nil
}

// RunOnce runs every job now. Panics are contained per job.
func (m *Maintenance) RunOnce() {
	for _, job := range m.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("maintenance job panicked", logx.Any("panic", r))
				}
			}()
			job()
		}()
	}
}

func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Maintenance) stopLocked() {
	if m.c == nil {
		return
	}
	<-m.c.Stop().Done()
	m.c, m.spec = nil, ""
}
