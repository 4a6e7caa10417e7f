package broadcast

import (
	"context"
	"errors"
	"time"

	kit "gatebot/internal/transport"
)

var ErrEmptyPayload = errors.New("broadcast: payload has neither text nor file")

type Config struct {
	// PacingDelay is slept after every send attempt except the last one.
	PacingDelay time.Duration
	// ProgressEvery reports progress to the operator every N recipients.
	ProgressEvery int
	// MaxErrors caps Stats.Errors; older diagnostics are dropped first.
	MaxErrors int
	// RegistryMax and RegistryTTL bound how many finished runs stay queryable.
	RegistryMax int
	RegistryTTL time.Duration
}

const (
	defaultPacingDelay   = 100 * time.Millisecond
	defaultProgressEvery = 50
	defaultMaxErrors     = 100
	defaultRegistryMax   = 200
	defaultRegistryTTL   = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.PacingDelay <= 0 {
		c.PacingDelay = defaultPacingDelay
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = defaultMaxErrors
	}
	if c.RegistryMax <= 0 {
		c.RegistryMax = defaultRegistryMax
	}
	if c.RegistryTTL <= 0 {
		c.RegistryTTL = defaultRegistryTTL
	}
	return c
}

// Payload is what gets delivered. A payload with File is sent as media with
// Text as caption; otherwise Text is sent alone.
type Payload struct {
	Text      string
	File      kit.FileRef
	ParseMode string
	Buttons   [][]kit.Button
	Silent    bool
	// Pin pins the delivered message for the recipient (best effort).
	Pin bool
}

func (p Payload) empty() bool { return p.Text == "" && p.File == "" }

// Client is the subset of the transport adapter the engine sends through.
type Client interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendFile(ctx context.Context, to kit.ChatTarget, file kit.FileRef, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
	Pin(ctx context.Context, ref kit.MessageRef, notify bool) error
}

// RecipientSource enumerates recipients and answers the per-user predicates.
type RecipientSource interface {
	AllUsers(ctx context.Context) ([]int64, error)
	IsBanned(ctx context.Context, userID int64) (bool, error)
	IsTokenValid(ctx context.Context, userID int64) (bool, error)
}

// Observer receives delivery events, e.g. for metrics. All methods must be cheap.
type Observer interface {
	ObserveOutcome(o Outcome)
	ObserveFloodWait(d time.Duration)
	RunStarted()
	RunFinished()
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(Outcome)         {}
func (nopObserver) ObserveFloodWait(time.Duration) {}
func (nopObserver) RunStarted()                    {}
func (nopObserver) RunFinished()                   {}
