package transport

import (
	"errors"
	"fmt"
	"time"
)

// Delivery failures reported by an Adapter. Match with errors.Is / errors.As.
var (
	ErrBlocked          = errors.New("transport: recipient blocked the bot")
	ErrDeactivated      = errors.New("transport: recipient account deactivated")
	ErrInvalidRecipient = errors.New("transport: recipient id invalid")
)

// FloodWaitError means the platform refused the call and requires a pause of RetryAfter.
type FloodWaitError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *FloodWaitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: flood wait %s: %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("transport: flood wait %s", e.RetryAfter)
}

func (e *FloodWaitError) Unwrap() error { return e.Cause }

// AsFloodWait extracts the mandated wait from err.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.RetryAfter, true
	}
	return 0, false
}
