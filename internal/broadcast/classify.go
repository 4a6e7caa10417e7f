package broadcast

import (
	"errors"

	kit "gatebot/internal/transport"
)

// Outcome is the final classification of one delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBlocked
	OutcomeDeleted
	OutcomeInvalid
	OutcomeFloodWait
	OutcomeOther
	// OutcomeBanned marks a recipient skipped by the ban check; Classify never returns it.
	OutcomeBanned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeFloodWait:
		return "flood_wait"
	case OutcomeBanned:
		return "banned"
	default:
		return "other"
	}
}

// Classify maps a delivery error to an Outcome. The first matching rule wins.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch {
	case errors.Is(err, kit.ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, kit.ErrDeactivated):
		return OutcomeDeleted
	case errors.Is(err, kit.ErrInvalidRecipient):
		return OutcomeInvalid
	}
	if _, ok := kit.AsFloodWait(err); ok {
		return OutcomeFloodWait
	}
	return OutcomeOther
}
