package broadcast

import "fmt"

// Stats aggregates the outcome of a run. Counters only grow while the run is
// in flight; Blocked and Deleted are sub-counts of Failed.
type Stats struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Blocked int      `json:"blocked"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
	// Dropped counts diagnostics evicted from Errors after it hit its cap.
	Dropped int `json:"dropped,omitempty"`
}

// Attempted is the number of recipients that reached a final outcome.
func (s Stats) Attempted() int { return s.Success + s.Failed }

func (s Stats) clone() Stats {
	cp := s
	if len(s.Errors) > 0 {
		cp.Errors = append([]string(nil), s.Errors...)
	}
	return cp
}

// addError keeps at most max diagnostics, newest last.
func (s *Stats) addError(msg string, max int) {
	if max <= 0 {
		s.Dropped++
		return
	}
	if len(s.Errors) < max {
		s.Errors = append(s.Errors, msg)
		return
	}
	copy(s.Errors, s.Errors[1:])
	s.Errors[len(s.Errors)-1] = msg
	s.Dropped++
}

// record applies one classified outcome for userID.
func (s *Stats) record(o Outcome, userID int64, err error, maxErrors int) {
	switch o {
	case OutcomeSuccess:
		s.Success++
	case OutcomeBlocked:
		s.Blocked++
		s.Failed++
	case OutcomeDeleted:
		s.Deleted++
		s.Failed++
	case OutcomeInvalid, OutcomeBanned:
		s.Failed++
	default:
		s.Failed++
		s.addError(diagnostic(userID, err), maxErrors)
	}
}

func diagnostic(userID int64, err error) string {
	return fmt.Sprintf("User %d: %v", userID, err)
}
