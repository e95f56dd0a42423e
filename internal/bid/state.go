package bid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foundry-cloud/flow/internal/models"
)

type State int

const (
	Unsubmitted State = iota
	Submitted
	Active
	Rejected
	Canceled
	Terminal
)

func (s State) String() string {
	switch s {
	case Unsubmitted:
		return "UNSUBMITTED"
	case Submitted:
		return "SUBMITTED"
	case Active:
		return "ACTIVE"
	case Rejected:
		return "REJECTED"
	case Canceled:
		return "CANCELED"
	case Terminal:
		return "TERMINAL"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrIllegalTransition = errors.New("illegal bid state transition")

var transitions = map[State][]State{
	Unsubmitted: {Submitted},
	Submitted:   {Active, Rejected, Canceled},
	Active:      {Canceled, Terminal},
	Rejected:    {Canceled, Terminal},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateOf maps a server status string onto a State. Unknown statuses are
// treated as still pending.
func StateOf(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "allocated", "fulfilled", "provisioned", "running", "won":
		return Active
	case "rejected", "failed", "lost", "outbid":
		return Rejected
	case "canceled", "cancelled":
		return Canceled
	case "terminated", "completed", "closed", "expired", "deactivated":
		return Terminal
	}
	return Submitted
}

// Tracker follows one bid through its local lifecycle.
type Tracker struct {
	state   State
	history []State
}

func NewTracker() *Tracker {
	return &Tracker{state: Unsubmitted, history: []State{Unsubmitted}}
}

// TrackerFor starts tracking a bid that already exists on the server.
func TrackerFor(b models.Bid) *Tracker {
	s := StateOf(b.Status)
	return &Tracker{state: s, history: []State{s}}
}

func (t *Tracker) State() State { return t.state }

func (t *Tracker) History() []State {
	return append([]State(nil), t.history...)
}

func (t *Tracker) Advance(to State) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, to)
	}
	t.state = to
	t.history = append(t.history, to)
	return nil
}

// Observe applies a server-reported status. Reporting the current state
// again is a no-op.
func (t *Tracker) Observe(b models.Bid) error {
	s := StateOf(b.Status)
	if s == t.state {
		return nil
	}
	return t.Advance(s)
}
