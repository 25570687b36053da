package domain

import "time"

// Status is the lifecycle state of a ValidationRequest.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// CanTransition reports whether from -> to is allowed. Pending is the only
// non-terminal state and there is no way back to it.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.IsTerminal()
}

// Transition moves r to the terminal status to. It returns false, leaving r
// untouched, when r is already terminal or to is not a terminal status. The
// first terminal event for a request therefore wins.
func (r *ValidationRequest) Transition(to Status, message string, at time.Time) bool {
	if !CanTransition(r.Status, to) {
		return false
	}
	r.Status = to
	r.Message = message
	r.ResolvedAt = &at
	return true
}

// StatusForDecision maps an admin decision flag onto a terminal status.
func StatusForDecision(validada bool) Status {
	if validada {
		return StatusApproved
	}
	return StatusRejected
}
