package generic

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Transitions maps a status to the statuses it may move to.
// Statuses with no outgoing edges are terminal.
type Transitions[S comparable] map[S][]S

func (t Transitions[S]) Allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t Transitions[S]) IsTerminal(s S) bool { return len(t[s]) == 0 }

var BookingTransitions = Transitions[BookingStatus]{
	BookingApproved: {BookingCancelled},
}

// Approved leave can still be cancelled; doing so gives the days back.
var LeaveTransitions = Transitions[LeaveStatus]{
	LeavePending:  {LeaveApproved, LeaveRejected, LeaveCancelled},
	LeaveApproved: {LeaveCancelled},
}
