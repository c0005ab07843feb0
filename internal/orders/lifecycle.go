package orders

// statusRank fixes the allowed transition order:
// pending -> routing -> building -> submitted -> {confirmed | failed}.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
	StatusFailed:    4,
}

// transitionDecision is the outcome of validating one status change
type transitionDecision int

const (
	// decisionApply records the event and moves the order forward
	decisionApply transitionDecision = iota
	// decisionReemit records the event without changing the current status;
	// this happens when a retried job re-announces a stage it already reached
	decisionReemit
	// decisionIgnore drops a stale event for a stage the order is already past
	decisionIgnore
)

// decideTransition validates a proposed status change against the current
// status. failed is reachable from any non-terminal state; every other
// transition must advance by exactly one stage. Terminal states are
// immutable.
func decideTransition(current, next Status) (transitionDecision, error) {
	if current.IsTerminal() {
		return decisionIgnore, ErrTerminalState
	}
	if next == StatusFailed {
		return decisionApply, nil
	}
	cur, ok := statusRank[current]
	if !ok {
		return decisionIgnore, NewError("UNKNOWN_STATUS", "unknown current status "+string(current))
	}
	nxt, ok := statusRank[next]
	if !ok {
		return decisionIgnore, NewError("UNKNOWN_STATUS", "unknown next status "+string(next))
	}
	switch {
	case nxt == cur+1:
		return decisionApply, nil
	case nxt == cur:
		return decisionReemit, nil
	case nxt < cur:
		return decisionIgnore, nil
	default:
		return decisionIgnore, ErrSkippedTransition
	}
}
