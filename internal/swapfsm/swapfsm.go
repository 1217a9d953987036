// Package swapfsm implements the Swap State Machine: a pure transition
// function over a swap's lifecycle state. It holds no storage reference
// and performs no I/O — it only decides whether an event is legal from the
// current state, and if so what the next state is. The Store persists a
// transition only if Transition returns a nil error.
package swapfsm

import (
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

// State is a swap's lifecycle stage.
type State string

const (
	StatePending        State = "PENDING"
	StateSourceLocked    State = "SOURCE_LOCKED"
	StatePoolFulfilled   State = "POOL_FULFILLED"
	StateUserClaimed     State = "USER_CLAIMED"
	StateExpired         State = "EXPIRED"
	StateFailed          State = "FAILED"
)

// IsTerminal reports whether a state has no outgoing transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateUserClaimed, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

// Event is a fact presented to the transition function.
type Event string

const (
	// EventSourceFunded fires when the Resolver's W1 worker observes the
	// user's HTLC Funded event on the source chain.
	EventSourceFunded Event = "source_funded"
	// EventDestinationFunded fires when W2 confirms the pool's HTLC fund
	// call on the destination chain.
	EventDestinationFunded Event = "destination_funded"
	// EventUserClaimed fires when the Relayer confirms the user's claim
	// transaction on the source chain.
	EventUserClaimed Event = "user_claimed"
	// EventTimeout fires when W3 observes an expired swap.
	EventTimeout Event = "timeout"
	// EventUnrecoverable fires on any error judged safe-but-fatal to the
	// swap (funds are safe, but the swap cannot proceed).
	EventUnrecoverable Event = "unrecoverable"
)

// Input bundles the data a transition needs beyond current state and
// event kind. Not every field is relevant to every event.
type Input struct {
	Now                 time.Time
	ExpiresAt           time.Time
	SourceTimelock      time.Time
	DestinationTimelock time.Time
	SafetyWindow        time.Duration
	// ObservedTimelock is the on-chain timelock reported by the source
	// HTLC's Funded event, checked against a minimum requirement.
	ObservedTimelock time.Time
	RequiredTimelock time.Time
}

// Transition is the pure function described in spec §4.2. It never mutates
// external state; callers are responsible for persisting the returned
// state only when err is nil.
func Transition(current State, event Event, in Input) (State, error) {
	if current.IsTerminal() {
		return current, coordinatorerrors.InvariantViolation("terminal_transition",
			"cannot transition out of terminal state "+string(current))
	}

	switch event {
	case EventSourceFunded:
		if current != StatePending {
			return current, coordinatorerrors.Validation("illegal_event",
				"source_funded only valid from PENDING, got "+string(current))
		}
		if !in.ObservedTimelock.IsZero() && !in.RequiredTimelock.IsZero() && in.ObservedTimelock.Before(in.RequiredTimelock) {
			return current, coordinatorerrors.Validation("timelock_too_short",
				"observed source timelock is earlier than required")
		}
		return StateSourceLocked, nil

	case EventDestinationFunded:
		if current != StateSourceLocked {
			return current, coordinatorerrors.Validation("illegal_event",
				"destination_funded only valid from SOURCE_LOCKED, got "+string(current))
		}
		if !in.DestinationTimelock.IsZero() && !in.SourceTimelock.IsZero() {
			required := in.SourceTimelock.Add(-in.SafetyWindow)
			if !in.DestinationTimelock.Before(required) {
				return current, coordinatorerrors.Validation("safety_window_violated",
					"destination_timelock + safety window must be before source_timelock")
			}
		}
		return StatePoolFulfilled, nil

	case EventUserClaimed:
		if current != StatePoolFulfilled {
			return current, coordinatorerrors.Validation("illegal_event",
				"user_claimed only valid from POOL_FULFILLED, got "+string(current))
		}
		return StateUserClaimed, nil

	case EventTimeout:
		switch current {
		case StatePending, StateSourceLocked:
			return StateExpired, nil
		default:
			return current, coordinatorerrors.Validation("illegal_event",
				"timeout only valid from PENDING or SOURCE_LOCKED, got "+string(current))
		}

	case EventUnrecoverable:
		// Any non-terminal state may fail safely.
		return StateFailed, nil

	default:
		return current, coordinatorerrors.Validation("unknown_event", "unrecognized event "+string(event))
	}
}

// ValidPath reports whether seq is a legal sequence of states starting from
// PENDING, used by tests asserting "every swap's state history is a path
// in the graph".
func ValidPath(seq []State) bool {
	if len(seq) == 0 {
		return false
	}
	if seq[0] != StatePending {
		return false
	}
	for i := 1; i < len(seq); i++ {
		if !edgeExists(seq[i-1], seq[i]) {
			return false
		}
	}
	return true
}

func edgeExists(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateSourceLocked || to == StateExpired || to == StateFailed
	case StateSourceLocked:
		return to == StatePoolFulfilled || to == StateExpired || to == StateFailed
	case StatePoolFulfilled:
		return to == StateUserClaimed || to == StateFailed
	default:
		return false
	}
}
