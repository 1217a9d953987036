package swapfsm

import (
	"errors"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/coordinatorerrors"
)

func TestHappyPathTransitions(t *testing.T) {
	now := time.Now()
	state := StatePending

	state, err := Transition(state, EventSourceFunded, Input{Now: now})
	if err != nil || state != StateSourceLocked {
		t.Fatalf("source_funded: state=%s err=%v", state, err)
	}

	in := Input{
		Now:                 now,
		SourceTimelock:      now.Add(2 * time.Hour),
		DestinationTimelock: now.Add(1 * time.Hour),
		SafetyWindow:        30 * time.Minute,
	}
	state, err = Transition(state, EventDestinationFunded, in)
	if err != nil || state != StatePoolFulfilled {
		t.Fatalf("destination_funded: state=%s err=%v", state, err)
	}

	state, err = Transition(state, EventUserClaimed, Input{Now: now})
	if err != nil || state != StateUserClaimed {
		t.Fatalf("user_claimed: state=%s err=%v", state, err)
	}

	if !state.IsTerminal() {
		t.Errorf("USER_CLAIMED should be terminal")
	}
}

func TestDestinationFundedRejectsNarrowSafetyWindow(t *testing.T) {
	now := time.Now()
	in := Input{
		Now:                 now,
		SourceTimelock:      now.Add(time.Hour),
		DestinationTimelock: now.Add(50 * time.Minute), // within 30m of source_timelock
		SafetyWindow:        30 * time.Minute,
	}
	_, err := Transition(StateSourceLocked, EventDestinationFunded, in)
	if err == nil {
		t.Fatal("expected safety window violation")
	}
	if !coordinatorerrors.IsKind(err, coordinatorerrors.KindValidation) {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestTimeoutFromPendingAndSourceLocked(t *testing.T) {
	for _, from := range []State{StatePending, StateSourceLocked} {
		state, err := Transition(from, EventTimeout, Input{})
		if err != nil || state != StateExpired {
			t.Errorf("timeout from %s: state=%s err=%v", from, state, err)
		}
	}

	_, err := Transition(StatePoolFulfilled, EventTimeout, Input{})
	if err == nil {
		t.Error("expected illegal_event from POOL_FULFILLED")
	}
}

func TestNoTransitionOutOfTerminalState(t *testing.T) {
	for _, term := range []State{StateUserClaimed, StateExpired, StateFailed} {
		_, err := Transition(term, EventSourceFunded, Input{})
		if err == nil {
			t.Errorf("expected error transitioning out of terminal state %s", term)
		}
		var ce *coordinatorerrors.CoordinatorError
		if !errors.As(err, &ce) || ce.Kind != coordinatorerrors.KindInvariantViolation {
			t.Errorf("expected InvariantViolation, got %v", err)
		}
	}
}

func TestUnrecoverableFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []State{StatePending, StateSourceLocked, StatePoolFulfilled} {
		state, err := Transition(from, EventUnrecoverable, Input{})
		if err != nil || state != StateFailed {
			t.Errorf("unrecoverable from %s: state=%s err=%v", from, state, err)
		}
	}
}

func TestValidPathAcceptsAndRejects(t *testing.T) {
	good := []State{StatePending, StateSourceLocked, StatePoolFulfilled, StateUserClaimed}
	if !ValidPath(good) {
		t.Error("expected happy path to validate")
	}

	bad := []State{StatePending, StatePoolFulfilled}
	if ValidPath(bad) {
		t.Error("expected skipping SOURCE_LOCKED to be rejected")
	}

	if ValidPath(nil) {
		t.Error("expected empty path to be rejected")
	}
}
