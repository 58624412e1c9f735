package orchestrator

import (
	"github.com/vctt94/slotbisonrelay/pkg/statemachine"
)

// State is the top level orchestrator state. Turbo, enhanced bet and
// autoplay are carried alongside it as flags.
type State int

const (
	StateIdle State = iota
	StateRequestInFlight
	StateReelAnimating
	StateBalanceSyncing
	StateAutoplayScheduled
	StateBonusSequenceActive
	StateErrorAuth
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestInFlight:
		return "request_in_flight"
	case StateReelAnimating:
		return "reel_animating"
	case StateBalanceSyncing:
		return "balance_syncing"
	case StateAutoplayScheduled:
		return "autoplay_scheduled"
	case StateBonusSequenceActive:
		return "bonus_sequence_active"
	case StateErrorAuth:
		return "error_auth"
	default:
		return "unknown"
	}
}

// transitions lists the allowed moves. ErrorAuth is reachable from anywhere
// because a balance refresh may be rejected in any state.
var transitions = map[State][]State{
	StateIdle: {
		StateRequestInFlight,
		StateAutoplayScheduled,
	},
	StateAutoplayScheduled: {
		StateRequestInFlight,
		StateIdle,
	},
	StateRequestInFlight: {
		StateReelAnimating,
		StateIdle,
	},
	StateReelAnimating: {
		StateBalanceSyncing,
		StateBonusSequenceActive,
	},
	StateBalanceSyncing: {
		StateIdle,
		StateAutoplayScheduled,
		StateBonusSequenceActive,
	},
	StateBonusSequenceActive: {
		StateReelAnimating,
		StateIdle,
	},
	StateErrorAuth: {
		StateIdle,
	},
}

func newStateMachine() *statemachine.StateMachine[State] {
	sm := statemachine.NewStateMachine(StateIdle, transitions)
	sm.AllowFromAny(StateErrorAuth)
	return sm
}
