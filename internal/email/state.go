package email

import "fmt"

// SessionState is the lifecycle position of an incoming mail session.
type SessionState int

const (
	StateDisabled SessionState = iota
	StateConnecting
	StateIdle
	StateFetching
	StateBackoff
)

func (s SessionState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DisableReason records why a session sits in StateDisabled.
type DisableReason int

const (
	ReasonNone DisableReason = iota
	ReasonStopped
	ReasonOffline
	ReasonAuthRejected
	ReasonRetriesExhausted
	ReasonReset
)

func (r DisableReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonStopped:
		return "stopped"
	case ReasonOffline:
		return "offline"
	case ReasonAuthRejected:
		return "auth_rejected"
	case ReasonRetriesExhausted:
		return "retries_exhausted"
	case ReasonReset:
		return "reset"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// terminal reasons keep the session down until an explicit Reset.
func (r DisableReason) terminal() bool {
	return r == ReasonAuthRejected || r == ReasonRetriesExhausted
}

type event int

const (
	evStart event = iota
	evRetry
	evSelected
	evWatch
	evFetch
	evFail
	evStop
)

func (e event) String() string {
	return [...]string{"start", "retry", "selected", "watch", "fetch", "fail", "stop"}[e]
}

// transitions lists every legal move. Anything absent is rejected, so a
// retry can never fire on a disabled session.
var transitions = map[SessionState]map[event]SessionState{
	StateDisabled: {
		evStart: StateConnecting,
		evStop:  StateDisabled,
	},
	StateConnecting: {
		evSelected: StateFetching,
		evFail:     StateBackoff,
		evStop:     StateDisabled,
	},
	StateFetching: {
		evWatch: StateIdle,
		evFail:  StateBackoff,
		evStop:  StateDisabled,
	},
	StateIdle: {
		evFetch: StateFetching,
		evFail:  StateBackoff,
		evStop:  StateDisabled,
	},
	StateBackoff: {
		evRetry: StateConnecting,
		evStop:  StateDisabled,
	},
}

// next returns the state reached from s on ev.
func next(s SessionState, ev event) (SessionState, error) {
	to, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("illegal session transition: %s on %s", s, ev)
	}
	return to, nil
}
