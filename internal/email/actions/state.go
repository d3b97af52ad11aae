package actions

import "sync"

// Phase is where a room's reply conversation stands.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingTarget
	PhaseDrafted
	PhaseSent
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingTarget:
		return "awaiting_target"
	case PhaseDrafted:
		return "drafted"
	case PhaseSent:
		return "sent"
	default:
		return "idle"
	}
}

// roomState is the conversation state of one room. Handle holds mu for
// the whole turn, so turns in a room never interleave.
type roomState struct {
	mu sync.Mutex

	phase Phase

	// lastChecked holds the mail UUIDs of the latest Check, in listing
	// order. Ordinal references index into it.
	lastChecked []string

	// focus is the email the conversation is currently about.
	focus string

	// pendingID is the draft awaiting confirmation in PhaseDrafted.
	pendingID string

	// awaiting remembers whether a custom or generated reply was asked
	// for while in PhaseAwaitingTarget.
	awaiting Command
}

func (r *roomState) toIdle() {
	r.phase = PhaseIdle
	r.pendingID = ""
	r.awaiting = Command{}
}

func (r *roomState) drafted(mailUUID, pendingID string) {
	r.phase = PhaseDrafted
	r.focus = mailUUID
	r.pendingID = pendingID
	r.awaiting = Command{}
}

func (r *roomState) sent(mailUUID string) {
	r.phase = PhaseSent
	r.focus = mailUUID
	r.pendingID = ""
	r.awaiting = Command{}
}

type rooms struct {
	mu   sync.Mutex
	byID map[string]*roomState
}

func (rs *rooms) get(roomID string) *roomState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.byID == nil {
		rs.byID = make(map[string]*roomState)
	}
	r, ok := rs.byID[roomID]
	if !ok {
		r = &roomState{}
		rs.byID[roomID] = r
	}
	return r
}
