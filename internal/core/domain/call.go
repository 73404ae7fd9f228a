package domain

import (
	"time"
)

// DefaultMaxRetries bounds reconnection attempts per session.
const DefaultMaxRetries = 3

// CallerInfo is informational metadata about the caller, fixed at creation.
type CallerInfo struct {
	Reason      string `json:"reason"`
	DisplayName string `json:"callerDisplayName"`
	Contact     string `json:"callerContact"`
}

type StateChange struct {
	From CallState `json:"from"`
	To   CallState `json:"to"`
	At   time.Time `json:"at"`
}

// CallSession is the mutable state of one emergency call. It is owned by a
// single session loop and must not be shared across goroutines; readers get
// a Snapshot instead.
type CallSession struct {
	CallID CallID
	PeerID PeerID
	Caller CallerInfo

	State      CallState
	RetryCount int
	MaxRetries int

	// PendingOffer holds at most one unconsumed remote offer.
	PendingOffer *SessionDescription

	CreatedAt    time.Time
	TerminatedAt time.Time
	Cause        error

	History []StateChange
}

func NewCallSession(notice IncomingCall, maxRetries int, now time.Time) *CallSession {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &CallSession{
		CallID:     notice.CallID,
		PeerID:     notice.PeerID,
		Caller:     notice.Caller,
		State:      StateIdle,
		MaxRetries: maxRetries,
		CreatedAt:  now,
	}
}

// Transition moves the session to next, recording it in History.
func (c *CallSession) Transition(next CallState, now time.Time) error {
	if !CanTransition(c.State, next) {
		return &TransitionError{From: c.State, To: next}
	}
	c.History = append(c.History, StateChange{From: c.State, To: next, At: now})
	c.State = next
	if next.Terminal() {
		c.TerminatedAt = now
		c.PendingOffer = nil
	}
	return nil
}

// BufferOffer stores a remote offer until the session is ready to consume it.
// A newer offer from the same peer replaces an unconsumed one.
func (c *CallSession) BufferOffer(desc SessionDescription) error {
	if !c.State.AcceptsOffer() {
		return ErrDuplicateOffer
	}
	c.PendingOffer = &desc
	return nil
}

// TakeOffer consumes the buffered offer, if any. It never returns the same
// offer twice.
func (c *CallSession) TakeOffer() (SessionDescription, bool) {
	if c.PendingOffer == nil {
		return SessionDescription{}, false
	}
	desc := *c.PendingOffer
	c.PendingOffer = nil
	return desc, true
}

// CanRetry reports whether another reconnection attempt is allowed.
func (c *CallSession) CanRetry() bool {
	return c.RetryCount < c.MaxRetries
}

type Snapshot struct {
	CallID       CallID        `json:"callId"`
	PeerID       PeerID        `json:"peerId"`
	Caller       CallerInfo    `json:"caller"`
	State        CallState     `json:"state"`
	RetryCount   int           `json:"retryCount"`
	OfferPending bool          `json:"offerPending"`
	RemoteMedia  bool          `json:"remoteMedia"`
	CreatedAt    time.Time     `json:"createdAt"`
	TerminatedAt *time.Time    `json:"terminatedAt,omitempty"`
	Cause        string        `json:"cause,omitempty"`
	History      []StateChange `json:"history"`
}

func (c *CallSession) Snapshot() Snapshot {
	s := Snapshot{
		CallID:       c.CallID,
		PeerID:       c.PeerID,
		Caller:       c.Caller,
		State:        c.State,
		RetryCount:   c.RetryCount,
		OfferPending: c.PendingOffer != nil,
		CreatedAt:    c.CreatedAt,
		History:      append([]StateChange(nil), c.History...),
	}
	if !c.TerminatedAt.IsZero() {
		t := c.TerminatedAt
		s.TerminatedAt = &t
	}
	if c.Cause != nil {
		s.Cause = c.Cause.Error()
	}
	return s
}

// States returns the visited states in order, starting with the initial one.
func (s Snapshot) States() []CallState {
	if len(s.History) == 0 {
		return []CallState{s.State}
	}
	out := []CallState{s.History[0].From}
	for _, h := range s.History {
		out = append(out, h.To)
	}
	return out
}
