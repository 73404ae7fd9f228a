package domain

type CallState string

const (
	StateIdle            CallState = "idle"
	StateRinging         CallState = "ringing"
	StateAccepted        CallState = "accepted"
	StateRejected        CallState = "rejected"
	StateWaitingForOffer CallState = "waiting_for_offer"
	StateNegotiating     CallState = "negotiating"
	StateConnecting      CallState = "connecting"
	StateConnected       CallState = "connected"
	StateReconnecting    CallState = "reconnecting"
	StateEnded           CallState = "ended"
	StateFailed          CallState = "failed"
)

var transitions = map[CallState][]CallState{
	StateIdle:            {StateRinging},
	StateRinging:         {StateAccepted, StateRejected},
	StateAccepted:        {StateWaitingForOffer, StateNegotiating, StateRejected},
	StateWaitingForOffer: {StateNegotiating},
	StateNegotiating:     {StateConnecting},
	StateConnecting:      {StateConnected},
	StateConnected:       {StateReconnecting},
	StateReconnecting:    {StateReconnecting, StateConnected},
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed || s == StateRejected
}

// AcceptsOffer reports whether a remote offer may be buffered in this state.
// Accepted is included because local media acquisition may still be in flight.
func (s CallState) AcceptsOffer() bool {
	return s == StateRinging || s == StateAccepted || s == StateWaitingForOffer
}

// Negotiated reports whether a peer link exists and the answer has been produced.
func (s CallState) Negotiated() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

func (s CallState) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is a legal edge. Ended and Failed
// are reachable from every non-terminal state.
func CanTransition(from, to CallState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateEnded || to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
