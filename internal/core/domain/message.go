package domain

import (
	"fmt"
)

type MessageType string

// Inbound message types.
const (
	MsgIncomingCall MessageType = "incoming_call"
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgCandidate    MessageType = "candidate"
	MsgCallEnded    MessageType = "call_ended"
	// MsgChannelDown is synthesized by the channel adapter when the
	// connection to the signaling service drops.
	MsgChannelDown MessageType = "channel_down"
)

// Outbound message types.
const (
	MsgRegister   MessageType = "register"
	MsgAcceptCall MessageType = "accept_call"
	MsgRejectCall MessageType = "reject_call"
	MsgEndCall    MessageType = "end_call"
)

type IncomingCall struct {
	CallID CallID
	PeerID PeerID
	Caller CallerInfo
}

func (n IncomingCall) Validate() error {
	if n.CallID == "" {
		return fmt.Errorf("%w: incoming_call without call id", ErrInvalidMessage)
	}
	if n.PeerID == "" {
		return fmt.Errorf("%w: incoming_call without peer id", ErrInvalidMessage)
	}
	return nil
}

// Inbound is one validated message from the signaling service. Exactly the
// payload matching Type is set.
type Inbound struct {
	Type        MessageType
	PeerID      PeerID
	Notice      *IncomingCall
	Description *SessionDescription
	Candidate   *Candidate
	Err         error
}

func (m Inbound) Validate() error {
	switch m.Type {
	case MsgIncomingCall:
		if m.Notice == nil {
			return fmt.Errorf("%w: incoming_call without payload", ErrInvalidMessage)
		}
		return m.Notice.Validate()
	case MsgOffer, MsgAnswer:
		if m.PeerID == "" {
			return fmt.Errorf("%w: %s without sender", ErrInvalidMessage, m.Type)
		}
		if m.Description == nil || m.Description.SDP == "" {
			return fmt.Errorf("%w: %s without session description", ErrInvalidMessage, m.Type)
		}
		return nil
	case MsgCandidate:
		if m.PeerID == "" {
			return fmt.Errorf("%w: candidate without sender", ErrInvalidMessage)
		}
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate without payload", ErrInvalidMessage)
		}
		return nil
	case MsgCallEnded, MsgChannelDown:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}

const (
	DefaultBillingAmount = 50
	DefaultBillingReason = "emergency"
)

type Billing struct {
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
	CallerName    string  `json:"callerName,omitempty"`
	CallerContact string  `json:"callerContact,omitempty"`
}

// WithDefaults fills zero fields from def and the caller metadata.
func (b Billing) WithDefaults(def Billing, caller CallerInfo) Billing {
	if b.Amount <= 0 {
		b.Amount = def.Amount
	}
	if b.Reason == "" {
		b.Reason = def.Reason
	}
	if b.CallerName == "" {
		b.CallerName = caller.DisplayName
	}
	if b.CallerContact == "" {
		b.CallerContact = caller.Contact
	}
	return b
}

// Reject reasons sent to the caller.
const (
	RejectUnavailable = "operator is not available"
	RejectBusy        = "busy"
	RejectTechnical   = "technical error while connecting"
)
