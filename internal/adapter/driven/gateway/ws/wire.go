package ws

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
)

// envelope is the frame exchanged with the signaling service.
type envelope struct {
	ID      string             `json:"id,omitempty"`
	Type    domain.MessageType `json:"type"`
	From    string             `json:"from,omitempty"`
	To      string             `json:"to,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

type registerPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type incomingCallPayload struct {
	CallID        string `json:"callId"`
	Reason        string `json:"reason,omitempty"`
	CallerName    string `json:"callerName,omitempty"`
	CallerContact string `json:"callerContact,omitempty"`
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

type endPayload struct {
	Billing *domain.Billing `json:"billing,omitempty"`
}

func encode(typ domain.MessageType, from, to string, payload any) ([]byte, error) {
	env := envelope{
		ID:   uuid.NewString(),
		Type: typ,
		From: from,
		To:   to,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// decode parses and validates one inbound frame. Anything that does not
// match the schema for its type is rejected with domain.ErrInvalidMessage.
func decode(data []byte) (domain.Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Inbound{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	msg := domain.Inbound{Type: env.Type, PeerID: domain.PeerID(env.From)}
	switch env.Type {
	case domain.MsgIncomingCall:
		var p incomingCallPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return domain.Inbound{}, err
		}
		msg.Notice = &domain.IncomingCall{
			CallID: domain.CallID(p.CallID),
			PeerID: domain.PeerID(env.From),
			Caller: domain.CallerInfo{
				Reason:      p.Reason,
				DisplayName: p.CallerName,
				Contact:     p.CallerContact,
			},
		}
	case domain.MsgOffer, domain.MsgAnswer:
		var desc domain.SessionDescription
		if err := unmarshalPayload(env, &desc); err != nil {
			return domain.Inbound{}, err
		}
		if desc.Type == "" {
			desc.Type = domain.SDPType(env.Type)
		}
		if string(desc.Type) != string(env.Type) {
			return domain.Inbound{}, fmt.Errorf("%w: %s carrying %s description", domain.ErrInvalidMessage, env.Type, desc.Type)
		}
		if err := validateSDP(desc.SDP); err != nil {
			return domain.Inbound{}, err
		}
		msg.Description = &desc
	case domain.MsgCandidate:
		var c domain.Candidate
		if err := unmarshalPayload(env, &c); err != nil {
			return domain.Inbound{}, err
		}
		msg.Candidate = &c
	}

	if err := msg.Validate(); err != nil {
		return domain.Inbound{}, err
	}
	return msg, nil
}

func unmarshalPayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", domain.ErrInvalidMessage, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidMessage, env.Type, err)
	}
	return nil
}

func validateSDP(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty session description", domain.ErrInvalidMessage)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: session description: %v", domain.ErrInvalidMessage, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: session description without media", domain.ErrInvalidMessage)
	}
	return nil
}
