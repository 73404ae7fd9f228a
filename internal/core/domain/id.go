package domain

import (
	"github.com/google/uuid"
)

// CallID is assigned by the signaling service and is opaque to us.
type CallID string

// PeerID identifies the remote party on the signaling service.
type PeerID string

// OperatorID identifies the local on-duty operator.
type OperatorID string

func (id CallID) String() string {
	return string(id)
}

func (id PeerID) String() string {
	return string(id)
}

func (id OperatorID) String() string {
	return string(id)
}

type StreamID string

func NewStreamID() StreamID {
	return StreamID(uuid.New().String())
}

func (id StreamID) String() string {
	return string(id)
}
