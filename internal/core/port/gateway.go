package port

import (
	"context"

	"github.com/Wyydra/vetcall/internal/core/domain"
)

// SignalingChannel is the typed boundary to the remote signaling service.
// Inbound messages are validated before they are delivered.
type SignalingChannel interface {
	Inbound() <-chan domain.Inbound

	Register(ctx context.Context, localID domain.OperatorID, role string) error
	AcceptCall(ctx context.Context, peer domain.PeerID) error
	RejectCall(ctx context.Context, peer domain.PeerID, reason string) error
	SendAnswer(ctx context.Context, peer domain.PeerID, desc domain.SessionDescription) error
	SendCandidate(ctx context.Context, peer domain.PeerID, candidate domain.Candidate) error
	// EndCall notifies the peer of termination. billing is nil when the call
	// failed rather than being closed by the operator.
	EndCall(ctx context.Context, peer domain.PeerID, billing *domain.Billing) error
}
