package port

import (
	"context"

	"github.com/Wyydra/vetcall/internal/core/domain"
)

type Track interface {
	ID() string
	Kind() domain.TrackKind
	Stop()
}

// MediaHandle owns a set of tracks. Stop is idempotent; a stopped handle is
// never reused.
type MediaHandle interface {
	ID() domain.StreamID
	Tracks() []Track
	Stop()
}

// LinkHandler receives transport events for one peer link. Calls may come
// from any goroutine.
type LinkHandler interface {
	OnLocalCandidate(candidate domain.Candidate)
	OnRemoteTrack(track Track, stream domain.StreamID)
	OnConnectivityStateChange(state domain.ConnectivityState)
}

type PeerLink interface {
	AddLocalTrack(track Track) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	CreateAnswer(ctx context.Context, opts domain.AnswerOptions) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	AddRemoteCandidate(ctx context.Context, candidate domain.Candidate) error
	RestartConnectivity(ctx context.Context) error
	Close() error
}

// MediaTransport abstracts capture and peer connectivity.
type MediaTransport interface {
	// AcquireLocalMedia may block on a permission grant. Failures are
	// reported as *domain.MediaAcquisitionError.
	AcquireLocalMedia(ctx context.Context, constraints domain.MediaConstraints) (MediaHandle, error)
	CreatePeerLink(ctx context.Context, cfg domain.LinkConfig, handler LinkHandler) (PeerLink, error)
}
