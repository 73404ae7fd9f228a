package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/google/uuid"
)

var ErrLinkClosed = errors.New("peer link closed")

const answerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=sendrecv\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\na=sendrecv\r\n"

type Track struct {
	id      string
	kind    domain.TrackKind
	stopped atomic.Bool
}

func newTrack(kind domain.TrackKind) *Track {
	return &Track{id: uuid.NewString(), kind: kind}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) Stop()                  { t.stopped.Store(true) }
func (t *Track) Stopped() bool          { return t.stopped.Load() }

type Handle struct {
	id      domain.StreamID
	tracks  []*Track
	stopped atomic.Bool
}

func (h *Handle) ID() domain.StreamID { return h.id }

func (h *Handle) Tracks() []port.Track {
	out := make([]port.Track, len(h.tracks))
	for i, t := range h.tracks {
		out[i] = t
	}
	return out
}

func (h *Handle) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, t := range h.tracks {
		t.Stop()
	}
}

func (h *Handle) Stopped() bool { return h.stopped.Load() }

// Transport is a scriptable media backend. Capture succeeds instantly unless
// told otherwise, and links only change connectivity when driven.
type Transport struct {
	mu         sync.Mutex
	acquireErr error
	gate       chan struct{}
	linkErr    error
	remoteErr  error

	handles     []*Handle
	links       []*Link
	constraints []domain.MediaConstraints
	remote      []*Track
}

func NewTransport() *Transport {
	return &Transport{}
}

// FailAcquire makes later captures fail with err.
func (t *Transport) FailAcquire(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquireErr = err
}

// HoldAcquire blocks captures until the returned func is called.
func (t *Transport) HoldAcquire() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (t *Transport) FailLinks(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linkErr = err
}

// FailRemoteDescription makes SetRemoteDescription fail on later links.
func (t *Transport) FailRemoteDescription(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteErr = err
}

func (t *Transport) AcquireLocalMedia(ctx context.Context, constraints domain.MediaConstraints) (port.MediaHandle, error) {
	t.mu.Lock()
	gate := t.gate
	t.constraints = append(t.constraints, constraints)
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, domain.NewMediaAcquisitionError(domain.MediaAdapterFault, ctx.Err())
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acquireErr != nil {
		return nil, t.acquireErr
	}

	h := &Handle{id: domain.NewStreamID()}
	if constraints.Audio != nil {
		h.tracks = append(h.tracks, newTrack(domain.TrackAudio))
	}
	if constraints.Video != nil {
		h.tracks = append(h.tracks, newTrack(domain.TrackVideo))
	}
	t.handles = append(t.handles, h)
	return h, nil
}

func (t *Transport) CreatePeerLink(ctx context.Context, cfg domain.LinkConfig, handler port.LinkHandler) (port.PeerLink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.linkErr != nil {
		return nil, t.linkErr
	}
	l := &Link{transport: t, cfg: cfg, handler: handler, remoteErr: t.remoteErr}
	t.links = append(t.links, l)
	return l, nil
}

func (t *Transport) Constraints() []domain.MediaConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.MediaConstraints(nil), t.constraints...)
}

func (t *Transport) Links() []*Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Link(nil), t.links...)
}

// Link returns the most recent peer link, or nil.
func (t *Transport) Link() *Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

func (t *Transport) OpenHandles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, h := range t.handles {
		if !h.Stopped() {
			n++
		}
	}
	return n
}

func (t *Transport) OpenLinks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, l := range t.links {
		if !l.Closed() {
			n++
		}
	}
	return n
}

// OpenRemoteTracks counts remote tracks that were delivered and not stopped.
func (t *Transport) OpenRemoteTracks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tr := range t.remote {
		if !tr.Stopped() {
			n++
		}
	}
	return n
}

type Link struct {
	transport *Transport
	cfg       domain.LinkConfig
	handler   port.LinkHandler
	remoteErr error

	mu         sync.Mutex
	local      []port.Track
	remoteDesc *domain.SessionDescription
	localDesc  *domain.SessionDescription
	candidates []domain.Candidate
	restarts   int
	closed     bool
}

func (l *Link) Config() domain.LinkConfig {
	return l.cfg
}

func (l *Link) AddLocalTrack(track port.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.local = append(l.local, track)
	return nil
}

func (l *Link) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.remoteErr != nil {
		return l.remoteErr
	}
	l.remoteDesc = &desc
	return nil
}

func (l *Link) CreateAnswer(ctx context.Context, opts domain.AnswerOptions) (domain.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.SessionDescription{}, ErrLinkClosed
	}
	if l.remoteDesc == nil {
		return domain.SessionDescription{}, errors.New("no remote description")
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answerSDP}, nil
}

func (l *Link) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.localDesc = &desc
	return nil
}

func (l *Link) AddRemoteCandidate(ctx context.Context, candidate domain.Candidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.candidates = append(l.candidates, candidate)
	return nil
}

func (l *Link) RestartConnectivity(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.restarts++
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) LocalTracks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.local)
}

func (l *Link) RemoteDescription() *domain.SessionDescription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteDesc
}

func (l *Link) RemoteCandidates() []domain.Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Candidate(nil), l.candidates...)
}

func (l *Link) Restarts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restarts
}

// SetConnectivity reports a connectivity change as the transport would.
func (l *Link) SetConnectivity(state domain.ConnectivityState) {
	l.handler.OnConnectivityStateChange(state)
}

// GatherCandidate reports a locally discovered candidate.
func (l *Link) GatherCandidate(candidate string) {
	l.handler.OnLocalCandidate(domain.Candidate{Candidate: candidate})
}

// DeliverRemoteTrack simulates a track arriving from the caller.
func (l *Link) DeliverRemoteTrack(kind domain.TrackKind, stream domain.StreamID) *Track {
	tr := newTrack(kind)
	l.transport.mu.Lock()
	l.transport.remote = append(l.transport.remote, tr)
	l.transport.mu.Unlock()
	l.handler.OnRemoteTrack(tr, stream)
	return tr
}
