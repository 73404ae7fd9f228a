package service

import (
	"context"
	"sync"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sessionQueueSize = 64

type event interface{}

type (
	acceptIntent struct{ reply chan error }
	rejectIntent struct{ reply chan error }
	endIntent    struct {
		billing *domain.Billing
		reply   chan error
	}
	terminateIntent struct{ cause error }

	offerEvent struct {
		peer domain.PeerID
		desc domain.SessionDescription
	}
	remoteCandidateEvent struct {
		peer      domain.PeerID
		candidate domain.Candidate
	}
	remoteEndedEvent   struct{}
	channelDownEvent   struct{}
	mediaAcquiredEvent struct {
		handle port.MediaHandle
		err    error
	}
	localCandidateEvent struct{ candidate domain.Candidate }
	remoteTrackEvent    struct {
		track  port.Track
		stream domain.StreamID
	}
	connectivityEvent struct{ state domain.ConnectivityState }
	timerEvent        struct {
		kind timerKind
		gen  uint64
	}
)

// Session serializes every event touching one call through a single loop
// goroutine. Signaling messages, transport callbacks, timer fires and
// operator intents all arrive through post.
type Session struct {
	callID domain.CallID
	peerID domain.PeerID
	log    zerolog.Logger

	events chan event
	quit   chan struct{}
	done   chan struct{}
	// postMu lets the loop wait out in-flight posters before draining.
	postMu sync.RWMutex
	closed bool

	snapMu sync.RWMutex
	snap   domain.Snapshot

	neg *negotiator

	onChange   func(*Session, domain.Snapshot)
	onTerminal func(*Session, domain.Snapshot)
	onRemote   func(domain.CallID, domain.StreamID)
}

type sessionHooks struct {
	onChange   func(*Session, domain.Snapshot)
	onTerminal func(*Session, domain.Snapshot)
	onRemote   func(domain.CallID, domain.StreamID)
}

func newSession(call *domain.CallSession, sig port.SignalingChannel, media port.MediaTransport, policy Policy, hooks sessionHooks) *Session {
	s := &Session{
		callID:     call.CallID,
		peerID:     call.PeerID,
		events:     make(chan event, sessionQueueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		onChange:   hooks.onChange,
		onTerminal: hooks.onTerminal,
		onRemote:   hooks.onRemote,
	}
	s.log = log.With().
		Str("call_id", call.CallID.String()).
		Str("peer_id", call.PeerID.String()).
		Logger()
	s.neg = newNegotiator(s, call, sig, media, policy)
	if err := s.neg.ring(); err != nil {
		s.log.Error().Err(err).Msg("Cannot ring")
	}
	s.snap = s.neg.snapshot()
	return s
}

func (s *Session) CallID() domain.CallID {
	return s.callID
}

func (s *Session) PeerID() domain.PeerID {
	return s.peerID
}

// Snapshot returns the last fully applied state of the call.
func (s *Session) Snapshot() domain.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Done is closed once the session has released its resources and reported
// its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) start() {
	go s.run()
}

func (s *Session) run() {
	for ev := range s.events {
		s.neg.handle(ev)
		s.publish()
		if s.neg.finished() {
			break
		}
	}
	s.shutdown()
}

func (s *Session) publish() {
	snap := s.neg.snapshot()
	s.snapMu.Lock()
	prev := s.snap
	s.snap = snap
	s.snapMu.Unlock()

	if snap.State.Terminal() {
		return
	}
	if changed(prev, snap) && s.onChange != nil {
		s.onChange(s, snap)
	}
}

func changed(a, b domain.Snapshot) bool {
	return a.State != b.State ||
		a.RetryCount != b.RetryCount ||
		a.OfferPending != b.OfferPending ||
		a.RemoteMedia != b.RemoteMedia
}

// shutdown stops accepting events and releases anything still queued. The
// terminal snapshot is only reported once nothing is held anymore.
func (s *Session) shutdown() {
	close(s.quit)
	s.postMu.Lock()
	s.closed = true
	s.postMu.Unlock()

	for {
		select {
		case ev := <-s.events:
			s.discard(ev)
		default:
			if s.onTerminal != nil {
				s.onTerminal(s, s.Snapshot())
			}
			close(s.done)
			return
		}
	}
}

func (s *Session) discard(ev event) {
	switch e := ev.(type) {
	case mediaAcquiredEvent:
		if e.handle != nil {
			e.handle.Stop()
		}
	case remoteTrackEvent:
		e.track.Stop()
	case acceptIntent:
		e.reply <- domain.ErrSessionClosed
	case rejectIntent:
		e.reply <- domain.ErrSessionClosed
	case endIntent:
		e.reply <- nil
	}
}

// post queues ev for the loop. It returns false once the session is closed,
// in which case the caller keeps ownership of anything carried by ev.
func (s *Session) post(ev event) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Session) request(ctx context.Context, ev event, reply chan error) error {
	if !s.post(ev) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept records the operator's decision to take the call.
func (s *Session) Accept(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(ctx, acceptIntent{reply: reply}, reply)
}

// Reject declines a ringing call.
func (s *Session) Reject(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(ctx, rejectIntent{reply: reply}, reply)
}

// End closes the call with billing metadata. Only the first call has an
// effect; later ones return nil.
func (s *Session) End(ctx context.Context, billing *domain.Billing) error {
	reply := make(chan error, 1)
	err := s.request(ctx, endIntent{billing: billing, reply: reply}, reply)
	if err == domain.ErrSessionClosed {
		return nil
	}
	return err
}

// Terminate forces the call down regardless of its state.
func (s *Session) Terminate(cause error) {
	s.post(terminateIntent{cause: cause})
}

// linkEvents forwards transport callbacks into the session loop.
type linkEvents struct {
	s *Session
}

func (l linkEvents) OnLocalCandidate(candidate domain.Candidate) {
	l.s.post(localCandidateEvent{candidate: candidate})
}

func (l linkEvents) OnRemoteTrack(track port.Track, stream domain.StreamID) {
	if !l.s.post(remoteTrackEvent{track: track, stream: stream}) {
		track.Stop()
	}
}

func (l linkEvents) OnConnectivityStateChange(state domain.ConnectivityState) {
	l.s.post(connectivityEvent{state: state})
}
