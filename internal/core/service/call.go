package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

type Decision string

const (
	DecisionRinging Decision = "ringing"
	DecisionBusy    Decision = "busy"
)

// earlyOffer is an offer that arrived before the notice for its call.
type earlyOffer struct {
	peer    domain.PeerID
	desc    domain.SessionDescription
	expires time.Time
}

// CallService is the registry of the single active call. It routes inbound
// signaling to the session and exposes operator intents.
type CallService struct {
	sig    port.SignalingChannel
	media  port.MediaTransport
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	current   *Session
	early     *earlyOffer
	observers []port.CallObserver
	closed    bool
	serving   bool
}

func NewCallService(sig port.SignalingChannel, media port.MediaTransport, policy Policy) *CallService {
	return &CallService{
		sig:    sig,
		media:  media,
		policy: policy.withDefaults(),
		now:    time.Now,
	}
}

// Subscribe registers an observer. Observers are called from session
// goroutines and must not block.
func (s *CallService) Subscribe(o port.CallObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Run registers with the signaling service and dispatches inbound messages
// until ctx is done or the channel is closed.
func (s *CallService) Run(ctx context.Context) error {
	if err := s.sig.Register(ctx, s.policy.LocalID, s.policy.Role); err != nil {
		return fmt.Errorf("register %s: %w", s.policy.LocalID, err)
	}
	log.Info().Str("local_id", s.policy.LocalID.String()).Str("role", s.policy.Role).Msg("Registered with signaling service")

	s.setServing(true)
	defer s.setServing(false)

	in := s.sig.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				s.channelLost()
				return domain.ErrChannelDisconnected
			}
			s.dispatch(ctx, msg)
		}
	}
}

func (s *CallService) dispatch(ctx context.Context, msg domain.Inbound) {
	switch msg.Type {
	case domain.MsgIncomingCall:
		if _, err := s.OnIncomingCall(ctx, *msg.Notice); err != nil {
			log.Error().Err(err).Msg("Incoming call not handled")
		}
	case domain.MsgOffer:
		s.onOffer(msg.PeerID, *msg.Description)
	case domain.MsgAnswer:
		log.Debug().Str("peer_id", msg.PeerID.String()).Msg("Ignoring unsolicited answer")
	case domain.MsgCandidate:
		if sess := s.active(); sess != nil {
			sess.post(remoteCandidateEvent{peer: msg.PeerID, candidate: *msg.Candidate})
			return
		}
		log.Debug().Err(domain.ErrStaleCandidate).Str("peer_id", msg.PeerID.String()).Msg("Dropping candidate")
	case domain.MsgCallEnded:
		if sess := s.active(); sess != nil {
			sess.post(remoteEndedEvent{})
		}
	case domain.MsgChannelDown:
		log.Warn().Err(msg.Err).Msg("Signaling channel down")
		s.channelLost()
	}
}

func (s *CallService) onOffer(peer domain.PeerID, desc domain.SessionDescription) {
	s.mu.Lock()
	sess := s.current
	if sess == nil {
		s.early = &earlyOffer{peer: peer, desc: desc, expires: s.now().Add(s.policy.NegotiationTimeout)}
	}
	s.mu.Unlock()

	if sess != nil {
		sess.post(offerEvent{peer: peer, desc: desc})
		return
	}
	log.Debug().Str("peer_id", peer.String()).Msg("Holding offer until its call arrives")
}

func (s *CallService) setServing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = v
}

// Serving reports whether Run is dispatching a live signaling channel.
func (s *CallService) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving
}

// channelLost drops any held offer: it came over the connection that died.
func (s *CallService) channelLost() {
	s.mu.Lock()
	s.early = nil
	s.mu.Unlock()

	if sess := s.active(); sess != nil {
		sess.post(channelDownEvent{})
	}
}

// OnIncomingCall creates a session for notice, or answers busy when a call
// is already active. The active call is never replaced.
func (s *CallService) OnIncomingCall(ctx context.Context, notice domain.IncomingCall) (Decision, error) {
	if err := notice.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", domain.ErrShutdown
	}
	if s.current != nil && !s.current.Snapshot().State.Terminal() {
		active := s.current
		s.mu.Unlock()

		// A redelivered notice for the live call must not reach its caller
		// as a rejection.
		if notice.CallID == active.CallID() || notice.PeerID == active.PeerID() {
			log.Warn().
				Str("call_id", notice.CallID.String()).
				Str("peer_id", notice.PeerID.String()).
				Msg("Ignoring duplicate notice for the active call")
			return DecisionBusy, nil
		}

		log.Warn().
			Err(domain.ErrBusy).
			Str("call_id", notice.CallID.String()).
			Str("active_call_id", active.CallID().String()).
			Msg("Rejecting call, operator busy")
		if err := s.sig.RejectCall(ctx, notice.PeerID, domain.RejectBusy); err != nil {
			return DecisionBusy, fmt.Errorf("%w: reject %s: %w", domain.ErrBusy, notice.CallID, err)
		}
		return DecisionBusy, nil
	}

	call := domain.NewCallSession(notice, s.policy.MaxRetries, s.now())
	sess := newSession(call, s.sig, s.media, s.policy, sessionHooks{
		onChange:   s.changed,
		onTerminal: s.terminated,
		onRemote:   s.remoteReady,
	})
	s.current = sess

	if e := s.early; e != nil {
		s.early = nil
		if e.peer == notice.PeerID && s.now().Before(e.expires) {
			sess.post(offerEvent{peer: e.peer, desc: e.desc})
		}
	}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	snap := sess.Snapshot()
	for _, o := range observers {
		o.CallChanged(snap)
	}
	sess.start()

	log.Info().
		Str("call_id", notice.CallID.String()).
		Str("peer_id", notice.PeerID.String()).
		Str("reason", notice.Caller.Reason).
		Msg("Incoming emergency call")
	return DecisionRinging, nil
}

// Current returns the active call, if any.
func (s *CallService) Current() (domain.Snapshot, bool) {
	sess := s.active()
	if sess == nil {
		return domain.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

func (s *CallService) Accept(ctx context.Context) error {
	sess := s.active()
	if sess == nil {
		return domain.ErrNoActiveCall
	}
	return sess.Accept(ctx)
}

func (s *CallService) Reject(ctx context.Context) error {
	sess := s.active()
	if sess == nil {
		return domain.ErrNoActiveCall
	}
	return sess.Reject(ctx)
}

// End closes the active call with billing. With no active call it does
// nothing, so repeated hang-ups are harmless.
func (s *CallService) End(ctx context.Context, billing *domain.Billing) error {
	sess := s.active()
	if sess == nil {
		return nil
	}
	return sess.End(ctx, billing)
}

// Terminate forces the active call down, whatever its state.
func (s *CallService) Terminate(cause error) {
	if sess := s.active(); sess != nil {
		sess.Terminate(cause)
	}
}

// Close terminates the active call and waits for its resources to be
// released. New calls are refused afterwards.
func (s *CallService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sess := s.current
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	sess.Terminate(domain.ErrShutdown)
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CallService) active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *CallService) snapshotObservers() []port.CallObserver {
	return append([]port.CallObserver(nil), s.observers...)
}

func (s *CallService) changed(_ *Session, snap domain.Snapshot) {
	s.mu.Lock()
	observers := s.snapshotObservers()
	s.mu.Unlock()
	for _, o := range observers {
		o.CallChanged(snap)
	}
}

func (s *CallService) terminated(sess *Session, snap domain.Snapshot) {
	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	log.Info().
		Str("call_id", snap.CallID.String()).
		Str("state", snap.State.String()).
		Str("cause", snap.Cause).
		Msg("Call session discarded")
	for _, o := range observers {
		o.CallChanged(snap)
	}
}

func (s *CallService) remoteReady(callID domain.CallID, stream domain.StreamID) {
	s.mu.Lock()
	observers := s.snapshotObservers()
	s.mu.Unlock()
	for _, o := range observers {
		o.RemoteMediaReady(callID, stream)
	}
}
