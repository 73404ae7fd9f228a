package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/rs/zerolog"
)

// negotiator runs the offer/answer/candidate exchange for one session. Every
// method is called from the session loop only.
type negotiator struct {
	s      *Session
	m      *machine
	call   *domain.CallSession
	sig    port.SignalingChannel
	media  port.MediaTransport
	policy Policy
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ended bool

	local  port.MediaHandle
	link   port.PeerLink
	remote *remoteMedia

	remoteApplied bool
	early         []domain.Candidate
	announced     map[domain.StreamID]struct{}
	released      bool
}

type remoteMedia struct {
	stream domain.StreamID
	tracks []port.Track
}

func (r *remoteMedia) stop() {
	for _, t := range r.tracks {
		t.Stop()
	}
	r.tracks = nil
}

func newNegotiator(s *Session, call *domain.CallSession, sig port.SignalingChannel, media port.MediaTransport, policy Policy) *negotiator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &negotiator{
		s:         s,
		call:      call,
		sig:       sig,
		media:     media,
		policy:    policy,
		log:       s.log,
		ctx:       ctx,
		cancel:    cancel,
		announced: make(map[domain.StreamID]struct{}),
	}
	n.m = newMachine(call, policy, s.log, func(kind timerKind, gen uint64) {
		s.post(timerEvent{kind: kind, gen: gen})
	})
	return n
}

func (n *negotiator) snapshot() domain.Snapshot {
	snap := n.call.Snapshot()
	snap.RemoteMedia = n.remote != nil && len(n.remote.tracks) > 0
	return snap
}

// finished reports whether the call is terminal and fully released.
func (n *negotiator) finished() bool {
	return n.call.State.Terminal() && n.released
}

func (n *negotiator) ring() error {
	return n.m.transition(domain.StateRinging)
}

// handle applies one event. Intent replies are sent after any teardown the
// event caused.
func (n *negotiator) handle(ev event) {
	var (
		reply chan error
		err   error
	)
	switch e := ev.(type) {
	case acceptIntent:
		reply, err = e.reply, n.accept()
	case rejectIntent:
		reply, err = e.reply, n.reject()
	case endIntent:
		reply, err = e.reply, n.end(e.billing)
	case terminateIntent:
		n.forceTerminate(e.cause)
	case offerEvent:
		n.offer(e.peer, e.desc)
	case remoteCandidateEvent:
		n.remoteCandidate(e.peer, e.candidate)
	case remoteEndedEvent:
		n.fail(domain.StateEnded, domain.ErrRemoteEnded)
	case channelDownEvent:
		n.fail(domain.StateFailed, domain.ErrChannelDisconnected)
	case mediaAcquiredEvent:
		n.mediaAcquired(e.handle, e.err)
	case localCandidateEvent:
		n.localCandidate(e.candidate)
	case remoteTrackEvent:
		n.remoteTrack(e.track, e.stream)
	case connectivityEvent:
		n.connectivity(e.state)
	case timerEvent:
		n.timer(e.kind, e.gen)
	default:
		n.log.Warn().Type("event", ev).Msg("Unknown session event")
	}
	if n.call.State.Terminal() {
		n.release()
	}
	if reply != nil {
		reply <- err
	}
}

func (n *negotiator) sendCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.policy.SendTimeout)
}

func (n *negotiator) accept() error {
	if n.call.State.Terminal() {
		return domain.ErrSessionClosed
	}
	if err := n.m.transition(domain.StateAccepted); err != nil {
		return err
	}

	ctx, cancel := n.sendCtx()
	err := n.sig.AcceptCall(ctx, n.call.PeerID)
	cancel()
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to send accept_call")
		n.fail(domain.StateFailed, fmt.Errorf("send accept_call: %w", err))
		return err
	}

	go n.acquire()
	return nil
}

// acquire runs off the loop because capture may wait on a permission prompt.
func (n *negotiator) acquire() {
	handle, err := n.media.AcquireLocalMedia(n.ctx, n.policy.Constraints)
	if !n.s.post(mediaAcquiredEvent{handle: handle, err: err}) && handle != nil {
		handle.Stop()
	}
}

func (n *negotiator) mediaAcquired(handle port.MediaHandle, err error) {
	if n.call.State != domain.StateAccepted {
		if handle != nil {
			handle.Stop()
		}
		return
	}
	if err != nil {
		mae := domain.AsMediaAcquisitionError(err)
		n.log.Warn().Err(mae).Str("reason", string(mae.Reason)).Msg("Local media unavailable, rejecting call")
		n.rejectWith(mae.Cause())
		n.fail(domain.StateRejected, mae)
		return
	}
	n.local = handle
	n.log.Debug().Str("stream", handle.ID().String()).Int("tracks", len(handle.Tracks())).Msg("Local media acquired")

	if desc, ok := n.call.TakeOffer(); ok {
		n.negotiate(desc)
		return
	}
	if err := n.m.transition(domain.StateWaitingForOffer); err != nil {
		n.log.Error().Err(err).Msg("Cannot wait for offer")
	}
}

func (n *negotiator) reject() error {
	switch n.call.State {
	case domain.StateRinging, domain.StateAccepted:
	default:
		if n.call.State.Terminal() {
			return domain.ErrSessionClosed
		}
		return &domain.TransitionError{From: n.call.State, To: domain.StateRejected}
	}
	n.rejectWith(domain.RejectUnavailable)
	return n.m.terminate(domain.StateRejected, domain.ErrLocalRejected)
}

func (n *negotiator) rejectWith(reason string) {
	ctx, cancel := n.sendCtx()
	defer cancel()
	if err := n.sig.RejectCall(ctx, n.call.PeerID, reason); err != nil {
		n.log.Warn().Err(err).Msg("Failed to send reject_call")
	}
}

func (n *negotiator) end(billing *domain.Billing) error {
	if n.ended || n.call.State.Terminal() {
		return nil
	}
	n.ended = true

	b := domain.Billing{}
	if billing != nil {
		b = *billing
	}
	b = b.WithDefaults(n.policy.DefaultBilling, n.call.Caller)

	ctx, cancel := n.sendCtx()
	err := n.sig.EndCall(ctx, n.call.PeerID, &b)
	cancel()
	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to send end_call")
	}
	n.log.Info().Float64("amount", b.Amount).Str("reason", b.Reason).Msg("Call ended by operator")
	return n.m.terminate(domain.StateEnded, domain.ErrLocalEnded)
}

// forceTerminate tears the call down on behalf of the registry, telling the
// peer in whichever way matches how far the call got.
func (n *negotiator) forceTerminate(cause error) {
	if n.call.State.Terminal() {
		return
	}
	if n.call.State == domain.StateRinging {
		n.rejectWith(domain.RejectUnavailable)
	} else {
		n.notifyEnd()
	}
	n.fail(domain.StateEnded, cause)
}

func (n *negotiator) notifyEnd() {
	ctx, cancel := n.sendCtx()
	defer cancel()
	if err := n.sig.EndCall(ctx, n.call.PeerID, nil); err != nil {
		n.log.Warn().Err(err).Msg("Failed to send end_call")
	}
}

func (n *negotiator) fail(final domain.CallState, cause error) {
	if err := n.m.terminate(final, cause); err != nil {
		n.log.Error().Err(err).Msg("Cannot terminate call")
		return
	}
	ev := n.log.Info()
	if final == domain.StateFailed {
		ev = n.log.Warn()
	}
	ev.Err(cause).Str("state", final.String()).Msg("Call terminated")
}

func (n *negotiator) offer(peer domain.PeerID, desc domain.SessionDescription) {
	if peer != n.call.PeerID {
		n.log.Debug().Str("from", peer.String()).Msg("Discarding offer from another peer")
		return
	}
	if n.call.State == domain.StateWaitingForOffer {
		n.negotiate(desc)
		return
	}
	if err := n.call.BufferOffer(desc); err != nil {
		n.log.Debug().Err(err).Str("state", n.call.State.String()).Msg("Ignoring offer")
		return
	}
	n.log.Debug().Msg("Offer buffered")
}

// negotiate applies the remote offer and sends the answer. It runs at most
// once per session since leaving WaitingForOffer or Accepted is one-way.
func (n *negotiator) negotiate(desc domain.SessionDescription) {
	if err := n.m.transition(domain.StateNegotiating); err != nil {
		n.log.Error().Err(err).Msg("Cannot start negotiation")
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.policy.NegotiationTimeout)
	defer cancel()

	answer, err := n.exchange(ctx, desc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrNegotiationTimeout
		}
		n.log.Error().Err(err).Msg("Negotiation failed")
		n.rejectWith(domain.RejectTechnical)
		n.fail(domain.StateFailed, err)
		return
	}

	sctx, scancel := n.sendCtx()
	err = n.sig.SendAnswer(sctx, n.call.PeerID, answer)
	scancel()
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to send answer")
		n.fail(domain.StateFailed, fmt.Errorf("send answer: %w", err))
		return
	}

	if err := n.m.transition(domain.StateConnecting); err != nil {
		n.log.Error().Err(err).Msg("Cannot enter connecting")
	}
}

func (n *negotiator) exchange(ctx context.Context, desc domain.SessionDescription) (domain.SessionDescription, error) {
	link, err := n.media.CreatePeerLink(ctx, n.policy.Link, linkEvents{s: n.s})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create peer link: %w", err)
	}
	n.link = link

	if n.local != nil {
		for _, t := range n.local.Tracks() {
			if err := link.AddLocalTrack(t); err != nil {
				return domain.SessionDescription{}, fmt.Errorf("add local %s track: %w", t.Kind(), err)
			}
		}
	}

	if err := link.SetRemoteDescription(ctx, desc); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	n.remoteApplied = true
	n.flushEarly(ctx)

	answer, err := link.CreateAnswer(ctx, domain.AnswerOptions{ReceiveAudio: true, ReceiveVideo: true})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := link.SetLocalDescription(ctx, answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (n *negotiator) flushEarly(ctx context.Context) {
	for _, c := range n.early {
		if err := n.link.AddRemoteCandidate(ctx, c); err != nil {
			n.log.Warn().Err(err).Msg("Failed to apply buffered candidate")
		}
	}
	n.early = nil
}

func (n *negotiator) remoteCandidate(peer domain.PeerID, c domain.Candidate) {
	if n.call.State.Terminal() || peer != n.call.PeerID {
		n.log.Debug().Err(domain.ErrStaleCandidate).Str("from", peer.String()).Msg("Dropping candidate")
		return
	}
	if c.IsEndOfCandidates() {
		return
	}
	if !n.remoteApplied || n.link == nil {
		if len(n.early) >= n.policy.MaxEarlyCandidates {
			n.log.Warn().Int("limit", n.policy.MaxEarlyCandidates).Msg("Dropping early candidate, buffer full")
			return
		}
		n.early = append(n.early, c)
		return
	}

	ctx, cancel := n.sendCtx()
	defer cancel()
	if err := n.link.AddRemoteCandidate(ctx, c); err != nil {
		n.log.Warn().Err(err).Msg("Failed to apply remote candidate")
	}
}

func (n *negotiator) localCandidate(c domain.Candidate) {
	if n.call.State.Terminal() || c.IsEndOfCandidates() {
		return
	}
	ctx, cancel := n.sendCtx()
	defer cancel()
	if err := n.sig.SendCandidate(ctx, n.call.PeerID, c); err != nil {
		n.log.Warn().Err(err).Msg("Failed to send candidate")
	}
}

func (n *negotiator) remoteTrack(track port.Track, stream domain.StreamID) {
	if n.call.State.Terminal() {
		track.Stop()
		return
	}
	if n.remote != nil && n.remote.stream != stream {
		n.remote.stop()
		n.remote = nil
	}
	if n.remote == nil {
		n.remote = &remoteMedia{stream: stream}
	}
	n.remote.tracks = append(n.remote.tracks, track)

	if _, ok := n.announced[stream]; ok {
		return
	}
	n.announced[stream] = struct{}{}
	n.log.Info().Str("stream", stream.String()).Str("kind", string(track.Kind())).Msg("Remote media ready")
	if n.s.onRemote != nil {
		n.s.onRemote(n.call.CallID, stream)
	}
}

func (n *negotiator) connectivity(state domain.ConnectivityState) {
	if n.call.State.Terminal() {
		return
	}
	n.log.Debug().Str("connectivity", string(state)).Str("state", n.call.State.String()).Msg("Connectivity changed")

	switch state {
	case domain.ConnectivityConnected:
		switch n.call.State {
		case domain.StateConnecting, domain.StateReconnecting:
			if err := n.m.transition(domain.StateConnected); err != nil {
				n.log.Error().Err(err).Msg("Cannot enter connected")
			}
		}
	case domain.ConnectivityDisconnected:
		switch n.call.State {
		case domain.StateConnected, domain.StateReconnecting:
			ok, err := n.m.disconnected()
			if err != nil {
				n.log.Error().Err(err).Msg("Cannot enter reconnecting")
				return
			}
			if !ok {
				n.notifyEnd()
				n.fail(domain.StateFailed, fmt.Errorf("%w: %d retries exhausted", domain.ErrConnectivityFailed, n.call.RetryCount))
				return
			}
			n.log.Warn().Err(domain.ErrConnectivityLost).Int("retry", n.call.RetryCount).Msg("Connectivity lost, reconnecting")
		}
	case domain.ConnectivityFailed:
		if n.call.State.Negotiated() {
			n.notifyEnd()
			n.fail(domain.StateFailed, domain.ErrConnectivityFailed)
		}
	}
}

func (n *negotiator) timer(kind timerKind, gen uint64) {
	if !n.m.timerExpired(kind, gen) || n.call.State.Terminal() {
		return
	}
	switch kind {
	case timerNegotiation:
		if n.call.State == domain.StateConnected {
			return
		}
		n.notifyEnd()
		n.fail(domain.StateFailed, domain.ErrNegotiationTimeout)
	case timerReconnect:
		if n.call.State != domain.StateReconnecting || n.link == nil {
			return
		}
		ctx, cancel := n.sendCtx()
		defer cancel()
		if err := n.link.RestartConnectivity(ctx); err != nil {
			n.notifyEnd()
			n.fail(domain.StateFailed, fmt.Errorf("%w: restart: %v", domain.ErrConnectivityFailed, err))
			return
		}
		n.log.Info().Int("retry", n.call.RetryCount).Msg("Connectivity restart requested")
	}
}

// release frees every resource held by the session exactly once.
func (n *negotiator) release() {
	if n.released {
		return
	}
	n.released = true
	n.m.stopTimers()
	n.cancel()

	if n.local != nil {
		n.local.Stop()
		n.local = nil
	}
	if n.remote != nil {
		n.remote.stop()
		n.remote = nil
	}
	if n.link != nil {
		if err := n.link.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Failed to close peer link")
		}
		n.link = nil
	}
	n.early = nil
	n.log.Debug().Msg("Call resources released")
}
