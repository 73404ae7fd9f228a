package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gateway "github.com/Wyydra/vetcall/internal/adapter/driven/gateway/memory"
	media "github.com/Wyydra/vetcall/internal/adapter/driven/media/memory"
	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	offerSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"
)

var caller = domain.CallerInfo{Reason: "dog hit by car", DisplayName: "Ana", Contact: "555-0101"}

type recorder struct {
	mu      sync.Mutex
	snaps   []domain.Snapshot
	streams []domain.StreamID
}

func (r *recorder) CallChanged(s domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) RemoteMediaReady(_ domain.CallID, stream domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = append(r.streams, stream)
}

func (r *recorder) last() (domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return domain.Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func (r *recorder) announced() []domain.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamID(nil), r.streams...)
}

type fixture struct {
	t     *testing.T
	sig   *gateway.Channel
	media *media.Transport
	svc   *service.CallService
	rec   *recorder
}

func newFixture(t *testing.T, tune func(*service.Policy)) *fixture {
	t.Helper()
	policy := service.DefaultPolicy("op-1")
	policy.NegotiationTimeout = waitFor
	policy.ReconnectBackoff = 20 * time.Millisecond
	policy.SendTimeout = time.Second
	if tune != nil {
		tune(&policy)
	}

	f := &fixture{
		t:     t,
		sig:   gateway.NewChannel(),
		media: media.NewTransport(),
		rec:   &recorder{},
	}
	f.svc = service.NewCallService(f.sig, f.media, policy)
	f.svc.Subscribe(f.rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), waitFor)
		defer closeCancel()
		assert.NoError(t, f.svc.Close(closeCtx))
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return len(f.sig.SentOfType(domain.MsgRegister)) == 1
	}, waitFor, tick)
	return f
}

func (f *fixture) waitState(want domain.CallState) domain.Snapshot {
	f.t.Helper()
	var snap domain.Snapshot
	require.Eventually(f.t, func() bool {
		s, ok := f.svc.Current()
		snap = s
		return ok && s.State == want
	}, waitFor, tick, "waiting for %s", want)
	return snap
}

// waitGone waits until the registry dropped the call and returns its final
// snapshot.
func (f *fixture) waitGone() domain.Snapshot {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		_, ok := f.svc.Current()
		if ok {
			return false
		}
		s, seen := f.rec.last()
		return seen && s.State.Terminal()
	}, waitFor, tick)
	s, _ := f.rec.last()
	return s
}

func (f *fixture) ring(callID domain.CallID, peer domain.PeerID) {
	f.t.Helper()
	require.NoError(f.t, f.sig.IncomingCall(callID, peer, caller))
	f.waitState(domain.StateRinging)
}

func (f *fixture) accept() {
	f.t.Helper()
	require.NoError(f.t, f.svc.Accept(context.Background()))
}

func (f *fixture) connect(callID domain.CallID, peer domain.PeerID) *media.Link {
	f.t.Helper()
	f.ring(callID, peer)
	f.accept()
	f.waitState(domain.StateWaitingForOffer)
	require.NoError(f.t, f.sig.Offer(peer, offerSDP))
	f.waitState(domain.StateConnecting)
	link := f.media.Link()
	require.NotNil(f.t, link)
	link.SetConnectivity(domain.ConnectivityConnected)
	f.waitState(domain.StateConnected)
	return link
}

func (f *fixture) assertReleased() {
	f.t.Helper()
	assert.Zero(f.t, f.media.OpenHandles(), "local media left open")
	assert.Zero(f.t, f.media.OpenLinks(), "peer links left open")
	assert.Zero(f.t, f.media.OpenRemoteTracks(), "remote tracks left open")
}

func TestAcceptWithOfferDuringMediaAcquisition(t *testing.T) {
	f := newFixture(t, nil)
	release := f.media.HoldAcquire()

	f.ring("1", "A")
	f.accept()
	require.Len(t, f.sig.SentOfType(domain.MsgAcceptCall), 1)
	f.waitState(domain.StateAccepted)

	require.NoError(t, f.sig.Offer("A", offerSDP))
	require.Eventually(t, func() bool {
		s, ok := f.svc.Current()
		return ok && s.OfferPending
	}, waitFor, tick)

	release()
	f.waitState(domain.StateConnecting)

	answers := f.sig.SentOfType(domain.MsgAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.PeerID("A"), answers[0].Peer)
	assert.Equal(t, domain.SDPAnswer, answers[0].Description.Type)

	link := f.media.Link()
	require.NotNil(t, link)
	assert.Equal(t, 2, link.LocalTracks())
	assert.Equal(t, offerSDP, link.RemoteDescription().SDP)

	link.GatherCandidate("candidate:1 1 udp 2122260223 10.0.0.2 54321 typ host")
	link.GatherCandidate("")
	require.Eventually(t, func() bool {
		return len(f.sig.SentOfType(domain.MsgCandidate)) == 1
	}, waitFor, tick)
	assert.Equal(t, domain.PeerID("A"), f.sig.SentOfType(domain.MsgCandidate)[0].Peer)

	require.NoError(t, f.sig.Candidate("A", domain.Candidate{Candidate: "candidate:2 1 udp 1686052607 203.0.113.7 40000 typ srflx"}))
	require.Eventually(t, func() bool { return len(link.RemoteCandidates()) == 1 }, waitFor, tick)

	link.SetConnectivity(domain.ConnectivityConnected)
	snap := f.waitState(domain.StateConnected)

	assert.Equal(t, []domain.CallState{
		domain.StateIdle,
		domain.StateRinging,
		domain.StateAccepted,
		domain.StateNegotiating,
		domain.StateConnecting,
		domain.StateConnected,
	}, snap.States())

	c := f.media.Constraints()
	require.Len(t, c, 1)
	assert.Equal(t, 640, c[0].Video.MaxWidth)
	assert.Equal(t, 24, c[0].Video.MaxFrameRate)
	assert.Equal(t, 1, c[0].Audio.ChannelCount)
	assert.True(t, c[0].Audio.EchoCancellation)
}

func TestOfferBeforeAcceptIsConsumedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")

	require.NoError(t, f.sig.Offer("A", offerSDP))
	require.Eventually(t, func() bool {
		s, ok := f.svc.Current()
		return ok && s.OfferPending
	}, waitFor, tick)

	f.accept()
	f.waitState(domain.StateConnecting)

	require.NoError(t, f.sig.Offer("A", offerSDP))
	assert.Never(t, func() bool {
		return len(f.sig.SentOfType(domain.MsgAnswer)) > 1
	}, 100*time.Millisecond, tick)
	assert.Len(t, f.media.Links(), 1)

	s, ok := f.svc.Current()
	require.True(t, ok)
	assert.False(t, s.OfferPending)
}

func TestWaitingForOfferDiscardsOtherPeers(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")
	f.accept()
	f.waitState(domain.StateWaitingForOffer)

	require.NoError(t, f.sig.Offer("B", offerSDP))
	assert.Never(t, func() bool {
		s, _ := f.svc.Current()
		return s.State != domain.StateWaitingForOffer || s.OfferPending
	}, 100*time.Millisecond, tick)

	require.NoError(t, f.sig.Offer("A", offerSDP))
	f.waitState(domain.StateConnecting)
	assert.Len(t, f.sig.SentOfType(domain.MsgAnswer), 1)
}

func TestOfferBeforeNoticeIsHeld(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.sig.Offer("A", offerSDP))
	f.ring("1", "A")
	require.Eventually(t, func() bool {
		s, ok := f.svc.Current()
		return ok && s.OfferPending
	}, waitFor, tick)

	f.accept()
	f.waitState(domain.StateConnecting)
}

func TestBusyWhileCallActive(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	decision, err := f.svc.OnIncomingCall(context.Background(), domain.IncomingCall{CallID: "2", PeerID: "B"})
	require.NoError(t, err)
	assert.Equal(t, service.DecisionBusy, decision)

	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.PeerID("B"), rejects[0].Peer)
	assert.Equal(t, domain.RejectBusy, rejects[0].Reason)

	s, ok := f.svc.Current()
	require.True(t, ok)
	assert.Equal(t, domain.CallID("1"), s.CallID)
	assert.Equal(t, domain.StateConnected, s.State)
}

func TestDuplicateNoticeLeavesActiveCallAlone(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	decision, err := f.svc.OnIncomingCall(context.Background(), domain.IncomingCall{CallID: "1", PeerID: "A"})
	require.NoError(t, err)
	assert.Equal(t, service.DecisionBusy, decision)
	assert.Empty(t, f.sig.SentOfType(domain.MsgRejectCall))

	s, ok := f.svc.Current()
	require.True(t, ok)
	assert.Equal(t, domain.StateConnected, s.State)
}

func TestBusyRejectSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")
	boom := errors.New("socket gone")
	f.sig.FailSends(boom)

	decision, err := f.svc.OnIncomingCall(context.Background(), domain.IncomingCall{CallID: "2", PeerID: "B"})
	assert.Equal(t, service.DecisionBusy, decision)
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.ErrorIs(t, err, boom)

	f.sig.FailSends(nil)
	s, ok := f.svc.Current()
	require.True(t, ok)
	assert.Equal(t, domain.CallID("1"), s.CallID)
}

func TestFourthDisconnectFails(t *testing.T) {
	f := newFixture(t, nil)
	link := f.connect("1", "A")

	for i := 1; i <= domain.DefaultMaxRetries; i++ {
		link.SetConnectivity(domain.ConnectivityDisconnected)
		require.Eventually(t, func() bool {
			s, ok := f.svc.Current()
			return ok && s.State == domain.StateReconnecting && s.RetryCount == i
		}, waitFor, tick)
	}
	require.Eventually(t, func() bool { return link.Restarts() > 0 }, waitFor, tick)

	link.SetConnectivity(domain.ConnectivityDisconnected)
	final := f.waitGone()

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Equal(t, domain.DefaultMaxRetries, final.RetryCount)
	assert.Contains(t, final.Cause, domain.ErrConnectivityFailed.Error())

	reconnects := 0
	for _, s := range final.States() {
		if s == domain.StateReconnecting {
			reconnects++
		}
	}
	assert.Equal(t, domain.DefaultMaxRetries, reconnects)

	ends := f.sig.SentOfType(domain.MsgEndCall)
	require.Len(t, ends, 1)
	assert.Nil(t, ends[0].Billing)
	f.assertReleased()
}

func TestReconnectRecovers(t *testing.T) {
	f := newFixture(t, nil)
	link := f.connect("1", "A")

	link.SetConnectivity(domain.ConnectivityDisconnected)
	f.waitState(domain.StateReconnecting)
	require.Eventually(t, func() bool { return link.Restarts() == 1 }, waitFor, tick)

	link.SetConnectivity(domain.ConnectivityConnected)
	s := f.waitState(domain.StateConnected)
	assert.Equal(t, 1, s.RetryCount)
}

func TestHardConnectivityFailure(t *testing.T) {
	f := newFixture(t, nil)
	link := f.connect("1", "A")

	link.SetConnectivity(domain.ConnectivityFailed)
	final := f.waitGone()
	assert.Equal(t, domain.StateFailed, final.State)
	assert.Len(t, f.sig.SentOfType(domain.MsgEndCall), 1)
	f.assertReleased()
}

func TestMediaPermissionDeniedAutoRejects(t *testing.T) {
	f := newFixture(t, nil)
	denied := domain.NewMediaAcquisitionError(domain.MediaPermissionDenied, nil)
	f.media.FailAcquire(denied)

	f.ring("1", "A")
	f.accept()
	final := f.waitGone()

	assert.Equal(t, domain.StateRejected, final.State)
	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, denied.Cause(), rejects[0].Reason)
	assert.Empty(t, f.media.Links())
	f.assertReleased()
}

func TestRemoteDescriptionFailureRejectsTechnical(t *testing.T) {
	f := newFixture(t, nil)
	f.media.FailRemoteDescription(errors.New("bad sdp"))

	f.ring("1", "A")
	f.accept()
	f.waitState(domain.StateWaitingForOffer)
	require.NoError(t, f.sig.Offer("A", offerSDP))
	final := f.waitGone()

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Contains(t, final.Cause, "set remote description: bad sdp")
	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.RejectTechnical, rejects[0].Reason)
	assert.Empty(t, f.sig.SentOfType(domain.MsgAnswer))
	require.Len(t, f.media.Links(), 1)
	f.assertReleased()
}

func TestPeerLinkFailureRejectsTechnical(t *testing.T) {
	f := newFixture(t, nil)
	f.media.FailLinks(errors.New("no ports"))

	f.ring("1", "A")
	require.NoError(t, f.sig.Offer("A", offerSDP))
	f.accept()
	final := f.waitGone()

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Contains(t, final.Cause, "create peer link: no ports")
	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.RejectTechnical, rejects[0].Reason)
	assert.Empty(t, f.media.Links())
	f.assertReleased()
}

func TestAcceptSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")
	boom := errors.New("socket gone")
	f.sig.FailSends(boom)

	err := f.svc.Accept(context.Background())
	assert.ErrorIs(t, err, boom)
	final := f.waitGone()

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Contains(t, final.Cause, "send accept_call")
	assert.Empty(t, f.media.Constraints(), "media acquired after a failed accept")
	assert.Empty(t, f.media.Links())
	f.assertReleased()
}

func TestAnswerSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")
	f.accept()
	f.waitState(domain.StateWaitingForOffer)

	f.sig.FailSends(errors.New("socket gone"))
	require.NoError(t, f.sig.Offer("A", offerSDP))
	final := f.waitGone()

	assert.Equal(t, domain.StateFailed, final.State)
	assert.Contains(t, final.Cause, "send answer: socket gone")
	assert.Empty(t, f.sig.SentOfType(domain.MsgAnswer))
	require.Len(t, f.media.Links(), 1)
	f.assertReleased()
}

func TestNegotiationTimeout(t *testing.T) {
	f := newFixture(t, func(p *service.Policy) {
		p.NegotiationTimeout = 150 * time.Millisecond
	})
	f.ring("1", "A")
	f.accept()
	f.waitState(domain.StateWaitingForOffer)
	require.NoError(t, f.sig.Offer("A", offerSDP))

	final := f.waitGone()
	assert.Equal(t, domain.StateFailed, final.State)
	assert.Equal(t, domain.ErrNegotiationTimeout.Error(), final.Cause)
	f.assertReleased()

	link := f.media.Link()
	require.NotNil(t, link)
	sent := len(f.sig.SentOfType(domain.MsgCandidate))
	link.GatherCandidate("candidate:9 1 udp 1 10.0.0.9 9 typ host")
	require.NoError(t, f.sig.Candidate("A", domain.Candidate{Candidate: "candidate:8 1 udp 1 10.0.0.8 8 typ host"}))
	assert.Never(t, func() bool {
		return len(f.sig.SentOfType(domain.MsgCandidate)) != sent || len(link.RemoteCandidates()) != 0
	}, 100*time.Millisecond, tick)
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	ctx := context.Background()
	require.NoError(t, f.svc.End(ctx, &domain.Billing{Amount: 80}))
	require.NoError(t, f.svc.End(ctx, &domain.Billing{Amount: 120}))

	ends := f.sig.SentOfType(domain.MsgEndCall)
	require.Len(t, ends, 1)
	require.NotNil(t, ends[0].Billing)
	assert.Equal(t, domain.Billing{
		Amount:        80,
		Reason:        domain.DefaultBillingReason,
		CallerName:    "Ana",
		CallerContact: "555-0101",
	}, *ends[0].Billing)

	final := f.waitGone()
	assert.Equal(t, domain.StateEnded, final.State)
	f.assertReleased()
}

func TestEndWithoutBillingUsesDefaults(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	require.NoError(t, f.svc.End(context.Background(), nil))
	ends := f.sig.SentOfType(domain.MsgEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, float64(domain.DefaultBillingAmount), ends[0].Billing.Amount)
}

func TestRemoteTracks(t *testing.T) {
	f := newFixture(t, nil)
	link := f.connect("1", "A")

	video := link.DeliverRemoteTrack(domain.TrackVideo, "s1")
	audio := link.DeliverRemoteTrack(domain.TrackAudio, "s1")
	require.Eventually(t, func() bool {
		s, _ := f.svc.Current()
		return s.RemoteMedia
	}, waitFor, tick)

	next := link.DeliverRemoteTrack(domain.TrackVideo, "s2")
	require.Eventually(t, func() bool { return len(f.rec.announced()) == 2 }, waitFor, tick)
	assert.Equal(t, []domain.StreamID{"s1", "s2"}, f.rec.announced())
	assert.True(t, video.Stopped())
	assert.True(t, audio.Stopped())
	assert.False(t, next.Stopped())

	require.NoError(t, f.svc.End(context.Background(), nil))
	f.waitGone()
	assert.True(t, next.Stopped())
	f.assertReleased()
}

func TestCandidatesFromOtherPeersDropped(t *testing.T) {
	f := newFixture(t, nil)
	link := f.connect("1", "A")

	require.NoError(t, f.sig.Candidate("B", domain.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 1 typ host"}))
	require.NoError(t, f.sig.Candidate("A", domain.Candidate{Candidate: "candidate:2 1 udp 1 10.0.0.2 2 typ host"}))
	require.Eventually(t, func() bool { return len(link.RemoteCandidates()) == 1 }, waitFor, tick)
	assert.Equal(t, "candidate:2 1 udp 1 10.0.0.2 2 typ host", link.RemoteCandidates()[0].Candidate)
}

func TestEarlyCandidatesFlushedAfterOffer(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")
	require.NoError(t, f.sig.Candidate("A", domain.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 1 typ host"}))
	require.NoError(t, f.sig.Candidate("A", domain.Candidate{}))

	f.accept()
	f.waitState(domain.StateWaitingForOffer)
	require.NoError(t, f.sig.Offer("A", offerSDP))
	f.waitState(domain.StateConnecting)

	cands := f.media.Link().RemoteCandidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 1 typ host", cands[0].Candidate)
}

func TestRejectRinging(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")

	require.NoError(t, f.svc.Reject(context.Background()))
	final := f.waitGone()
	assert.Equal(t, domain.StateRejected, final.State)

	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.RejectUnavailable, rejects[0].Reason)
	assert.ErrorIs(t, f.svc.Reject(context.Background()), domain.ErrNoActiveCall)
}

func TestRejectAfterConnectedIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	err := f.svc.Reject(context.Background())
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	f.waitState(domain.StateConnected)
}

func TestRemoteEnded(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	require.NoError(t, f.sig.CallEnded("A"))
	final := f.waitGone()
	assert.Equal(t, domain.StateEnded, final.State)
	assert.Equal(t, domain.ErrRemoteEnded.Error(), final.Cause)
	assert.Empty(t, f.sig.SentOfType(domain.MsgEndCall))
	f.assertReleased()
}

func TestChannelDownForcesTermination(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("1", "A")

	require.NoError(t, f.sig.Drop())
	final := f.waitGone()
	assert.Equal(t, domain.StateFailed, final.State)
	assert.Equal(t, domain.ErrChannelDisconnected.Error(), final.Cause)
	f.assertReleased()

	f.ring("2", "B")
}

func TestChannelDownDropsHeldOffer(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.sig.Offer("A", offerSDP))
	require.NoError(t, f.sig.Drop())
	f.ring("1", "A")
	f.accept()
	s := f.waitState(domain.StateWaitingForOffer)

	assert.False(t, s.OfferPending)
	assert.Empty(t, f.media.Links())
	assert.Empty(t, f.sig.SentOfType(domain.MsgAnswer))
}

func TestCloseTerminatesRingingCall(t *testing.T) {
	f := newFixture(t, nil)
	f.ring("1", "A")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))

	final, ok := f.rec.last()
	require.True(t, ok)
	assert.Equal(t, domain.StateEnded, final.State)
	assert.Equal(t, domain.ErrShutdown.Error(), final.Cause)
	_, active := f.svc.Current()
	assert.False(t, active)

	rejects := f.sig.SentOfType(domain.MsgRejectCall)
	require.Len(t, rejects, 1)
	assert.Equal(t, domain.RejectUnavailable, rejects[0].Reason)

	_, err := f.svc.OnIncomingCall(ctx, domain.IncomingCall{CallID: "2", PeerID: "B"})
	assert.ErrorIs(t, err, domain.ErrShutdown)
}

func TestIntentsWithoutCall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Accept(ctx), domain.ErrNoActiveCall)
	assert.ErrorIs(t, f.svc.Reject(ctx), domain.ErrNoActiveCall)
	assert.NoError(t, f.svc.End(ctx, nil))
	_, ok := f.svc.Current()
	assert.False(t, ok)
}

func TestRunReturnsWhenChannelCloses(t *testing.T) {
	sig := gateway.NewChannel()
	svc := service.NewCallService(sig, media.NewTransport(), service.DefaultPolicy("op-1"))

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	require.Eventually(t, svc.Serving, waitFor, tick)

	require.NoError(t, sig.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrChannelDisconnected)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.False(t, svc.Serving())
}
