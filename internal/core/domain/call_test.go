package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *CallSession {
	return NewCallSession(IncomingCall{
		CallID: "1",
		PeerID: "A",
		Caller: CallerInfo{Reason: "injured dog", DisplayName: "Ana", Contact: "555-0101"},
	}, DefaultMaxRetries, time.Unix(0, 0))
}

func TestCallSessionTransitionHistory(t *testing.T) {
	c := newTestSession()
	now := time.Unix(10, 0)

	for _, next := range []CallState{StateRinging, StateAccepted, StateNegotiating, StateConnecting, StateConnected} {
		require.NoError(t, c.Transition(next, now))
	}
	assert.Equal(t, []CallState{
		StateIdle, StateRinging, StateAccepted, StateNegotiating, StateConnecting, StateConnected,
	}, c.Snapshot().States())

	err := c.Transition(StateRinging, now)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateConnected, te.From)
	assert.Equal(t, StateRinging, te.To)
	assert.Equal(t, StateConnected, c.State)
}

func TestCallSessionTerminalClearsOffer(t *testing.T) {
	c := newTestSession()
	now := time.Unix(20, 0)
	require.NoError(t, c.Transition(StateRinging, now))
	require.NoError(t, c.BufferOffer(SessionDescription{Type: SDPOffer, SDP: "v=0"}))

	require.NoError(t, c.Transition(StateEnded, now))
	assert.Nil(t, c.PendingOffer)
	assert.Equal(t, now, c.TerminatedAt)

	snap := c.Snapshot()
	require.NotNil(t, snap.TerminatedAt)
	assert.False(t, snap.OfferPending)
	var te *TransitionError
	assert.ErrorAs(t, c.Transition(StateFailed, now), &te)
}

func TestCallSessionOfferConsumedOnce(t *testing.T) {
	c := newTestSession()
	require.NoError(t, c.Transition(StateRinging, time.Now()))

	require.NoError(t, c.BufferOffer(SessionDescription{Type: SDPOffer, SDP: "first"}))
	require.NoError(t, c.BufferOffer(SessionDescription{Type: SDPOffer, SDP: "second"}))

	desc, ok := c.TakeOffer()
	require.True(t, ok)
	assert.Equal(t, "second", desc.SDP)

	_, ok = c.TakeOffer()
	assert.False(t, ok)
}

func TestCallSessionBufferOfferRejectedAfterNegotiation(t *testing.T) {
	c := newTestSession()
	for _, next := range []CallState{StateRinging, StateAccepted, StateNegotiating} {
		require.NoError(t, c.Transition(next, time.Now()))
	}
	assert.ErrorIs(t, c.BufferOffer(SessionDescription{Type: SDPOffer, SDP: "late"}), ErrDuplicateOffer)
	assert.Nil(t, c.PendingOffer)
}

func TestCallSessionCanRetry(t *testing.T) {
	c := newTestSession()
	for i := 0; i < DefaultMaxRetries; i++ {
		assert.True(t, c.CanRetry())
		c.RetryCount++
	}
	assert.False(t, c.CanRetry())

	none := NewCallSession(IncomingCall{CallID: "2", PeerID: "B"}, -1, time.Now())
	assert.False(t, none.CanRetry())
}

func TestSnapshotCause(t *testing.T) {
	c := newTestSession()
	c.Cause = fmt.Errorf("%w: 3 retries exhausted", ErrConnectivityFailed)
	assert.Equal(t, "connectivity failed: 3 retries exhausted", c.Snapshot().Cause)
	assert.Equal(t, "Ana", c.Snapshot().Caller.DisplayName)
}

func TestBillingWithDefaults(t *testing.T) {
	def := Billing{Amount: DefaultBillingAmount, Reason: DefaultBillingReason}
	caller := CallerInfo{DisplayName: "Ana", Contact: "555-0101"}

	b := Billing{}.WithDefaults(def, caller)
	assert.Equal(t, Billing{Amount: 50, Reason: "emergency", CallerName: "Ana", CallerContact: "555-0101"}, b)

	b = Billing{Amount: 80, Reason: "follow-up", CallerName: "Luis"}.WithDefaults(def, caller)
	assert.Equal(t, 80.0, b.Amount)
	assert.Equal(t, "follow-up", b.Reason)
	assert.Equal(t, "Luis", b.CallerName)
	assert.Equal(t, "555-0101", b.CallerContact)
}

func TestMediaAcquisitionError(t *testing.T) {
	denied := NewMediaAcquisitionError(MediaPermissionDenied, errors.New("NotAllowedError"))
	assert.Equal(t, "Microphone or camera permission denied. Grant the permissions.", denied.Cause())

	wrapped := fmt.Errorf("accept: %w", denied)
	got := AsMediaAcquisitionError(wrapped)
	assert.Same(t, denied, got)

	fault := AsMediaAcquisitionError(errors.New("driver crashed"))
	assert.Equal(t, MediaAdapterFault, fault.Reason)
	assert.Equal(t, "Could not access media: driver crashed", fault.Cause())

	missing := NewMediaAcquisitionError(MediaDeviceNotFound, nil)
	assert.Equal(t, "No audio or video devices were found.", missing.Cause())
	assert.Equal(t, "media acquisition failed: device_not_found", missing.Error())
}

func TestInboundValidate(t *testing.T) {
	desc := &SessionDescription{Type: SDPOffer, SDP: "v=0"}
	tests := []struct {
		name string
		msg  Inbound
		ok   bool
	}{
		{"incoming call", Inbound{Type: MsgIncomingCall, Notice: &IncomingCall{CallID: "1", PeerID: "A"}}, true},
		{"incoming call without id", Inbound{Type: MsgIncomingCall, Notice: &IncomingCall{PeerID: "A"}}, false},
		{"incoming call without payload", Inbound{Type: MsgIncomingCall}, false},
		{"offer", Inbound{Type: MsgOffer, PeerID: "A", Description: desc}, true},
		{"offer without sender", Inbound{Type: MsgOffer, Description: desc}, false},
		{"offer without sdp", Inbound{Type: MsgOffer, PeerID: "A", Description: &SessionDescription{Type: SDPOffer}}, false},
		{"candidate", Inbound{Type: MsgCandidate, PeerID: "A", Candidate: &Candidate{Candidate: "candidate:1"}}, true},
		{"candidate without payload", Inbound{Type: MsgCandidate, PeerID: "A"}, false},
		{"call ended", Inbound{Type: MsgCallEnded}, true},
		{"unknown", Inbound{Type: "dance"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}
