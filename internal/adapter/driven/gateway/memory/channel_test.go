package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRecordsSends(t *testing.T) {
	c := NewChannel()
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, "op-1", "operator"))
	require.NoError(t, c.AcceptCall(ctx, "A"))
	require.NoError(t, c.RejectCall(ctx, "B", domain.RejectBusy))
	require.NoError(t, c.EndCall(ctx, "A", &domain.Billing{Amount: 50}))

	sent := c.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, Outbound{Type: domain.MsgRegister, LocalID: "op-1", Role: "operator"}, sent[0])
	assert.Equal(t, domain.PeerID("A"), sent[1].Peer)
	assert.Equal(t, domain.RejectBusy, sent[2].Reason)
	assert.Equal(t, 50.0, sent[3].Billing.Amount)

	assert.Len(t, c.SentOfType(domain.MsgRejectCall), 1)
	assert.Empty(t, c.SentOfType(domain.MsgAnswer))
}

func TestChannelFailSends(t *testing.T) {
	c := NewChannel()
	boom := errors.New("boom")

	c.FailSends(boom)
	assert.ErrorIs(t, c.AcceptCall(context.Background(), "A"), boom)
	c.FailSends(nil)
	assert.NoError(t, c.AcceptCall(context.Background(), "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.AcceptCall(ctx, "A"), context.Canceled)
	assert.Len(t, c.Sent(), 1)
}

func TestChannelInject(t *testing.T) {
	c := NewChannel()

	require.NoError(t, c.IncomingCall("1", "A", domain.CallerInfo{Reason: "injury"}))
	require.NoError(t, c.Offer("A", "v=0"))
	require.NoError(t, c.Candidate("A", domain.Candidate{Candidate: "candidate:1"}))
	require.NoError(t, c.CallEnded("A"))
	require.NoError(t, c.Drop())

	var types []domain.MessageType
	for i := 0; i < 5; i++ {
		types = append(types, (<-c.Inbound()).Type)
	}
	assert.Equal(t, []domain.MessageType{
		domain.MsgIncomingCall,
		domain.MsgOffer,
		domain.MsgCandidate,
		domain.MsgCallEnded,
		domain.MsgChannelDown,
	}, types)

	assert.ErrorIs(t, c.Offer("", "v=0"), domain.ErrInvalidMessage)
	assert.ErrorIs(t, c.IncomingCall("", "A", domain.CallerInfo{}), domain.ErrInvalidMessage)
}

func TestChannelClose(t *testing.T) {
	c := NewChannel()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := <-c.Inbound()
	assert.False(t, ok)
	assert.ErrorIs(t, c.CallEnded("A"), domain.ErrChannelDisconnected)
	assert.ErrorIs(t, c.EndCall(context.Background(), "A", nil), domain.ErrChannelDisconnected)
}
