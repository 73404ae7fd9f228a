package ws

import (
	"encoding/json"
	"testing"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func frame(t *testing.T, typ domain.MessageType, from string, payload any) []byte {
	t.Helper()
	env := envelope{Type: typ, From: from}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestDecodeIncomingCall(t *testing.T) {
	msg, err := decode(frame(t, domain.MsgIncomingCall, "A", incomingCallPayload{
		CallID:        "1",
		Reason:        "poisoning",
		CallerName:    "Ana",
		CallerContact: "555-0101",
	}))
	require.NoError(t, err)
	require.NotNil(t, msg.Notice)
	assert.Equal(t, domain.CallID("1"), msg.Notice.CallID)
	assert.Equal(t, domain.PeerID("A"), msg.Notice.PeerID)
	assert.Equal(t, "poisoning", msg.Notice.Caller.Reason)
	assert.Equal(t, "Ana", msg.Notice.Caller.DisplayName)
}

func TestDecodeOffer(t *testing.T) {
	msg, err := decode(frame(t, domain.MsgOffer, "A", domain.SessionDescription{Type: domain.SDPOffer, SDP: testOffer}))
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("A"), msg.PeerID)
	assert.Equal(t, testOffer, msg.Description.SDP)

	// The type inside the payload may be omitted.
	msg, err = decode(frame(t, domain.MsgOffer, "A", map[string]string{"sdp": testOffer}))
	require.NoError(t, err)
	assert.Equal(t, domain.SDPOffer, msg.Description.Type)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{")},
		{"unknown type", frame(t, "ring_ring", "A", nil)},
		{"offer without payload", frame(t, domain.MsgOffer, "A", nil)},
		{"offer carrying answer", frame(t, domain.MsgOffer, "A", domain.SessionDescription{Type: domain.SDPAnswer, SDP: testOffer})},
		{"offer with garbage sdp", frame(t, domain.MsgOffer, "A", domain.SessionDescription{Type: domain.SDPOffer, SDP: "hello"})},
		{"offer without media", frame(t, domain.MsgOffer, "A", domain.SessionDescription{
			Type: domain.SDPOffer,
			SDP:  "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n",
		})},
		{"offer without sender", frame(t, domain.MsgOffer, "", domain.SessionDescription{Type: domain.SDPOffer, SDP: testOffer})},
		{"incoming call without id", frame(t, domain.MsgIncomingCall, "A", incomingCallPayload{})},
		{"candidate with bad payload", frame(t, domain.MsgCandidate, "A", []int{1, 2})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(tt.data)
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
}

func TestDecodeCallEnded(t *testing.T) {
	msg, err := decode(frame(t, domain.MsgCallEnded, "A", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.MsgCallEnded, msg.Type)
}

func TestEncode(t *testing.T) {
	data, err := encode(domain.MsgEndCall, "op-1", "A", endPayload{Billing: &domain.Billing{Amount: 50, Reason: "emergency"}})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, domain.MsgEndCall, env.Type)
	assert.Equal(t, "op-1", env.From)
	assert.Equal(t, "A", env.To)
	assert.JSONEq(t, `{"billing":{"amount":50,"reason":"emergency"}}`, string(env.Payload))

	data, err = encode(domain.MsgEndCall, "op-1", "A", endPayload{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.JSONEq(t, `{}`, string(env.Payload))
}
