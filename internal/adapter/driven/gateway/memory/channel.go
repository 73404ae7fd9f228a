package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/vetcall/internal/core/domain"
)

// Outbound is one message recorded by Channel.
type Outbound struct {
	Type        domain.MessageType
	Peer        domain.PeerID
	LocalID     domain.OperatorID
	Role        string
	Reason      string
	Description *domain.SessionDescription
	Candidate   *domain.Candidate
	Billing     *domain.Billing
}

// Channel is an in-process signaling channel. Inbound messages are injected
// by the test or a loopback driver and everything sent is recorded.
type Channel struct {
	mu      sync.Mutex
	sent    []Outbound
	sendErr error
	closed  bool
	inbound chan domain.Inbound
}

func NewChannel() *Channel {
	return &Channel{
		inbound: make(chan domain.Inbound, 64),
	}
}

func (c *Channel) Inbound() <-chan domain.Inbound {
	return c.inbound
}

// Inject validates msg and delivers it as if it came from the service.
func (c *Channel) Inject(msg domain.Inbound) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelDisconnected
	}
	c.inbound <- msg
	return nil
}

func (c *Channel) IncomingCall(callID domain.CallID, peer domain.PeerID, caller domain.CallerInfo) error {
	return c.Inject(domain.Inbound{
		Type:   domain.MsgIncomingCall,
		PeerID: peer,
		Notice: &domain.IncomingCall{CallID: callID, PeerID: peer, Caller: caller},
	})
}

func (c *Channel) Offer(peer domain.PeerID, sdp string) error {
	return c.Inject(domain.Inbound{
		Type:        domain.MsgOffer,
		PeerID:      peer,
		Description: &domain.SessionDescription{Type: domain.SDPOffer, SDP: sdp},
	})
}

func (c *Channel) Candidate(peer domain.PeerID, candidate domain.Candidate) error {
	return c.Inject(domain.Inbound{Type: domain.MsgCandidate, PeerID: peer, Candidate: &candidate})
}

func (c *Channel) CallEnded(peer domain.PeerID) error {
	return c.Inject(domain.Inbound{Type: domain.MsgCallEnded, PeerID: peer})
}

func (c *Channel) Drop() error {
	return c.Inject(domain.Inbound{Type: domain.MsgChannelDown, Err: domain.ErrChannelDisconnected})
}

// FailSends makes every later send return err. A nil err restores sending.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Channel) Sent() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.sent...)
}

func (c *Channel) SentOfType(t domain.MessageType) []Outbound {
	var out []Outbound
	for _, m := range c.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *Channel) record(ctx context.Context, m Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelDisconnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *Channel) Register(ctx context.Context, localID domain.OperatorID, role string) error {
	return c.record(ctx, Outbound{Type: domain.MsgRegister, LocalID: localID, Role: role})
}

func (c *Channel) AcceptCall(ctx context.Context, peer domain.PeerID) error {
	return c.record(ctx, Outbound{Type: domain.MsgAcceptCall, Peer: peer})
}

func (c *Channel) RejectCall(ctx context.Context, peer domain.PeerID, reason string) error {
	return c.record(ctx, Outbound{Type: domain.MsgRejectCall, Peer: peer, Reason: reason})
}

func (c *Channel) SendAnswer(ctx context.Context, peer domain.PeerID, desc domain.SessionDescription) error {
	return c.record(ctx, Outbound{Type: domain.MsgAnswer, Peer: peer, Description: &desc})
}

func (c *Channel) SendCandidate(ctx context.Context, peer domain.PeerID, candidate domain.Candidate) error {
	return c.record(ctx, Outbound{Type: domain.MsgCandidate, Peer: peer, Candidate: &candidate})
}

func (c *Channel) EndCall(ctx context.Context, peer domain.PeerID, billing *domain.Billing) error {
	return c.record(ctx, Outbound{Type: domain.MsgEndCall, Peer: peer, Billing: billing})
}

// Close closes the inbound stream, which the registry treats as a lost
// channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}
