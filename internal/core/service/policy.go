package service

import (
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
)

const (
	DefaultNegotiationTimeout = 25 * time.Second
	DefaultReconnectBackoff   = 2 * time.Second
	DefaultSendTimeout        = 5 * time.Second
	DefaultMaxEarlyCandidates = 32
	DefaultRole               = "operator"
)

// Policy holds the retry, timeout and media settings applied to every call.
type Policy struct {
	LocalID domain.OperatorID
	Role    string

	MaxRetries         int
	NegotiationTimeout time.Duration
	ReconnectBackoff   time.Duration
	SendTimeout        time.Duration
	MaxEarlyCandidates int

	Constraints    domain.MediaConstraints
	Link           domain.LinkConfig
	DefaultBilling domain.Billing
}

func DefaultPolicy(localID domain.OperatorID) Policy {
	return Policy{
		LocalID:            localID,
		Role:               DefaultRole,
		MaxRetries:         domain.DefaultMaxRetries,
		NegotiationTimeout: DefaultNegotiationTimeout,
		ReconnectBackoff:   DefaultReconnectBackoff,
		SendTimeout:        DefaultSendTimeout,
		MaxEarlyCandidates: DefaultMaxEarlyCandidates,
		Constraints:        domain.DefaultMediaConstraints(),
		Link:               domain.DefaultLinkConfig(),
		DefaultBilling: domain.Billing{
			Amount: domain.DefaultBillingAmount,
			Reason: domain.DefaultBillingReason,
		},
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy(p.LocalID)
	if p.Role == "" {
		p.Role = def.Role
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.NegotiationTimeout <= 0 {
		p.NegotiationTimeout = def.NegotiationTimeout
	}
	if p.ReconnectBackoff <= 0 {
		p.ReconnectBackoff = def.ReconnectBackoff
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = def.SendTimeout
	}
	if p.MaxEarlyCandidates <= 0 {
		p.MaxEarlyCandidates = def.MaxEarlyCandidates
	}
	if p.Constraints.Audio == nil && p.Constraints.Video == nil {
		p.Constraints = def.Constraints
	}
	if p.DefaultBilling.Amount <= 0 {
		p.DefaultBilling.Amount = def.DefaultBilling.Amount
	}
	if p.DefaultBilling.Reason == "" {
		p.DefaultBilling.Reason = def.DefaultBilling.Reason
	}
	return p
}
