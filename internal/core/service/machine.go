package service

import (
	"fmt"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/rs/zerolog"
)

// machine owns the transitions, timers and retry counter of one call. It is
// only ever touched from the session loop.
type machine struct {
	call   *domain.CallSession
	policy Policy
	log    zerolog.Logger
	now    func() time.Time

	deadline  phaseTimer
	reconnect phaseTimer
	fire      func(kind timerKind, gen uint64)
}

func newMachine(call *domain.CallSession, policy Policy, l zerolog.Logger, fire func(timerKind, uint64)) *machine {
	return &machine{
		call:      call,
		policy:    policy,
		log:       l,
		now:       time.Now,
		deadline:  phaseTimer{kind: timerNegotiation},
		reconnect: phaseTimer{kind: timerReconnect},
		fire:      fire,
	}
}

func (m *machine) state() domain.CallState {
	return m.call.State
}

// transition applies next and arms or cancels the timers bound to the
// phases being entered and left.
func (m *machine) transition(next domain.CallState) error {
	prev := m.call.State
	if err := m.call.Transition(next, m.now()); err != nil {
		return err
	}

	switch {
	case next.Terminal():
		m.stopTimers()
	case next == domain.StateNegotiating:
		m.deadline.start(m.policy.NegotiationTimeout, m.fire)
	case next == domain.StateConnected:
		m.deadline.stop()
		m.reconnect.stop()
	case next == domain.StateReconnecting:
		m.call.RetryCount++
		m.reconnect.start(m.policy.ReconnectBackoff, m.fire)
	}

	m.log.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Int("retry", m.call.RetryCount).
		Msg("Call state changed")
	return nil
}

// terminate moves the call to a terminal state and records why.
func (m *machine) terminate(final domain.CallState, cause error) error {
	if m.call.State.Terminal() {
		return nil
	}
	if !final.Terminal() {
		return fmt.Errorf("terminate with non-terminal state %s", final)
	}
	m.call.Cause = cause
	return m.transition(final)
}

// disconnected applies the reconnection policy. It returns false when the
// retries are exhausted and the call has to fail.
func (m *machine) disconnected() (bool, error) {
	if !m.call.CanRetry() {
		return false, nil
	}
	return true, m.transition(domain.StateReconnecting)
}

func (m *machine) stopTimers() {
	m.deadline.stop()
	m.reconnect.stop()
}

// timerExpired reports whether the fire identified by kind and gen is live.
func (m *machine) timerExpired(kind timerKind, gen uint64) bool {
	switch kind {
	case timerNegotiation:
		return m.deadline.expired(gen)
	case timerReconnect:
		return m.reconnect.expired(gen)
	}
	return false
}
