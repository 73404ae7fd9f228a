package service

import (
	"time"
)

type timerKind int

const (
	timerNegotiation timerKind = iota
	timerReconnect
)

func (k timerKind) String() string {
	switch k {
	case timerNegotiation:
		return "negotiation"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// phaseTimer is a cancellable one-shot owned by the session loop. Each start
// or stop bumps the generation so a fire that was already queued is ignored.
type phaseTimer struct {
	kind timerKind
	gen  uint64
	t    *time.Timer
}

func (p *phaseTimer) start(d time.Duration, fire func(kind timerKind, gen uint64)) {
	p.stop()
	gen := p.gen
	kind := p.kind
	p.t = time.AfterFunc(d, func() { fire(kind, gen) })
}

func (p *phaseTimer) stop() {
	if p.t != nil {
		p.t.Stop()
		p.t = nil
	}
	p.gen++
}

func (p *phaseTimer) running() bool {
	return p.t != nil
}

// expired reports whether a fire with gen is the current one, and disarms it.
func (p *phaseTimer) expired(gen uint64) bool {
	if p.t == nil || p.gen != gen {
		return false
	}
	p.t = nil
	return true
}
