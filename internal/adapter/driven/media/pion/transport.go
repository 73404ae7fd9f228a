package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrForeignTrack = errors.New("track was not created by this transport")
	ErrTrackStopped = errors.New("track is stopped")
	ErrLinkClosed   = errors.New("peer link closed")
)

type Config struct {
	// ICE timeouts handed to the agent. Zero keeps pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Transport implements port.MediaTransport on top of pion/webrtc.
type Transport struct {
	api *webrtc.API
}

func NewTransport(cfg Config) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)
	return &Transport{api: api}, nil
}

// AcquireLocalMedia creates sample-fed opus and VP8 tracks. The process has
// no capture devices of its own; an upstream source writes into the tracks.
func (t *Transport) AcquireLocalMedia(ctx context.Context, constraints domain.MediaConstraints) (port.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewMediaAcquisitionError(domain.MediaAdapterFault, err)
	}
	if constraints.Audio == nil && constraints.Video == nil {
		return nil, domain.NewMediaAcquisitionError(domain.MediaDeviceNotFound, nil)
	}

	media := &localMedia{id: domain.NewStreamID()}
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if kind == domain.TrackAudio && constraints.Audio == nil {
			continue
		}
		if kind == domain.TrackVideo && constraints.Video == nil {
			continue
		}
		tr, err := newLocalTrack(kind, media.id)
		if err != nil {
			media.Stop()
			return nil, domain.NewMediaAcquisitionError(domain.MediaAdapterFault, err)
		}
		media.tracks = append(media.tracks, tr)
	}
	return media, nil
}

func (t *Transport) CreatePeerLink(ctx context.Context, cfg domain.LinkConfig, handler port.LinkHandler) (port.PeerLink, error) {
	pc, err := t.api.NewPeerConnection(configuration(cfg))
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &link{pc: pc, handler: handler}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		handler.OnLocalCandidate(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Str("stream", track.StreamID()).
			Msg("Received remote track")
		rt := newRemoteTrack(pc, track, receiver)
		rt.start()
		handler.OnRemoteTrack(rt, domain.StreamID(track.StreamID()))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state, ok := connectivity(s)
		if !ok {
			return
		}
		handler.OnConnectivityStateChange(state)
	})

	return l, nil
}

func configuration(cfg domain.LinkConfig) webrtc.Configuration {
	c := webrtc.Configuration{
		BundlePolicy:  webrtc.BundlePolicyBalanced,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyNegotiate,
	}
	if cfg.BundleMaxBundle {
		c.BundlePolicy = webrtc.BundlePolicyMaxBundle
	}
	if cfg.RTCPMuxRequire {
		c.RTCPMuxPolicy = webrtc.RTCPMuxPolicyRequire
	}
	if cfg.RelayOnly {
		c.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		c.ICEServers = append(c.ICEServers, server)
	}
	return c
}

func connectivity(s webrtc.PeerConnectionState) (domain.ConnectivityState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectivityNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectivityChecking, true
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectivityConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectivityDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectivityFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectivityClosed, true
	}
	return "", false
}

type link struct {
	pc      *webrtc.PeerConnection
	handler port.LinkHandler

	mu     sync.Mutex
	closed bool
}

func (l *link) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return nil
}

func (l *link) AddLocalTrack(track port.Track) error {
	if err := l.check(); err != nil {
		return err
	}
	lt, ok := track.(*localTrack)
	if !ok {
		return ErrForeignTrack
	}
	if lt.isStopped() {
		return ErrTrackStopped
	}
	if _, err := l.pc.AddTrack(lt.Local()); err != nil {
		return fmt.Errorf("add %s track: %w", lt.kind, err)
	}
	return nil
}

func (l *link) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(desc.Type)),
		SDP:  desc.SDP,
	})
}

func (l *link) CreateAnswer(ctx context.Context, opts domain.AnswerOptions) (domain.SessionDescription, error) {
	if err := l.check(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := checkReceives(answer.SDP, opts); err != nil {
		log.Warn().Err(err).Msg("Answer is missing requested media")
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

// checkReceives reports whether the answer keeps an m-line able to receive
// each media kind asked for.
func checkReceives(raw string, opts domain.AnswerOptions) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return err
	}
	recv := map[string]bool{}
	for _, md := range sd.MediaDescriptions {
		if _, sendonly := md.Attribute("sendonly"); sendonly {
			continue
		}
		if _, inactive := md.Attribute("inactive"); inactive {
			continue
		}
		recv[md.MediaName.Media] = true
	}
	if opts.ReceiveAudio && !recv["audio"] {
		return errors.New("no audio receiver in answer")
	}
	if opts.ReceiveVideo && !recv["video"] {
		return errors.New("no video receiver in answer")
	}
	return nil
}

func (l *link) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(desc.Type)),
		SDP:  desc.SDP,
	})
}

func (l *link) AddRemoteCandidate(ctx context.Context, c domain.Candidate) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// RestartConnectivity nudges a disconnected link. As the answering side we
// cannot send a restart offer, so the agent keeps checking the existing
// pairs and a failed or closed link cannot be recovered.
func (l *link) RestartConnectivity(ctx context.Context) error {
	if err := l.check(); err != nil {
		return err
	}
	switch s := l.pc.ICEConnectionState(); s {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		return fmt.Errorf("ice %s", s)
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		go l.handler.OnConnectivityStateChange(domain.ConnectivityConnected)
	}
	return nil
}

func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.pc.Close()
}
