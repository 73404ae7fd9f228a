package pion

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/Wyydra/vetcall/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// localTrack is a sample-fed track the operator side sends to the caller.
type localTrack struct {
	kind  domain.TrackKind
	track *webrtc.TrackLocalStaticSample

	once    sync.Once
	stopped chan struct{}
}

func newLocalTrack(kind domain.TrackKind, stream domain.StreamID) (*localTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	t, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), stream.String())
	if err != nil {
		return nil, err
	}
	return &localTrack{kind: kind, track: t, stopped: make(chan struct{})}, nil
}

func (t *localTrack) ID() string             { return t.track.ID() }
func (t *localTrack) Kind() domain.TrackKind { return t.kind }

func (t *localTrack) Stop() {
	t.once.Do(func() { close(t.stopped) })
}

func (t *localTrack) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Local returns the underlying pion track, for feeding samples.
func (t *localTrack) Local() *webrtc.TrackLocalStaticSample {
	return t.track
}

type localMedia struct {
	id     domain.StreamID
	tracks []*localTrack
	once   sync.Once
}

func (m *localMedia) ID() domain.StreamID { return m.id }

func (m *localMedia) Tracks() []port.Track {
	out := make([]port.Track, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = t
	}
	return out
}

func (m *localMedia) Stop() {
	m.once.Do(func() {
		for _, t := range m.tracks {
			t.Stop()
		}
	})
}

// remoteTrack drains RTP from the caller until stopped. Video tracks get
// periodic keyframe requests.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	pc       *webrtc.PeerConnection

	once    sync.Once
	stopped chan struct{}
}

func newRemoteTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *remoteTrack {
	return &remoteTrack{
		track:    track,
		receiver: receiver,
		pc:       pc,
		stopped:  make(chan struct{}),
	}
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() domain.TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func (t *remoteTrack) Stop() {
	t.once.Do(func() {
		close(t.stopped)
		if err := t.receiver.Stop(); err != nil {
			log.Debug().Err(err).Str("track", t.track.ID()).Msg("Stopping receiver")
		}
	})
}

func (t *remoteTrack) start() {
	go t.drain()
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.requestKeyframes()
	}
}

func (t *remoteTrack) drain() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("track", t.track.ID()).Msg("Remote track read ended")
			}
			return
		}
	}
}

func (t *remoteTrack) requestKeyframes() {
	sendPLI := func() error {
		return t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
		})
	}
	if err := sendPLI(); err != nil {
		return
	}

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			if err := sendPLI(); err != nil {
				return
			}
		}
	}
}
