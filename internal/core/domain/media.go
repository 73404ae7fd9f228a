package domain

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Candidate mirrors the browser RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// IsEndOfCandidates reports whether c is the empty end-of-candidates marker.
func (c Candidate) IsEndOfCandidates() bool {
	return c.Candidate == ""
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	SampleRate       int  `json:"sampleRate"`
	ChannelCount     int  `json:"channelCount"`
}

type VideoConstraints struct {
	MaxWidth     int        `json:"maxWidth"`
	MaxHeight    int        `json:"maxHeight"`
	MaxFrameRate int        `json:"maxFrameRate"`
	FacingMode   FacingMode `json:"facingMode"`
}

// MediaConstraints describes the local capture request. A nil member means
// that kind is not requested.
type MediaConstraints struct {
	Audio *AudioConstraints `json:"audio,omitempty"`
	Video *VideoConstraints `json:"video,omitempty"`
}

// DefaultMediaConstraints is the capture profile used for emergency calls:
// echo-cancelled mono audio and front-facing video capped at 640x480@24.
func DefaultMediaConstraints() MediaConstraints {
	return MediaConstraints{
		Audio: &AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       44100,
			ChannelCount:     1,
		},
		Video: &VideoConstraints{
			MaxWidth:     640,
			MaxHeight:    480,
			MaxFrameRate: 24,
			FacingMode:   FacingUser,
		},
	}
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type LinkConfig struct {
	ICEServers      []ICEServer
	RelayOnly       bool
	BundleMaxBundle bool
	RTCPMuxRequire  bool
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
			{URLs: []string{"stun:stun2.l.google.com:19302"}},
			{URLs: []string{"stun:stun3.l.google.com:19302"}},
			{URLs: []string{"stun:stun4.l.google.com:19302"}},
		},
		BundleMaxBundle: true,
		RTCPMuxRequire:  true,
	}
}

// AnswerOptions is what the local side asks to receive when answering.
type AnswerOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

type ConnectivityState string

const (
	ConnectivityNew          ConnectivityState = "new"
	ConnectivityChecking     ConnectivityState = "checking"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)
