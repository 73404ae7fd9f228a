package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBusy                = errors.New("an emergency call is already active")
	ErrNoActiveCall        = errors.New("no active call")
	ErrSessionClosed       = errors.New("call session is closed")
	ErrInvalidMessage      = errors.New("invalid signaling message")
	ErrNegotiationTimeout  = errors.New("negotiation did not complete before the deadline")
	ErrConnectivityLost    = errors.New("connectivity lost")
	ErrConnectivityFailed  = errors.New("connectivity failed")
	ErrChannelDisconnected = errors.New("signaling channel disconnected")
	ErrDuplicateOffer      = errors.New("duplicate offer")
	ErrStaleCandidate      = errors.New("candidate does not belong to the active call")
	ErrRemoteEnded         = errors.New("call ended by caller")
	ErrLocalEnded          = errors.New("call ended by operator")
	ErrLocalRejected       = errors.New("call rejected by operator")
	ErrShutdown            = errors.New("operator shutting down")
)

type TransitionError struct {
	From CallState
	To   CallState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid call transition %s -> %s", e.From, e.To)
}

type MediaFailure string

const (
	MediaPermissionDenied MediaFailure = "permission_denied"
	MediaDeviceNotFound   MediaFailure = "device_not_found"
	MediaAdapterFault     MediaFailure = "adapter_fault"
)

// MediaAcquisitionError is returned when local capture cannot be obtained.
type MediaAcquisitionError struct {
	Reason MediaFailure
	Err    error
}

func NewMediaAcquisitionError(reason MediaFailure, err error) *MediaAcquisitionError {
	return &MediaAcquisitionError{Reason: reason, Err: err}
}

func (e *MediaAcquisitionError) Error() string {
	if e.Err == nil {
		return "media acquisition failed: " + string(e.Reason)
	}
	return fmt.Sprintf("media acquisition failed: %s: %v", e.Reason, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error {
	return e.Err
}

// Cause is the human-readable text sent to the caller on auto-reject.
func (e *MediaAcquisitionError) Cause() string {
	switch e.Reason {
	case MediaPermissionDenied:
		return "Microphone or camera permission denied. Grant the permissions."
	case MediaDeviceNotFound:
		return "No audio or video devices were found."
	default:
		if e.Err != nil {
			return "Could not access media: " + e.Err.Error()
		}
		return "Could not access media."
	}
}

// AsMediaAcquisitionError classifies err, wrapping unknown errors as adapter faults.
func AsMediaAcquisitionError(err error) *MediaAcquisitionError {
	var mae *MediaAcquisitionError
	if errors.As(err, &mae) {
		return mae
	}
	return NewMediaAcquisitionError(MediaAdapterFault, err)
}
