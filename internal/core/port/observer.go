package port

import "github.com/Wyydra/vetcall/internal/core/domain"

// CallObserver is notified after every published session change. It only
// ever sees fully applied states.
type CallObserver interface {
	CallChanged(snapshot domain.Snapshot)
	RemoteMediaReady(callID domain.CallID, stream domain.StreamID)
}
