package ws

import (
	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type FeedEventType string

const (
	FeedCallChanged FeedEventType = "call_changed"
	FeedRemoteMedia FeedEventType = "remote_media"
)

// FeedEvent is what operator consoles receive on the live feed.
type FeedEvent struct {
	Type   FeedEventType    `json:"type"`
	Call   *domain.Snapshot `json:"call,omitempty"`
	CallID domain.CallID    `json:"callId,omitempty"`
	Stream domain.StreamID  `json:"stream,omitempty"`
}

// Client is one subscriber of the live feed.
type Client interface {
	ID() string
	Send(ev FeedEvent) error
	Close() error
}

// Hub fans call updates out to feed clients. It implements port.CallObserver.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan FeedEvent
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan FeedEvent, 64),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) CallChanged(snapshot domain.Snapshot) {
	h.publish(FeedEvent{Type: FeedCallChanged, Call: &snapshot, CallID: snapshot.CallID})
}

func (h *Hub) RemoteMediaReady(callID domain.CallID, stream domain.StreamID) {
	h.publish(FeedEvent{Type: FeedRemoteMedia, CallID: callID, Stream: stream})
}

// publish never blocks the caller: session loops call it.
func (h *Hub) publish(ev FeedEvent) {
	select {
	case h.broadcast <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("Feed channel full, dropping event")
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			log.Info().Int("count", len(h.clients)).Msg("Stopping feed hub")
			for client := range h.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error closing feed client")
				}
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Int("count", len(h.clients)).Str("client_id", client.ID()).Msg("Feed client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Int("count", len(h.clients)).Str("client_id", client.ID()).Msg("Feed client unregistered")
			}

		case ev := <-h.broadcast:
			for client := range h.clients {
				if err := client.Send(ev); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending feed event")
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

// Register adds c. It returns false if the hub is stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}
