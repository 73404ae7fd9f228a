package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/vetcall/internal/adapter/driven/gateway/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the console origin once it is served from a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) Send(ev ws.FeedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS streams call updates to an operator console. The current call,
// if any, is sent first.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("Feed client connected")

	if snap, ok := h.CallService.Current(); ok {
		if err := client.Send(ws.FeedEvent{Type: ws.FeedCallChanged, Call: &snap, CallID: snap.CallID}); err != nil {
			l.Error().Err(err).Msg("Error sending current call")
			conn.Close()
			return
		}
	}

	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	defer func() {
		l.Info().Msg("Feed client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	// The feed is one-way; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
	}
}
