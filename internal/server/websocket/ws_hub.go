package websocket

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
)

// WsHub fans session stage events out to the clients watching each session.
// A client subscribed with an empty session id receives every event.
type WsHub struct {
	Clients    map[string]map[*websocket.Conn]bool
	Broadcast  chan domain.StageEvent
	Register   chan *WsClient
	Unregister chan *WsClient
	Logger     zerolog.Logger
}

type WsClient struct {
	SessionID string
	Conn      *websocket.Conn
}

func NewWsHub(logger zerolog.Logger) *WsHub {
	hub := &WsHub{
		Clients:    make(map[string]map[*websocket.Conn]bool),
		Broadcast:  make(chan domain.StageEvent, 100),
		Register:   make(chan *WsClient, 100),
		Unregister: make(chan *WsClient, 100),
		Logger:     logger,
	}
	return hub
}

// PublishStage implements interfaces.StagePublisher for the workflow service.
func (h *WsHub) PublishStage(event domain.StageEvent) {
	select {
	case h.Broadcast <- event:
	default:
		h.Logger.Warn().
			Str("session_id", event.SessionID).
			Msg("Stage event channel full, dropping event")
	}
}

func (h *WsHub) Run() {
	for {
		select {
		case client := <-h.Register:
			if h.Clients[client.SessionID] == nil {
				h.Clients[client.SessionID] = make(map[*websocket.Conn]bool)
			}
			h.Clients[client.SessionID][client.Conn] = true
			h.Logger.Info().
				Str("session_id", client.SessionID).
				Int("connection_count", len(h.Clients[client.SessionID])).
				Msg("WebSocket client registered")

		case client := <-h.Unregister:
			if clients, ok := h.Clients[client.SessionID]; ok {
				delete(clients, client.Conn)
				if len(clients) == 0 {
					delete(h.Clients, client.SessionID)
				}
				client.Conn.Close()
				h.Logger.Info().
					Str("session_id", client.SessionID).
					Msg("WebSocket client unregistered")
			}

		case event := <-h.Broadcast:
			h.deliver(h.Clients[event.SessionID], event)
			h.deliver(h.Clients[""], event)
		}
	}
}

func (h *WsHub) deliver(conns map[*websocket.Conn]bool, event domain.StageEvent) {
	for conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			h.Logger.Warn().
				Err(err).
				Str("session_id", event.SessionID).
				Msg("Failed to deliver stage event, dropping client")
			conn.Close()
			delete(conns, conn)
		}
	}
}
