package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"flipmaster/internal/models"
	"flipmaster/internal/services"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	gameEngine *services.GameEngine
	stats      *services.StatsAggregator
	assets     *services.AssetResolver
	hub        *WebSocketHub
	log        zerolog.Logger
}

type WebSocketHub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	log        zerolog.Logger
}

// Client is one open event stream. Only its write pump touches the
// connection for writing.
type Client struct {
	Conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (client *Client) close() {
	client.closeOnce.Do(func() { close(client.closed) })
}

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewWebSocketHandler(
	gameEngine *services.GameEngine,
	stats *services.StatsAggregator,
	assets *services.AssetResolver,
	logger zerolog.Logger,
) *WebSocketHandler {
	log := logger.With().Str("component", "websocket").Logger()
	hub := &WebSocketHub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 100),
		done:       make(chan struct{}),
		log:        log,
	}

	return &WebSocketHandler{
		gameEngine: gameEngine,
		stats:      stats,
		assets:     assets,
		hub:        hub,
		log:        log,
	}
}

// Run drives the hub until ctx is cancelled, then drops every client.
func (h *WebSocketHandler) Run(ctx context.Context) error {
	h.hub.run(ctx)
	return nil
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade to websocket")
		return
	}

	client := &Client{
		Conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()

	defer func() {
		select {
		case h.hub.unregister <- client:
		case <-h.hub.done:
		}
		client.close()
	}()

	h.sendState(client)

	for {
		var msg Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		h.sendPong(client)
	case "STATE":
		h.sendState(client)
	}
}

func (h *WebSocketHandler) sendState(client *Client) {
	h.queue(client, Message{
		Type: "STATE",
		Data: gin.H{
			"session": h.gameEngine.Session(),
			"stats":   h.stats.View(),
			"assets":  h.assets.Capability(),
			"faces": gin.H{
				"heads": h.assets.Face(models.FaceHeads),
				"tails": h.assets.Face(models.FaceTails),
			},
		},
	})
}

func (h *WebSocketHandler) sendPong(client *Client) {
	h.queue(client, Message{
		Type: "PONG",
		Data: gin.H{
			"timestamp": time.Now().Unix(),
		},
	})
}

func (h *WebSocketHandler) queue(client *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("failed to encode message")
		return
	}

	select {
	case <-client.closed:
	case client.send <- payload:
	default:
		h.log.Warn().Str("type", msg.Type).Msg("client too slow, message dropped")
	}
}

// BroadcastRound sends a game event to every connected client. It never
// blocks the game loop; events are dropped when the hub is backed up.
func (h *WebSocketHandler) BroadcastRound(event models.RoundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to encode event")
		return
	}

	select {
	case h.hub.broadcast <- payload:
	default:
		h.log.Warn().Str("type", string(event.Type)).Msg("broadcast queue full, event dropped")
	}
}

func (h *WebSocketHandler) BroadcastStats(view models.StatsView) {
	session := h.gameEngine.Session()
	h.BroadcastRound(models.RoundEvent{
		Type:      models.EventStats,
		RoundID:   session.RoundID,
		Session:   session,
		Stats:     &view,
		Timestamp: time.Now(),
	})
}

func (hub *WebSocketHub) run(ctx context.Context) {
	defer close(hub.done)

	for {
		select {
		case <-ctx.Done():
			for client := range hub.clients {
				client.close()
				delete(hub.clients, client)
			}
			return

		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			hub.log.Debug().Int("clients", len(hub.clients)).Msg("client registered")

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				client.close()
				hub.log.Debug().Int("clients", len(hub.clients)).Msg("client unregistered")
			}

		case payload := <-hub.broadcast:
			for client := range hub.clients {
				select {
				case client.send <- payload:
				default:
					delete(hub.clients, client)
					client.close()
				}
			}
		}
	}
}

func (client *Client) writePump() {
	defer client.Conn.Close()

	for {
		select {
		case payload := <-client.send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				client.close()
				return
			}
		case <-client.closed:
			client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
