package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Authenticator resolves the user behind a handshake request.
type Authenticator func(r *http.Request) (string, error)

type Handler struct {
	hub          *Hub
	authenticate Authenticator
	upgrader     websocket.Upgrader
	sendBuffer   int
}

func NewHandler(hub *Hub, authenticate Authenticator, allowedOrigin string) *Handler {
	return &Handler{
		hub:          hub,
		authenticate: authenticate,
		sendBuffer:   defaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil || userID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "UNAUTHORIZED", "error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := NewClient(userID, h.sendBuffer)
	h.hub.Register(context.Background(), client)
	log.WithFields(log.Fields{"conn_id": client.ID, "user_id": userID}).Debug("websocket connected")

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(context.Background(), client)
		_ = conn.Close()
		log.WithFields(log.Fields{"conn_id": client.ID, "user_id": client.UserID}).Debug("websocket disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("conn_id", client.ID).Warn("websocket read failed")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(client, EventError, map[string]string{"message": "invalid message"})
			continue
		}
		ctx := context.Background()
		switch msg.Type {
		case MessageJoinBoard:
			h.hub.Join(ctx, client, msg.BoardID)
		case MessageLeaveBoard:
			h.hub.Leave(ctx, client, msg.BoardID)
		case MessagePing:
			h.reply(client, EventPong, nil)
		default:
			h.reply(client, EventError, map[string]string{"message": "unknown message type"})
		}
	}
}

// reply queues a frame for this connection only.
func (h *Handler) reply(client *Client, event string, data any) {
	payload, ok := h.hub.encode(event, data)
	if !ok {
		return
	}
	h.hub.deliverConn(client.ID, payload)
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.WithError(err).WithField("conn_id", client.ID).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
