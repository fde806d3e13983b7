package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAuth(r *http.Request) (string, error) {
	switch r.URL.Query().Get("token") {
	case "good":
		return "u1", nil
	default:
		return "", errors.New("invalid token")
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == event {
			return env
		}
	}
}

func TestHandlerRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewHub(nil), tokenAuth, "*"))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerJoinAndReceive(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, tokenAuth, "*"))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	online := readUntil(t, conn, EventOnlineUsers)
	assert.Equal(t, []any{"u1"}, online.Data)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageJoinBoard, BoardID: "B1"}))
	joined := readUntil(t, conn, EventUserJoined)
	assert.Equal(t, map[string]any{"userId": "u1", "boardId": "B1"}, joined.Data)

	hub.EmitToRoom(RoomForBoard("B1"), EventCardCreated, map[string]string{"id": "crd_1"})
	created := readUntil(t, conn, EventCardCreated)
	assert.Equal(t, map[string]any{"id": "crd_1"}, created.Data)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessagePing}))
	readUntil(t, conn, EventPong)
}

func TestHandlerDisconnectClearsPresence(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, tokenAuth, "*"))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readUntil(t, conn, EventOnlineUsers)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		online, err := hub.Online(t.Context())
		return err == nil && len(online) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
