package streaming

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Serve(conn, userID)
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestHubDeliversToMatchingUser(t *testing.T) {
	hub := NewHub()
	conn, closeAll := dialHub(t, hub, "user-1")
	defer closeAll()

	time.Sleep(20 * time.Millisecond)
	hub.BroadcastToUser("user-1", []byte(`{"event":"created"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"event":"created"}`, string(msg))
}

func TestHubSkipsOtherUsers(t *testing.T) {
	hub := NewHub()
	conn, closeAll := dialHub(t, hub, "user-1")
	defer closeAll()

	time.Sleep(20 * time.Millisecond)
	hub.BroadcastToUser("user-2", []byte(`{"event":"created"}`))

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
