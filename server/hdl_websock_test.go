package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestSession serves a session over httptest and connects a real
// websocket client to it.
func dialTestSession(t *testing.T, sid string) (*websocket.Conn, func()) {
	t.Helper()

	globals.sessionStore = NewSessionStore()
	globals.sendQueueLimit = 16
	globals.maxMessageSize = 1 << 14
	globals.idleSessionTimeout = 2 * time.Second
	globals.closingGracePeriod = time.Second

	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(wrt, req, nil)
		if err != nil {
			t.Error("failed to upgrade:", err)
			return
		}
		sess, _ := globals.sessionStore.NewSession(ws, sid)
		go sess.writeLoop()
		go sess.readLoop()
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatal("failed to dial:", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestProtocolViolationDeliversErrorBeforeClose(t *testing.T) {
	conn, teardown := dialTestSession(t, "sidDrain")
	defer teardown()

	// An empty frame is a protocol violation: the server queues an error
	// reply and terminates the session. The reply must reach the client
	// before the transport is closed.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatal("write failed:", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal("connection closed before the error frame was delivered:", err)
	}
	var msg ServerComMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal("failed to parse reply:", err)
	}
	if msg.Ctrl == nil || msg.Ctrl.Code != http.StatusBadRequest {
		t.Errorf("expected a 400 ctrl frame, got %+v", &msg)
	}

	// Once the drain is done the server releases the connection.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed after the drain")
	}
}
