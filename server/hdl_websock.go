/******************************************************************************
 *
 *  Description :
 *
 *  Handler of websocket connections: the only client transport.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store/types"
)

// Time allowed to write a message to the peer.
const writeWait = 10 * time.Second

func (sess *Session) closeWS() {
	if sess.proto == WEBSOCK {
		sess.ws.Close()
	}
}

func (sess *Session) readLoop() {
	defer func() {
		// Once the session is closing, writeLoop owns the connection: it
		// drains queued frames within the grace period and closes the
		// socket when done. Closing it here would cut the drain short.
		if sess.getState() != sessClosing {
			sess.closeWS()
		}
		sess.cleanUp()
	}()

	// No pong within this interval means the connection is dead.
	pongWait := globals.idleSessionTimeout

	sess.ws.SetReadLimit(globals.maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a ClientComMessage.
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sess.sid, err)
			}
			// Heartbeat timeout or transport failure: close through the
			// same drain path as other server-initiated closes.
			sess.closeGraceful()
			return
		}
		statsInc("IncomingMessagesWebsockTotal", 1)
		if !sess.dispatchRaw(raw) {
			// Protocol violation: terminate the session, let queued
			// frames drain.
			sess.closeGraceful()
			return
		}
	}
}

func (sess *Session) sendFrame(data []byte) bool {
	statsInc("OutgoingMessagesWebsockTotal", 1)
	if err := wsWrite(sess.ws, websocket.TextMessage, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	return true
}

func (sess *Session) writeLoop() {
	// Send pings to the peer with this period. Must be less than the pong
	// deadline.
	pingPeriod := globals.idleSessionTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case <-sess.sendQ.ready:
			for {
				data := sess.sendQ.pop()
				if data == nil {
					break
				}
				if !sess.sendFrame(data) {
					return
				}
			}

		case last := <-sess.stop:
			// Session is closing: drain already-queued frames best-effort,
			// bounded by the grace period, then release the connection.
			sess.setState(sessClosing)
			deadline := time.Now().Add(globals.closingGracePeriod)
			for time.Now().Before(deadline) {
				data := sess.sendQ.pop()
				if data == nil {
					break
				}
				if err := wsWrite(sess.ws, websocket.TextMessage, data); err != nil {
					break
				}
			}
			if last != nil {
				// Shutdown announcement; don't care if it is delivered.
				wsWrite(sess.ws, websocket.TextMessage, last)
			}
			return

		case topic := <-sess.detach:
			sess.delSub(topic)

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// wsWrite writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if isValid, _ := checkAPIKey(getAPIKey(req)); !isValid {
		wrt.WriteHeader(http.StatusForbidden)
		json.NewEncoder(wrt).Encode(ErrAuthFailed("", "", now).Ctrl)
		logs.Err.Println("ws: missing or invalid API key")
		return
	}

	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(wrt).Encode(ErrMalformed("", "", now).Ctrl)
		logs.Err.Println("ws: invalid HTTP method", req.Method)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to upgrade", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	sess.remoteAddr = req.RemoteAddr

	logs.Info.Println("ws: session started", sess.sid, sess.remoteAddr, count)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
