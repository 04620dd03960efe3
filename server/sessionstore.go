/******************************************************************************
 *
 *  Description :
 *
 *  Management of the set of live sessions.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/types"
)

// SessionStore holds live sessions, indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	sessCache map[string]*Session
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(conn any, sid string) (*Session, int) {
	var s Session

	s.sid = sid

	switch c := conn.(type) {
	case *websocket.Conn:
		s.proto = WEBSOCK
		s.ws = c
	default:
		s.proto = NONE
	}

	if s.proto != NONE {
		s.subs = make(map[string]*Subscription)
		s.sendQ = newSendQueue(globals.sendQueueLimit)
		s.stop = make(chan []byte, 1)
		s.detach = make(chan string, 64)
	}

	s.state = sessConnecting
	s.lastAction = types.TimeNow()
	if s.sid == "" {
		s.sid = store.GetSidString()
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = &s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSet("LiveSessions", int64(count))
	statsInc("TotalSessions", 1)

	return &s, count
}

// Delete removes session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	count := len(ss.sessCache)
	statsSet("LiveSessions", int64(count))

	return count
}

// Range calls given function for all sessions. Stops if the function
// returns false.
func (ss *SessionStore) Range(f func(sid string, s *Session) bool) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for sid, s := range ss.sessCache {
		if !f(sid, s) {
			break
		}
	}
}

// Shutdown terminates sessionStore. No need to clean up.
func (ss *SessionStore) Shutdown() {
	shutdown, _ := json.Marshal(NoErrShutdown(types.TimeNow()))
	count := 0
	ss.Range(func(sid string, s *Session) bool {
		count++
		if s.stop != nil {
			select {
			case s.stop <- shutdown:
			default:
			}
		}
		return true
	})

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", count)
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}
