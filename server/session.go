/******************************************************************************
 *
 *  Description :
 *
 *  Handling of client sessions. A session is a single live connection; one
 *  user may have multiple sessions (browser tabs). Each session moves
 *  through connecting -> open -> closing -> closed.
 *
 *****************************************************************************/

package main

import (
	"container/list"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/types"
)

// Wire transport.
const (
	NONE = iota
	WEBSOCK
)

// Session states.
const (
	sessConnecting int32 = iota
	sessOpen
	sessClosing
	sessClosed
)

const currentVersion = "1"

// Session represents a single live connection of one principal.
type Session struct {
	// protocol - NONE (unset) or WEBSOCK.
	proto int

	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// User agent, a string provided by the client in the {hi} packet.
	userAgent string

	// Protocol version of the client, 0 before the handshake.
	ver int

	// ID of the authenticated principal, ZeroUid before the handshake.
	uid types.Uid
	// Display name of the principal, read from the store at handshake.
	userName string

	// Session state: connecting, open, closing, closed. Atomic.
	state int32

	// Time when the session received any packet from the client.
	lastAction time.Time

	// Outbound frames with the slow-consumer drop policy.
	sendQ *sendQueue

	// Channel for shutting down the session, buffer 1.
	// The content is an optional last serialized frame to write out.
	stop chan []byte

	// detach - channel for detaching session from topic, buffered.
	detach chan string

	// Map of topic subscriptions, indexed by topic name.
	// Don't access directly. Use getters/setters.
	subs map[string]*Subscription
	// Mutex for subs access: both topic goroutines and the network
	// goroutine access subs concurrently.
	subsLock sync.RWMutex

	// Session ID.
	sid string
}

// Subscription is a mapper of sessions to topics.
type Subscription struct {
	// Channel to communicate with the topic, copy of Topic.broadcast.
	broadcast chan<- *ServerComMessage

	// Session sends a signal to the topic when this session is unsubscribed.
	// This is a copy of Topic.unreg.
	done chan<- *sessionLeave
}

func (s *Session) addSub(topic string, sub *Subscription) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	s.subs[topic] = sub
}

func (s *Session) getSub(topic string) *Subscription {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	return s.subs[topic]
}

func (s *Session) delSub(topic string) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	delete(s.subs, topic)
}

func (s *Session) unsubAll() {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()

	for _, sub := range s.subs {
		// sub.done is the same as topic.unreg.
		sub.done <- &sessionLeave{sess: s}
	}
}

func (s *Session) getState() int32 {
	return atomic.LoadInt32(&s.state)
}

func (s *Session) setState(state int32) {
	atomic.StoreInt32(&s.state, state)
}

// queueOut attempts to send a ServerComMessage to the session.
// If the send queue is full the drop policy applies; the call never blocks.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}
	if s.getState() == sessClosed {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logs.Err.Println("s.queueOut: marshal failed", s.sid, err)
		return false
	}

	dropped, overflow := s.sendQ.push(data, msg.droppable)
	if dropped > 0 {
		statsInc("OutboundFramesDroppedTotal", dropped)
	}
	if overflow {
		// Not even dropping typing indicators freed enough room: the
		// client is not reading. Close it rather than blocking the
		// publisher.
		logs.Warn.Println("s.queueOut: outbound queue overflow, closing", s.sid)
		statsInc("SlowConsumerClosedTotal", 1)
		s.closeGraceful()
		return false
	}
	return true
}

// closeGraceful transitions the session to closing and signals the write
// loop, which drains already-queued frames within the grace period and then
// releases the connection. Used for all server-initiated closes: slow
// consumer, protocol violation, heartbeat timeout.
func (s *Session) closeGraceful() {
	if atomic.CompareAndSwapInt32(&s.state, sessOpen, sessClosing) ||
		atomic.CompareAndSwapInt32(&s.state, sessConnecting, sessClosing) {
		select {
		case s.stop <- nil:
		default:
		}
	}
}

func (s *Session) cleanUp() {
	s.setState(sessClosed)
	globals.sessionStore.Delete(s)
	s.unsubAll()
	if !s.uid.IsZero() {
		globals.presence.userOffline(s.uid)
	}
}

// dispatchRaw parses a raw client frame and dispatches it. Returns false on
// a protocol violation; the connection must then be torn down.
func (s *Session) dispatchRaw(raw []byte) bool {
	var msg ClientComMessage

	if err := json.Unmarshal(raw, &msg); err != nil {
		// Malformed frame. Protocol violations are fatal to the session.
		logs.Warn.Println("s.dispatch: malformed frame", s.sid, err)
		s.queueOut(ErrMalformed("", "", types.TimeNow()))
		return false
	}

	return s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) bool {
	s.lastAction = types.TimeNow()
	msg.timestamp = s.lastAction

	var handler func(*ClientComMessage)

	count := 0
	if msg.Hi != nil {
		handler = s.hello
		msg.id = msg.Hi.Id
		count++
	}
	if msg.Sub != nil {
		handler = s.subscribe
		msg.id = msg.Sub.Id
		msg.topic = msg.Sub.Topic
		count++
	}
	if msg.Leave != nil {
		handler = s.leave
		msg.id = msg.Leave.Id
		msg.topic = msg.Leave.Topic
		count++
	}

	if count != 1 {
		// Zero or multiple frame members: protocol violation, fatal.
		logs.Warn.Println("s.dispatch: invalid frame", s.sid)
		s.queueOut(ErrMalformed(msg.id, msg.topic, msg.timestamp))
		return false
	}

	if msg.Hi == nil && s.getState() != sessOpen {
		// A frame before the handshake is a protocol violation: report and
		// terminate, the client must reconnect.
		s.queueOut(ErrAuthRequired(msg.id, msg.topic, msg.timestamp))
		return false
	}

	handler(msg)
	return true
}

// hello finishes the connecting -> open transition: protocol version check
// and the auth handoff from the upstream web app.
func (s *Session) hello(msg *ClientComMessage) {
	if s.ver != 0 {
		// The session is already authenticated; a repeated handshake is a
		// benign no-op.
		s.queueOut(ErrAlreadyAuthenticated(msg.id, "", msg.timestamp))
		return
	}
	if msg.Hi.Version != currentVersion {
		s.queueOut(ErrVersionNotSupported(msg.id, "", msg.timestamp))
		return
	}

	uid, authCode := globals.tokenAuth.authenticate(msg.Hi.Token)
	if authCode != authNoErr {
		logs.Info.Println("s.hello: token rejected", s.sid, authCode)
		s.queueOut(ErrAuthFailed(msg.id, "", msg.timestamp))
		return
	}

	user, err := store.Users.Get(uid)
	if err != nil {
		logs.Err.Println("s.hello: failed to load user", s.sid, uid, err)
		s.queueOut(ErrAuthFailed(msg.id, "", msg.timestamp))
		return
	}

	s.ver = 1
	s.uid = uid
	s.userName = user.Name
	s.userAgent = msg.Hi.UserAgent
	s.setState(sessOpen)

	globals.presence.userOnline(s.uid, s.userName)

	params := map[string]any{"ver": currentVersion, "build": buildstamp, "sid": s.sid}
	s.queueOut(NoErrParams(msg.id, "", msg.timestamp, params))

	logs.Info.Println("s.hello: session open", s.sid, "uid:", uid)
}

// subscribe handles a request to attach the session to a topic: authorize,
// then register with the topic through the hub. The authorization call may
// block on store I/O; it runs on this session's read goroutine and holds no
// shared lock.
func (s *Session) subscribe(msg *ClientComMessage) {
	if !validTopicName(msg.topic) {
		s.queueOut(ErrMalformed(msg.id, msg.topic, msg.timestamp))
		return
	}

	if sub := s.getSub(msg.topic); sub != nil {
		s.queueOut(InfoAlreadySubscribed(msg.id, msg.topic, msg.timestamp))
		return
	}

	if !authorizeTopic(s.uid, msg.topic) {
		s.queueOut(ErrPermissionDenied(msg.id, msg.topic, msg.timestamp))
		return
	}

	globals.hub.join <- &sessionJoin{pkt: msg, sess: s}
	// Hub will send the success/failure packet back to the session.
}

// leave handles a request to detach the session from a topic.
func (s *Session) leave(msg *ClientComMessage) {
	if sub := s.getSub(msg.topic); sub != nil {
		// Unlink from topic. The topic will remove the session from its
		// subscriber set and acknowledge; no event published after that
		// removal can reach this session.
		s.delSub(msg.topic)
		sub.done <- &sessionLeave{pkt: msg, sess: s}
	} else {
		s.queueOut(InfoNotJoined(msg.id, msg.topic, msg.timestamp))
	}
}

// sendQueue is the outbound frame queue of one session. The publisher never
// blocks on it: when the queue is full, queued droppable frames (typing
// indicators) are discarded oldest-first to make room; if the queue is
// still full the session must be closed.
type sendQueue struct {
	lock   sync.Mutex
	frames list.List // of *queuedFrame
	limit  int
	// ready has capacity 1 and signals the writer that frames are pending.
	ready chan struct{}
}

type queuedFrame struct {
	data      []byte
	droppable bool
}

func newSendQueue(limit int) *sendQueue {
	q := &sendQueue{limit: limit, ready: make(chan struct{}, 1)}
	q.frames.Init()
	return q
}

// push appends a frame. Returns the number of dropped frames and whether
// the queue overflowed even after dropping.
func (q *sendQueue) push(data []byte, droppable bool) (dropped int, overflow bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.frames.Len() >= q.limit {
		for e := q.frames.Front(); e != nil && q.frames.Len() >= q.limit; {
			next := e.Next()
			if e.Value.(*queuedFrame).droppable {
				q.frames.Remove(e)
				dropped++
			}
			e = next
		}
		if q.frames.Len() >= q.limit {
			if droppable {
				// The new frame is itself expendable.
				return dropped + 1, false
			}
			return dropped, true
		}
	}

	q.frames.PushBack(&queuedFrame{data: data, droppable: droppable})
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, false
}

// pop removes and returns the oldest frame, nil if the queue is empty.
func (q *sendQueue) pop() []byte {
	q.lock.Lock()
	defer q.lock.Unlock()

	e := q.frames.Front()
	if e == nil {
		return nil
	}
	q.frames.Remove(e)
	return e.Value.(*queuedFrame).data
}

func (q *sendQueue) size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.frames.Len()
}
