package main

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/mock_store"
	"github.com/duplex-chat/duplex/server/store/types"
)

func makeTestSession(sid string) *Session {
	return &Session{
		proto:  WEBSOCK,
		sendQ:  newSendQueue(16),
		stop:   make(chan []byte, 1),
		detach: make(chan string, 64),
		subs:   make(map[string]*Subscription),
		sid:    sid,
	}
}

// nextFrame pops the oldest queued frame and decodes it.
func nextFrame(t *testing.T, s *Session) *ServerComMessage {
	t.Helper()
	data := s.sendQ.pop()
	if data == nil {
		t.Fatal("expected a queued frame, queue is empty")
	}
	var msg ServerComMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal("failed to parse queued frame:", err)
	}
	return &msg
}

func expectCtrl(t *testing.T, s *Session, code int) *MsgServerCtrl {
	t.Helper()
	msg := nextFrame(t, s)
	if msg.Ctrl == nil {
		t.Fatalf("expected a ctrl frame, got %+v", msg)
	}
	if msg.Ctrl.Code != code {
		t.Errorf("ctrl code: expected %d, got %d (%s)", code, msg.Ctrl.Code, msg.Ctrl.Text)
	}
	return msg.Ctrl
}

func newTestTokenAuth(t *testing.T) *tokenAuth {
	t.Helper()
	ta, err := newTokenAuth(json.RawMessage(
		`{"key": "wfaY2RgF2S1OQI/ZlK+LSrp1KB2jwAdGAIHQ7JZn+Kc=", "timeout": 1209600}`))
	if err != nil {
		t.Fatal(err)
	}
	return ta
}

func TestSendQueueOrder(t *testing.T) {
	q := newSendQueue(8)
	q.push([]byte("one"), false)
	q.push([]byte("two"), true)
	q.push([]byte("three"), false)

	var got []string
	for data := q.pop(); data != nil; data = q.pop() {
		got = append(got, string(data))
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Error("unexpected frame order:", diff)
	}
}

func TestSendQueueDropsTypingFirst(t *testing.T) {
	q := newSendQueue(3)
	q.push([]byte("typing"), true)
	q.push([]byte("msg1"), false)
	q.push([]byte("msg2"), false)

	// Queue is at the limit. A message event must displace the queued
	// typing indicator instead of overflowing.
	dropped, overflow := q.push([]byte("msg3"), false)
	if dropped != 1 || overflow {
		t.Errorf("expected dropped=1 overflow=false, got dropped=%d overflow=%v", dropped, overflow)
	}

	var got []string
	for data := q.pop(); data != nil; data = q.pop() {
		got = append(got, string(data))
	}
	if diff := cmp.Diff([]string{"msg1", "msg2", "msg3"}, got); diff != "" {
		t.Error("unexpected frame order:", diff)
	}
}

func TestSendQueueOverflow(t *testing.T) {
	q := newSendQueue(2)
	q.push([]byte("msg1"), false)
	q.push([]byte("msg2"), false)

	// Nothing droppable in the queue: a message event overflows.
	dropped, overflow := q.push([]byte("msg3"), false)
	if dropped != 0 || !overflow {
		t.Errorf("expected dropped=0 overflow=true, got dropped=%d overflow=%v", dropped, overflow)
	}

	// A typing indicator is itself expendable: dropped, not an overflow.
	dropped, overflow = q.push([]byte("typing"), true)
	if dropped != 1 || overflow {
		t.Errorf("expected dropped=1 overflow=false, got dropped=%d overflow=%v", dropped, overflow)
	}

	if q.size() != 2 {
		t.Error("queue grew past the limit:", q.size())
	}
}

func TestQueueOutOverflowClosesSession(t *testing.T) {
	s := makeTestSession("sidOverflow")
	s.sendQ = newSendQueue(1)
	s.setState(sessOpen)

	if !s.queueOut(&ServerComMessage{Ctrl: &MsgServerCtrl{Code: 200}}) {
		t.Fatal("first frame should be queued")
	}
	if s.queueOut(&ServerComMessage{Ctrl: &MsgServerCtrl{Code: 200}}) {
		t.Error("overflowing frame reported as queued")
	}

	if s.getState() != sessClosing {
		t.Error("expected session to transition to closing, state:", s.getState())
	}
	select {
	case <-s.stop:
	default:
		t.Error("expected a stop signal after overflow")
	}
}

func TestDispatchRequiresHandshake(t *testing.T) {
	s := makeTestSession("sidAuth")

	ok := s.dispatchRaw([]byte(`{"sub": {"id": "1", "topic": "chat.10"}}`))
	if ok {
		t.Error("frame before handshake must be fatal to the session")
	}
	expectCtrl(t, s, http.StatusUnauthorized)
}

func TestDispatchAmbiguousFrame(t *testing.T) {
	s := makeTestSession("sidAmbig")
	s.setState(sessOpen)

	ok := s.dispatchRaw([]byte(`{"hi": {"ver": "1"}, "sub": {"topic": "chat.10"}}`))
	if ok {
		t.Error("frame with multiple members must be fatal to the session")
	}
	expectCtrl(t, s, http.StatusBadRequest)
}

func TestDispatchMalformedJSON(t *testing.T) {
	s := makeTestSession("sidBadJson")

	if s.dispatchRaw([]byte(`{"hi": `)) {
		t.Error("unparseable frame must be fatal to the session")
	}
	expectCtrl(t, s, http.StatusBadRequest)
}

func TestHello(t *testing.T) {
	uid := types.Uid(101)

	ctrl := gomock.NewController(t)
	uu := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = uu
	globals.tokenAuth = newTestTokenAuth(t)
	hub := &Hub{route: make(chan *ServerComMessage, 16)}
	globals.presence = InitPresenceTracker(hub)
	defer func() {
		store.Users = store.UsersObjMapper{}
		globals.presence.stop()
		globals.presence = nil
		ctrl.Finish()
	}()

	uu.EXPECT().Get(uid).Return(&types.User{Id: uid, Name: "alice"}, nil)

	token := globals.tokenAuth.genSecret(uid, time.Now().Add(time.Hour))
	s := makeTestSession("sidHello")
	if !s.dispatchRaw([]byte(`{"hi": {"id": "1", "ver": "1", "token": "` + token + `"}}`)) {
		t.Fatal("handshake frame rejected")
	}

	reply := expectCtrl(t, s, http.StatusOK)
	params, _ := reply.Params.(map[string]any)
	if params == nil || params["sid"] != "sidHello" {
		t.Errorf("expected sid in handshake ack params, got %v", reply.Params)
	}

	if s.getState() != sessOpen {
		t.Error("session not open after handshake")
	}
	if s.uid != uid || s.userName != "alice" {
		t.Errorf("principal not recorded: uid=%v name=%q", s.uid, s.userName)
	}

	// The handshake marks the principal online.
	select {
	case msg := <-hub.route:
		pres, _ := msg.Evt.Payload.(*MsgPresenceChanged)
		if pres == nil || pres.UserId != uid || !pres.Online {
			t.Errorf("unexpected presence event: %+v", msg.Evt.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no presence event after handshake")
	}
}

func TestHelloBadToken(t *testing.T) {
	globals.tokenAuth = newTestTokenAuth(t)

	s := makeTestSession("sidBadToken")
	if !s.dispatchRaw([]byte(`{"hi": {"id": "1", "ver": "1", "token": "not-a-token"}}`)) {
		t.Fatal("failed handshake should not tear the connection down")
	}
	expectCtrl(t, s, http.StatusUnauthorized)

	if s.getState() == sessOpen {
		t.Error("session must not open with a bad token")
	}
}

func TestHelloExpiredToken(t *testing.T) {
	globals.tokenAuth = newTestTokenAuth(t)

	token := globals.tokenAuth.genSecret(types.Uid(101), time.Now().Add(-time.Hour))
	s := makeTestSession("sidExpired")
	s.dispatchRaw([]byte(`{"hi": {"id": "1", "ver": "1", "token": "` + token + `"}}`))
	expectCtrl(t, s, http.StatusUnauthorized)
}

func TestHelloWrongVersion(t *testing.T) {
	s := makeTestSession("sidVer")
	s.dispatchRaw([]byte(`{"hi": {"id": "1", "ver": "0.16", "token": "whatever"}}`))
	expectCtrl(t, s, http.StatusHTTPVersionNotSupported)
}

func TestSubscribeMalformedTopic(t *testing.T) {
	s := makeTestSession("sidSubBad")
	s.setState(sessOpen)
	s.uid = types.Uid(101)

	s.dispatchRaw([]byte(`{"sub": {"id": "2", "topic": "chat.zero"}}`))
	expectCtrl(t, s, http.StatusBadRequest)
}

func TestSubscribeDenied(t *testing.T) {
	uid := types.Uid(101)

	ctrl := gomock.NewController(t)
	cc := mock_store.NewMockConversationsPersistenceInterface(ctrl)
	store.Conversations = cc
	defer func() {
		store.Conversations = store.ConversationsObjMapper{}
		ctrl.Finish()
	}()

	// A conversation between two other users.
	cc.EXPECT().Get(uint64(10)).Return(
		&types.Conversation{Id: 10, UserOne: 555, UserTwo: 556}, nil)

	s := makeTestSession("sidSubDenied")
	s.setState(sessOpen)
	s.uid = uid

	s.dispatchRaw([]byte(`{"sub": {"id": "2", "topic": "chat.10"}}`))
	expectCtrl(t, s, http.StatusForbidden)
}

func TestSubscribeForwardedToHub(t *testing.T) {
	uid := types.Uid(101)

	ctrl := gomock.NewController(t)
	cc := mock_store.NewMockConversationsPersistenceInterface(ctrl)
	store.Conversations = cc
	globals.hub = &Hub{join: make(chan *sessionJoin, 1)}
	defer func() {
		store.Conversations = store.ConversationsObjMapper{}
		globals.hub = nil
		ctrl.Finish()
	}()

	cc.EXPECT().Get(uint64(10)).Return(
		&types.Conversation{Id: 10, UserOne: uid, UserTwo: 555}, nil)

	s := makeTestSession("sidSubOk")
	s.setState(sessOpen)
	s.uid = uid

	s.dispatchRaw([]byte(`{"sub": {"id": "2", "topic": "chat.10"}}`))

	select {
	case join := <-globals.hub.join:
		if join.sess != s || join.pkt.topic != "chat.10" {
			t.Errorf("unexpected join request: %+v", join)
		}
	default:
		t.Error("authorized subscribe did not reach the hub")
	}
	if s.sendQ.size() != 0 {
		t.Error("no reply expected before the topic acknowledges")
	}
}

func TestLeaveNotJoined(t *testing.T) {
	s := makeTestSession("sidLeave")
	s.setState(sessOpen)
	s.uid = types.Uid(101)

	s.dispatchRaw([]byte(`{"leave": {"id": "3", "topic": "chat.10"}}`))
	expectCtrl(t, s, http.StatusNotModified)
}

func TestSecondHandshakeAlreadyAuthenticated(t *testing.T) {
	s := makeTestSession("sidTwice")
	s.setState(sessOpen)
	s.uid = types.Uid(101)
	s.ver = 1

	// A repeated handshake is a benign no-op, not a fatal violation.
	if !s.dispatchRaw([]byte(`{"hi": {"id": "4", "ver": "1", "token": "whatever"}}`)) {
		t.Error("repeated handshake should not tear the connection down")
	}
	expectCtrl(t, s, http.StatusNotModified)
	if s.getState() != sessOpen {
		t.Error("session must remain open after a repeated handshake")
	}
}

func TestCloseGracefulBeforeHandshake(t *testing.T) {
	s := makeTestSession("sidEarlyClose")

	// A protocol violation can happen before the session is open; the
	// closing transition must still fire so queued frames get drained.
	s.closeGraceful()

	if s.getState() != sessClosing {
		t.Error("expected closing state, got:", s.getState())
	}
	select {
	case <-s.stop:
	default:
		t.Error("expected a stop signal")
	}
}
