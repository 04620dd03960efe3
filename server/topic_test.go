package main

import (
	"net/http"
	"testing"

	"github.com/duplex-chat/duplex/server/store/types"
)

func makeTestTopic(name string) *Topic {
	return &Topic{
		name:       name,
		isPresence: name == presenceTopic,
		created:    types.TimeNow(),
		sessions:   make(map[*Session]perSessionData),
		reg:        make(chan *sessionJoin, 256),
		unreg:      make(chan *sessionLeave, 256),
		broadcast:  make(chan *ServerComMessage, 256),
		exit:       make(chan *shutDown, 1),
	}
}

func makeEvent(topic string, msg *MsgMessageSent) *ServerComMessage {
	return &ServerComMessage{
		Evt: &MsgServerEvent{
			Topic:     topic,
			What:      EvtMessageSent,
			Payload:   msg,
			Timestamp: types.TimeNow(),
		},
		rcptTo: topic,
	}
}

func joinTestSession(t *testing.T, topic *Topic, s *Session, id string) {
	t.Helper()
	topic.handleJoin(&sessionJoin{
		pkt:  &ClientComMessage{id: id, topic: topic.name, timestamp: types.TimeNow()},
		sess: s,
	})
	expectCtrl(t, s, http.StatusOK)
}

func TestTopicFanOutOrder(t *testing.T) {
	topic := makeTestTopic("chat.42")

	s1 := makeTestSession("sid1")
	s1.uid = types.Uid(101)
	s2 := makeTestSession("sid2")
	s2.uid = types.Uid(102)

	joinTestSession(t, topic, s1, "1")
	joinTestSession(t, topic, s2, "1")

	if s1.getSub("chat.42") == nil || s2.getSub("chat.42") == nil {
		t.Fatal("subscriptions not recorded on the sessions")
	}

	topic.handleBroadcast(makeEvent("chat.42", &MsgMessageSent{SeqId: 900, Body: "first"}))
	topic.handleBroadcast(makeEvent("chat.42", &MsgMessageSent{SeqId: 901, Body: "second"}))

	// Both subscribers observe the same events in the same order with
	// consecutive sequence numbers.
	for _, s := range []*Session{s1, s2} {
		for i, want := range []string{"first", "second"} {
			msg := nextFrame(t, s)
			if msg.Evt == nil {
				t.Fatalf("%s: expected an event frame, got %+v", s.sid, msg)
			}
			if msg.Evt.Seq != i+1 {
				t.Errorf("%s: event %d has seq %d", s.sid, i, msg.Evt.Seq)
			}
			payload, _ := msg.Evt.Payload.(map[string]any)
			if payload == nil || payload["body"] != want {
				t.Errorf("%s: expected body %q, got %v", s.sid, want, msg.Evt.Payload)
			}
		}
	}
}

func TestTopicDuplicateJoin(t *testing.T) {
	topic := makeTestTopic("chat.42")

	s := makeTestSession("sid1")
	s.uid = types.Uid(101)
	joinTestSession(t, topic, s, "1")

	topic.handleJoin(&sessionJoin{
		pkt:  &ClientComMessage{id: "2", topic: topic.name, timestamp: types.TimeNow()},
		sess: s,
	})
	expectCtrl(t, s, http.StatusNotModified)

	if topic.subsCount() != 1 {
		t.Error("duplicate join changed the subscriber set:", topic.subsCount())
	}
}

func TestTopicNoDeliveryAfterLeave(t *testing.T) {
	topic := makeTestTopic("chat.42")

	s1 := makeTestSession("sid1")
	s1.uid = types.Uid(101)
	s2 := makeTestSession("sid2")
	s2.uid = types.Uid(102)

	joinTestSession(t, topic, s1, "1")
	joinTestSession(t, topic, s2, "1")

	// s1 leaves with an explicit request; the removal and the ack happen
	// before any later event is processed.
	s1.delSub(topic.name)
	topic.handleLeave(&sessionLeave{
		pkt:  &ClientComMessage{id: "2", topic: topic.name, timestamp: types.TimeNow()},
		sess: s1,
	})
	expectCtrl(t, s1, http.StatusOK)

	topic.handleBroadcast(makeEvent("chat.42", &MsgMessageSent{SeqId: 900, Body: "late"}))

	if s1.sendQ.size() != 0 {
		t.Error("event delivered to a session after its unsubscribe was acknowledged")
	}
	if msg := nextFrame(t, s2); msg.Evt == nil {
		t.Error("remaining subscriber did not receive the event")
	}
}

func TestTopicLeaveIdempotent(t *testing.T) {
	topic := makeTestTopic("chat.42")

	s := makeTestSession("sid1")
	s.uid = types.Uid(101)

	// Leaving a topic the session never joined: an info reply when the
	// client asked, silence when the session is dying.
	topic.handleLeave(&sessionLeave{
		pkt:  &ClientComMessage{id: "1", topic: topic.name, timestamp: types.TimeNow()},
		sess: s,
	})
	expectCtrl(t, s, http.StatusNotModified)

	topic.handleLeave(&sessionLeave{sess: s})
	if s.sendQ.size() != 0 {
		t.Error("dying session must not receive a leave reply")
	}
}

func TestPresenceTopicJoinSnapshot(t *testing.T) {
	hub := &Hub{route: make(chan *ServerComMessage, 16)}
	globals.presence = InitPresenceTracker(hub)
	defer func() {
		globals.presence.stop()
		globals.presence = nil
	}()

	globals.presence.userOnline(types.Uid(101), "alice")
	globals.presence.userOnline(types.Uid(102), "bob")

	topic := makeTestTopic(presenceTopic)
	s := makeTestSession("sid1")
	s.uid = types.Uid(103)

	topic.handleJoin(&sessionJoin{
		pkt:  &ClientComMessage{id: "1", topic: presenceTopic, timestamp: types.TimeNow()},
		sess: s,
	})

	reply := expectCtrl(t, s, http.StatusOK)
	params, _ := reply.Params.(map[string]any)
	if params == nil {
		t.Fatal("expected a presence snapshot in the subscription ack")
	}
	online, _ := params["online"].([]any)
	if len(online) != 2 {
		t.Errorf("expected 2 online principals in the snapshot, got %v", params["online"])
	}
}

func TestIdleTeardownRequeuesPendingJoins(t *testing.T) {
	hub := &Hub{join: make(chan *sessionJoin, 4)}
	topic := makeTestTopic("chat.7")

	s := makeTestSession("sidLate")
	s.uid = types.Uid(101)
	join := &sessionJoin{
		pkt:  &ClientComMessage{id: "1", topic: "chat.7", timestamp: types.TimeNow()},
		sess: s,
	}
	// The join arrived after the hub dropped the topic from its index.
	topic.reg <- join

	topic.requeueJoins(hub)

	select {
	case got := <-hub.join:
		if got != join {
			t.Errorf("unexpected join request requeued: %+v", got)
		}
	default:
		t.Error("pending join not handed back to the hub")
	}
	if s.sendQ.size() != 0 {
		t.Error("no reply expected until the hub re-attaches the session")
	}
}
