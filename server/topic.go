/******************************************************************************
 *
 *  Description :
 *
 *  A topic is the fan-out unit: the set of sessions currently subscribed
 *  to one key, owned by a single goroutine. All subscriber-set mutations
 *  and event deliveries for the key are serialized through that goroutine,
 *  which is what guarantees per-topic publish order and keeps snapshots
 *  consistent with concurrent joins and leaves.
 *
 *****************************************************************************/

package main

import (
	"sync/atomic"
	"time"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store/types"
)

// Reasons why a topic is shut down.
const (
	StopNone = iota
	// StopShutdown: the server is shutting down.
	StopShutdown
	// StopIdle: the last subscriber left and the kill timer fired.
	StopIdle
)

// Topic is a named fan-out point. One goroutine per live topic.
type Topic struct {
	// Routable name of the topic, e.g. "chat.42" or "presence".
	name string

	// isPresence is true for the single well-known presence topic. The
	// presence topic is never garbage collected.
	isPresence bool

	// Sessions attached to this topic, with the principal recorded at
	// attach time.
	sessions map[*Session]perSessionData

	// Count of attached sessions, kept in sync with the sessions map.
	// Atomic: the hub reads it when deciding whether an idle topic is
	// still safe to unregister.
	numSessions int32

	// Sequence number of the last event published to this topic.
	seq int

	// Time when the topic was first created.
	created time.Time

	// Channel for adding sessions, buffered.
	reg chan *sessionJoin

	// Channel for removing sessions, buffered.
	unreg chan *sessionLeave

	// Channel for events to fan out, buffered.
	broadcast chan *ServerComMessage

	// Request to shut the topic down, buffer 1.
	exit chan *shutDown
}

// perSessionData is the per-subscriber state kept by the topic.
type perSessionData struct {
	uid types.Uid
	// Time the subscription was recorded.
	joined time.Time
}

// shutDown is a request to terminate the topic's goroutine.
type shutDown struct {
	reason int
	// Channel to report completion, may be nil.
	done chan<- bool
}

// How long an empty conversation topic is kept alive in case a subscriber
// comes right back.
const topicTimeout = 5 * time.Second

func (t *Topic) run(hub *Hub) {
	// Ticks when the topic has been empty long enough to unregister.
	killTimer := time.NewTimer(time.Hour)
	killTimer.Stop()

	for {
		select {
		case join := <-t.reg:
			killTimer.Stop()
			t.handleJoin(join)

		case leave := <-t.unreg:
			t.handleLeave(leave)
			if len(t.sessions) == 0 && !t.isPresence {
				killTimer.Reset(topicTimeout)
			}

		case msg := <-t.broadcast:
			t.handleBroadcast(msg)

		case sd := <-t.exit:
			if sd.reason == StopIdle {
				// Join requests which raced with the idle teardown go back
				// to the hub; it will create a fresh topic for them.
				t.requeueJoins(hub)
			}
			// Detach all remaining sessions. Their delivery loops pick the
			// notification up asynchronously.
			for sess := range t.sessions {
				select {
				case sess.detach <- t.name:
				default:
				}
			}
			if sd.done != nil {
				sd.done <- true
			}
			return

		case <-killTimer.C:
			// The topic is empty. Ask the hub to remove it; the hub owns
			// the index and will send the exit signal back.
			hub.unreg <- &topicUnreg{rcptTo: t.name}
		}
	}
}

// handleJoin attaches a session to the topic and acknowledges the
// subscription. Authorization already happened on the session's own
// goroutine before the request reached the hub.
func (t *Topic) handleJoin(join *sessionJoin) {
	sess, msg := join.sess, join.pkt

	if _, attached := t.sessions[sess]; attached {
		sess.queueOut(InfoAlreadySubscribed(msg.id, msg.topic, msg.timestamp))
		return
	}

	t.sessions[sess] = perSessionData{uid: sess.uid, joined: types.TimeNow()}
	atomic.AddInt32(&t.numSessions, 1)
	sess.addSub(t.name, &Subscription{broadcast: t.broadcast, done: t.unreg})

	var params any
	if t.isPresence {
		// The "who's here now" snapshot, so a client subscribing after
		// others are already online still learns about them.
		params = map[string]any{"online": globals.presence.snapshot()}
	}
	sess.queueOut(NoErrParams(msg.id, msg.topic, msg.timestamp, params))

	statsInc("TotalSubscriptions", 1)
}

// handleLeave detaches a session. Idempotent: removing an absent session
// is a no-op. Once the removal is acknowledged no later event published to
// this topic can reach the session.
func (t *Topic) handleLeave(leave *sessionLeave) {
	if _, attached := t.sessions[leave.sess]; !attached {
		if leave.pkt != nil {
			leave.sess.queueOut(InfoNotJoined(leave.pkt.id, leave.pkt.topic, leave.pkt.timestamp))
		}
		return
	}

	delete(t.sessions, leave.sess)
	atomic.AddInt32(&t.numSessions, -1)
	if leave.pkt != nil {
		leave.sess.queueOut(NoErr(leave.pkt.id, leave.pkt.topic, leave.pkt.timestamp))
	}
}

// handleBroadcast stamps the event with the topic sequence and hands it to
// every subscriber's outbound queue. Hand-off is local and non-blocking;
// a subscriber's network backpressure never delays the others.
func (t *Topic) handleBroadcast(msg *ServerComMessage) {
	if msg.Evt == nil {
		logs.Err.Println("topic: invalid broadcast message in", t.name)
		return
	}

	t.seq++
	msg.Evt.Seq = t.seq

	for sess := range t.sessions {
		if !sess.queueOut(msg) {
			logs.Warn.Println("topic: failed to queue event", t.name, "sid:", sess.sid)
		}
	}
	statsInc("DeliveredEventsTotal", len(t.sessions))
}

// subsCount returns the number of attached sessions. Safe to call from any
// goroutine.
func (t *Topic) subsCount() int {
	return int(atomic.LoadInt32(&t.numSessions))
}

// requeueJoins pushes join requests still waiting in the inbound queue back
// to the hub. Called when the topic is torn down for idleness: the hub has
// already dropped it from the index, so the hub must attach these sessions
// to a fresh topic instead.
func (t *Topic) requeueJoins(hub *Hub) {
	for {
		select {
		case join := <-t.reg:
			hub.join <- join
		default:
			return
		}
	}
}
