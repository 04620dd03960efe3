/******************************************************************************
 *
 *  Description :
 *
 *    The hub is the topic index and event router: it creates topics on
 *    first subscribe, routes published events to the matching topic and
 *    tears topics down when they go idle.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store/types"
)

// sessionJoin is a request to attach a session to a topic.
type sessionJoin struct {
	// Message containing request details.
	pkt *ClientComMessage
	// Session to attach to the topic.
	sess *Session
}

// sessionLeave is a request to detach a session from a topic.
type sessionLeave struct {
	// Message containing request details. Nil when the session is dying.
	pkt *ClientComMessage
	// Session which initiated the request.
	sess *Session
}

// topicUnreg is a request to remove a topic from the hub.
type topicUnreg struct {
	// Routable name of the topic to drop.
	rcptTo string
}

// Hub is the core structure which holds topics.
type Hub struct {
	// Topics indexed by name.
	topics *sync.Map

	// Channel for routing published events to topics, buffered.
	route chan *ServerComMessage

	// Subscribe session to topic, possibly creating a new topic, buffered.
	join chan *sessionJoin

	// Remove topic from hub, buffered.
	unreg chan *topicUnreg

	// Request to shutdown, unbuffered.
	shutdown chan chan<- bool
}

func (h *Hub) topicGet(name string) *Topic {
	if t, ok := h.topics.Load(name); ok {
		return t.(*Topic)
	}
	return nil
}

func (h *Hub) topicPut(name string, t *Topic) {
	h.topics.Store(name, t)
}

func (h *Hub) topicDel(name string) {
	h.topics.Delete(name)
}

func newHub() *Hub {
	h := &Hub{
		topics: &sync.Map{},
		// Needs to be buffered: publishes are fire-and-forget and must
		// not block the persistence collaborator.
		route:    make(chan *ServerComMessage, 4096),
		join:     make(chan *sessionJoin, 256),
		unreg:    make(chan *topicUnreg, 256),
		shutdown: make(chan chan<- bool),
	}

	go h.run()

	return h
}

func (h *Hub) run() {
	for {
		select {
		case join := <-h.join:
			// Is the topic already loaded?
			t := h.topicGet(join.pkt.topic)
			if t == nil {
				t = &Topic{
					name:       join.pkt.topic,
					isPresence: join.pkt.topic == presenceTopic,
					created:    types.TimeNow(),
					sessions:   make(map[*Session]perSessionData),
					reg:        make(chan *sessionJoin, 256),
					unreg:      make(chan *sessionLeave, 256),
					broadcast:  make(chan *ServerComMessage, 256),
					exit:       make(chan *shutDown, 1),
				}
				// Save the topic before starting it to prevent a race
				// with concurrent joins.
				h.topicPut(t.name, t)
				go t.run(h)

				statsInc("LiveTopics", 1)
				statsInc("TotalTopics", 1)
			}

			// Topic will send the success/failure packet back to the session.
			select {
			case t.reg <- join:
			default:
				join.sess.queueOut(ErrServiceUnavailable(join.pkt.id, join.pkt.topic, join.pkt.timestamp))
				logs.Err.Println("hub: topic's reg queue full", t.name, join.sess.sid)
			}

		case msg := <-h.route:
			// Event published by the collaborator or the presence tracker.
			// Deliver to the topic if anyone is listening; events for
			// topics with no subscribers are dropped, delivery is
			// at-most-once at time of publish.
			if dst := h.topicGet(msg.rcptTo); dst != nil {
				select {
				case dst.broadcast <- msg:
				default:
					logs.Err.Println("hub: topic's broadcast queue is full", dst.name)
					statsInc("PublishedEventsDroppedTotal", 1)
				}
			} else {
				statsInc("EventsWithoutSubscribersTotal", 1)
			}

		case unreg := <-h.unreg:
			if t := h.topicGet(unreg.rcptTo); t != nil {
				if t.subsCount() > 0 {
					// A join raced with the idle timer: the topic is busy
					// again, keep it. The timer is re-armed when the topic
					// empties out next.
					continue
				}
				h.topicDel(unreg.rcptTo)
				t.exit <- &shutDown{reason: StopIdle}
				statsInc("LiveTopics", -1)
			}

		case hubdone := <-h.shutdown:
			// Start cleanup.
			topicsdone := make(chan bool)
			topicCount := 0
			h.topics.Range(func(_, topic any) bool {
				topic.(*Topic).exit <- &shutDown{reason: StopShutdown, done: topicsdone}
				topicCount++
				return true
			})

			for i := 0; i < topicCount; i++ {
				<-topicsdone
			}

			logs.Info.Printf("Hub shutdown completed with %d topics", topicCount)

			// Let the main goroutine know the cleanup is done.
			hubdone <- true

			return
		}
	}
}
