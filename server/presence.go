/******************************************************************************
 *
 *  Description :
 *
 *  Tracker of online presence. A principal is online while it holds at
 *  least one open connection; only the transitions to and from zero are
 *  announced, so several tabs from the same account never produce
 *  spurious join/leave events.
 *
 *****************************************************************************/

package main

import (
	"time"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/types"
)

// Presence tracker actions.
const (
	actionOnline = iota
	// actionOffline: one of the principal's connections closed.
	actionOffline
	// actionSnapshot: read the current set of online principals.
	actionSnapshot
	// actionFinish: the system is shutting down.
	actionFinish
)

type presenceRequest struct {
	action int
	uid    types.Uid
	// Display name, set for actionOnline.
	userName string
	// Reply channel for actionSnapshot and actionFinish.
	resp chan []PresOnline
}

// PresOnline is one entry of the "who's here now" snapshot.
type PresOnline struct {
	UserId   types.Uid `json:"user_id"`
	UserName string    `json:"user_name"`
}

// userPresence is the per-principal record: the number of currently open
// connections and the display name to announce with.
type userPresence struct {
	name  string
	count int
}

// PresenceTracker maintains open-connection counts per principal. All
// mutations go through a single goroutine; its operations are constant
// time map updates and never touch the network, so message passing here
// confines contention without per-key locks.
type PresenceTracker struct {
	action chan *presenceRequest
}

// InitPresenceTracker starts the tracker goroutine.
func InitPresenceTracker(hub *Hub) *PresenceTracker {
	pt := &PresenceTracker{
		action: make(chan *presenceRequest, 64),
	}

	go pt.run(hub)

	return pt
}

// userOnline records one more open connection of the principal.
func (pt *PresenceTracker) userOnline(uid types.Uid, userName string) {
	pt.action <- &presenceRequest{action: actionOnline, uid: uid, userName: userName}
}

// userOffline records that one of the principal's connections closed.
func (pt *PresenceTracker) userOffline(uid types.Uid) {
	pt.action <- &presenceRequest{action: actionOffline, uid: uid}
}

// snapshot returns the set of currently online principals.
func (pt *PresenceTracker) snapshot() []PresOnline {
	resp := make(chan []PresOnline, 1)
	pt.action <- &presenceRequest{action: actionSnapshot, resp: resp}
	return <-resp
}

// stop terminates the tracker goroutine.
func (pt *PresenceTracker) stop() {
	resp := make(chan []PresOnline, 1)
	pt.action <- &presenceRequest{action: actionFinish, resp: resp}
	<-resp
}

func (pt *PresenceTracker) run(hub *Hub) {
	index := make(map[types.Uid]*userPresence)

	for req := range pt.action {
		switch req.action {
		case actionOnline:
			up := index[req.uid]
			if up == nil {
				index[req.uid] = &userPresence{name: req.userName, count: 1}
				pt.announce(hub, req.uid, req.userName, true, nil)
				statsInc("OnlineUsers", 1)
			} else {
				up.count++
			}

		case actionOffline:
			up := index[req.uid]
			if up == nil {
				// Disconnect of a connection that never counted, e.g. a
				// session that failed mid-handshake. Ignore.
				break
			}
			up.count--
			if up.count > 0 {
				break
			}
			delete(index, req.uid)
			statsInc("OnlineUsers", -1)

			lastSeen := types.TimeNow()
			// Persisting last-seen may block on the database; do it off
			// the tracker goroutine.
			go func(uid types.Uid) {
				if err := store.Users.UpdateLastSeen(uid, lastSeen); err != nil {
					logs.Warn.Println("presence: failed to save last-seen", uid, err)
				}
			}(req.uid)

			pt.announce(hub, req.uid, up.name, false, &lastSeen)

		case actionSnapshot:
			online := make([]PresOnline, 0, len(index))
			for uid, up := range index {
				online = append(online, PresOnline{UserId: uid, UserName: up.name})
			}
			req.resp <- online

		case actionFinish:
			req.resp <- nil
			return
		}
	}
}

// announce publishes a PresenceChanged event to the presence topic.
func (pt *PresenceTracker) announce(hub *Hub, uid types.Uid, name string, online bool, lastSeen *time.Time) {
	publish(hub, &Event{
		Topic: presenceTopic,
		What:  EvtPresenceChanged,
		PresenceChanged: &MsgPresenceChanged{
			UserId:   uid,
			UserName: name,
			Online:   online,
			LastSeen: lastSeen,
		},
	})
}
