package main

import (
	"sort"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/mock_store"
	"github.com/duplex-chat/duplex/server/store/types"
)

// expectNoPresenceEvent verifies nothing was published to the presence
// topic. The snapshot call serializes through the tracker goroutine and so
// acts as a barrier for previously submitted actions.
func expectNoPresenceEvent(t *testing.T, pt *PresenceTracker, route chan *ServerComMessage) {
	t.Helper()
	pt.snapshot()
	select {
	case msg := <-route:
		t.Fatalf("unexpected presence event: %+v", msg.Evt.Payload)
	default:
	}
}

func expectPresenceEvent(t *testing.T, route chan *ServerComMessage) *MsgPresenceChanged {
	t.Helper()
	select {
	case msg := <-route:
		if msg.rcptTo != presenceTopic || msg.Evt == nil {
			t.Fatalf("malformed presence event: %+v", msg)
		}
		pres, _ := msg.Evt.Payload.(*MsgPresenceChanged)
		if pres == nil {
			t.Fatalf("unexpected presence payload: %+v", msg.Evt.Payload)
		}
		return pres
	case <-time.After(time.Second):
		t.Fatal("expected a presence event, got none")
		return nil
	}
}

func TestPresenceRefcount(t *testing.T) {
	uid := types.Uid(101)

	ctrl := gomock.NewController(t)
	uu := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = uu
	defer func() {
		store.Users = store.UsersObjMapper{}
		ctrl.Finish()
	}()

	saved := make(chan time.Time, 1)
	uu.EXPECT().UpdateLastSeen(uid, gomock.Any()).DoAndReturn(
		func(_ types.Uid, when time.Time) error {
			saved <- when
			return nil
		})

	route := make(chan *ServerComMessage, 16)
	pt := InitPresenceTracker(&Hub{route: route})
	defer pt.stop()

	// First connection: one online event.
	pt.userOnline(uid, "alice")
	pres := expectPresenceEvent(t, route)
	if pres.UserId != uid || pres.UserName != "alice" || !pres.Online {
		t.Errorf("unexpected online event: %+v", pres)
	}

	// Second tab of the same account: no event.
	pt.userOnline(uid, "alice")
	expectNoPresenceEvent(t, pt, route)

	// One of the two connections closes: still online, no event.
	pt.userOffline(uid)
	expectNoPresenceEvent(t, pt, route)

	// Last connection closes: one offline event with last-seen.
	pt.userOffline(uid)
	pres = expectPresenceEvent(t, route)
	if pres.UserId != uid || pres.Online {
		t.Errorf("unexpected offline event: %+v", pres)
	}
	if pres.LastSeen == nil {
		t.Error("offline event missing last-seen")
	}

	// Last-seen is persisted.
	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Error("last-seen was not saved")
	}
}

func TestPresenceOfflineWithoutOnline(t *testing.T) {
	route := make(chan *ServerComMessage, 16)
	pt := InitPresenceTracker(&Hub{route: route})
	defer pt.stop()

	// A session that died mid-handshake was never counted.
	pt.userOffline(types.Uid(101))
	expectNoPresenceEvent(t, pt, route)
}

func TestPresenceSnapshot(t *testing.T) {
	route := make(chan *ServerComMessage, 16)
	pt := InitPresenceTracker(&Hub{route: route})
	defer pt.stop()

	pt.userOnline(types.Uid(101), "alice")
	pt.userOnline(types.Uid(102), "bob")
	pt.userOnline(types.Uid(102), "bob")

	online := pt.snapshot()
	sort.Slice(online, func(i, j int) bool { return online[i].UserId < online[j].UserId })

	want := []PresOnline{
		{UserId: types.Uid(101), UserName: "alice"},
		{UserId: types.Uid(102), UserName: "bob"},
	}
	if diff := cmp.Diff(want, online); diff != "" {
		t.Error("unexpected snapshot:", diff)
	}
}
