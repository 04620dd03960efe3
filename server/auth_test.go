package main

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/mock_store"
	"github.com/duplex-chat/duplex/server/store/types"
)

func TestChatTopicNames(t *testing.T) {
	if got := chatTopicName(42); got != "chat.42" {
		t.Error("unexpected topic name:", got)
	}

	tests := []struct {
		topic string
		id    uint64
		ok    bool
	}{
		{"chat.42", 42, true},
		{"chat.1", 1, true},
		{"chat.0", 0, false},
		{"chat.", 0, false},
		{"chat.-5", 0, false},
		{"chat.abc", 0, false},
		{"chat.42x", 0, false},
		{"presence", 0, false},
		{"", 0, false},
		{"me", 0, false},
	}
	for _, tc := range tests {
		id, ok := parseChatTopic(tc.topic)
		if id != tc.id || ok != tc.ok {
			t.Errorf("parseChatTopic(%q): expected (%d, %v), got (%d, %v)",
				tc.topic, tc.id, tc.ok, id, ok)
		}
	}

	if !validTopicName("presence") {
		t.Error("presence must be a valid topic name")
	}
	if validTopicName("system") {
		t.Error("unknown scope accepted as a topic name")
	}
}

func TestAuthorizeTopic(t *testing.T) {
	uid1 := types.Uid(101)
	uid2 := types.Uid(102)
	outsider := types.Uid(555)

	ctrl := gomock.NewController(t)
	cc := mock_store.NewMockConversationsPersistenceInterface(ctrl)
	store.Conversations = cc
	defer func() {
		store.Conversations = store.ConversationsObjMapper{}
		ctrl.Finish()
	}()

	conv := &types.Conversation{Id: 10, UserOne: uid1, UserTwo: uid2}

	// Both participants are allowed, in either slot.
	cc.EXPECT().Get(uint64(10)).Return(conv, nil).Times(3)
	if !authorizeTopic(uid1, "chat.10") {
		t.Error("participant one denied")
	}
	if !authorizeTopic(uid2, "chat.10") {
		t.Error("participant two denied")
	}
	if authorizeTopic(outsider, "chat.10") {
		t.Error("non-participant allowed")
	}

	// Nonexistent conversation: denied.
	cc.EXPECT().Get(uint64(11)).Return(nil, types.ErrNotFound)
	if authorizeTopic(uid1, "chat.11") {
		t.Error("nonexistent conversation allowed")
	}

	// Store failure: fail closed.
	cc.EXPECT().Get(uint64(12)).Return(nil, errors.New("connection refused"))
	if authorizeTopic(uid1, "chat.12") {
		t.Error("store failure did not fail closed")
	}

	// Unauthenticated and syntactically invalid requests never reach the
	// store.
	if authorizeTopic(types.ZeroUid, "chat.10") {
		t.Error("unauthenticated principal allowed")
	}
	if authorizeTopic(uid1, "chat.nope") {
		t.Error("malformed topic name allowed")
	}

	// Presence is open to any authenticated principal.
	if !authorizeTopic(uid1, "presence") {
		t.Error("authenticated principal denied presence")
	}
	if authorizeTopic(types.ZeroUid, "presence") {
		t.Error("unauthenticated principal allowed on presence")
	}
}

func TestTokenRoundtrip(t *testing.T) {
	ta := newTestTokenAuth(t)
	uid := types.Uid(101)

	token := ta.genSecret(uid, time.Now().Add(time.Hour))
	got, code := ta.authenticate(token)
	if code != authNoErr || got != uid {
		t.Errorf("expected (%v, %d), got (%v, %d)", uid, authNoErr, got, code)
	}
}

func TestTokenExpired(t *testing.T) {
	ta := newTestTokenAuth(t)

	token := ta.genSecret(types.Uid(101), time.Now().Add(-time.Minute))
	if _, code := ta.authenticate(token); code != authErrExpired {
		t.Error("expected authErrExpired, got", code)
	}
}

func TestTokenTampered(t *testing.T) {
	ta := newTestTokenAuth(t)

	token := ta.genSecret(types.Uid(101), time.Now().Add(time.Hour))
	data, _ := base64.URLEncoding.DecodeString(token)
	// Retarget the token at another uid without re-signing.
	data[0] ^= 0x01
	if _, code := ta.authenticate(base64.URLEncoding.EncodeToString(data)); code != authErrFailed {
		t.Error("expected authErrFailed, got", code)
	}
}

func TestTokenMalformed(t *testing.T) {
	ta := newTestTokenAuth(t)

	for _, token := range []string{"", "bogus", base64.URLEncoding.EncodeToString([]byte("short"))} {
		if _, code := ta.authenticate(token); code != authErrMalformed {
			t.Errorf("token %q: expected authErrMalformed, got %d", token, code)
		}
	}
}

// makeAPIKey signs an API key the way the key generator tool does.
func makeAPIKey(salt []byte, isRoot bool) string {
	data := make([]byte, apikeyLength)
	data[0] = 1
	if isRoot {
		data[apikeyVersion+apikeyAppID+apikeySequence] = 1
	}
	hasher := hmac.New(md5.New, salt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	copy(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], hasher.Sum(nil))
	return base64.URLEncoding.EncodeToString(data)
}

func TestCheckAPIKey(t *testing.T) {
	salt := make([]byte, apikeySaltLength)
	for i := range salt {
		salt[i] = byte(i)
	}
	globals.apiKeySalt = salt
	defer func() { globals.apiKeySalt = nil }()

	if valid, root := checkAPIKey(makeAPIKey(salt, false)); !valid || root {
		t.Errorf("plain key: expected (true, false), got (%v, %v)", valid, root)
	}
	if valid, root := checkAPIKey(makeAPIKey(salt, true)); !valid || !root {
		t.Errorf("root key: expected (true, true), got (%v, %v)", valid, root)
	}

	otherSalt := make([]byte, apikeySaltLength)
	if valid, _ := checkAPIKey(makeAPIKey(otherSalt, false)); valid {
		t.Error("key signed with a different salt accepted")
	}
	if valid, _ := checkAPIKey(""); valid {
		t.Error("empty key accepted")
	}
	if valid, _ := checkAPIKey("A1B2"); valid {
		t.Error("truncated key accepted")
	}
}
