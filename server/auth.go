/******************************************************************************
 *
 *  Description :
 *
 *  Topic name parsing and channel authorization.
 *
 *****************************************************************************/

package main

import (
	"strconv"
	"strings"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store"
	"github.com/duplex-chat/duplex/server/store/types"
)

// Topic name scopes.
const (
	// chatTopicPrefix starts a private conversation topic: "chat.{conversationId}".
	chatTopicPrefix = "chat."
	// presenceTopic is the single well-known topic carrying online/offline
	// transitions for all principals.
	presenceTopic = "presence"
)

// chatTopicName builds the routable topic name of a conversation.
func chatTopicName(conversationID uint64) string {
	return chatTopicPrefix + strconv.FormatUint(conversationID, 10)
}

// parseChatTopic extracts the conversation ID from a "chat.{id}" topic name.
// ok is false if the name is not a syntactically valid chat topic.
func parseChatTopic(topic string) (uint64, bool) {
	if !strings.HasPrefix(topic, chatTopicPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(topic[len(chatTopicPrefix):], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// validTopicName checks topic name syntax without consulting the store.
func validTopicName(topic string) bool {
	if topic == presenceTopic {
		return true
	}
	_, ok := parseChatTopic(topic)
	return ok
}

// authorizeTopic decides whether the principal may subscribe to the topic.
// Pure read of the collaborator's domain data, called synchronously on
// every subscribe request; grants are never cached.
//
// Denials are uniform: a nonexistent conversation, a conversation the
// principal does not belong to, and a store failure all produce 'false'
// (fail closed). Store failures are additionally logged.
func authorizeTopic(uid types.Uid, topic string) bool {
	if uid.IsZero() {
		return false
	}

	if topic == presenceTopic {
		// Any authenticated principal may watch presence.
		return true
	}

	cid, ok := parseChatTopic(topic)
	if !ok {
		return false
	}

	conv, err := store.Conversations.Get(cid)
	if err == types.ErrNotFound {
		return false
	}
	if err != nil {
		logs.Err.Println("auth: conversation lookup failed, denying:", topic, err)
		statsInc("AuthLookupFailuresTotal", 1)
		return false
	}

	return conv.HasParticipant(uid)
}
