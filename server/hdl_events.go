/******************************************************************************
 *
 *  Description :
 *
 *  HTTP endpoints for the upstream web application: after-commit event
 *  notifications to fan out and the channel authorization callback. All
 *  endpoints require a valid API key; the notify endpoints require the
 *  root flavor of the key because they inject events on behalf of users.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"

	"github.com/duplex-chat/duplex/server/store/types"
)

const maxNotifyBodySize = 1 << 16

// decodeNotifyRequest checks the method and the root API key, then decodes
// the JSON body into dst. On failure it writes the error response and
// returns false.
func decodeNotifyRequest(wrt http.ResponseWriter, req *http.Request, dst any) bool {
	now := types.TimeNow()
	enc := json.NewEncoder(wrt)

	isValid, isRoot := checkAPIKey(getAPIKey(req))
	if !isValid || !isRoot {
		wrt.WriteHeader(http.StatusForbidden)
		enc.Encode(ErrPermissionDenied("", "", now))
		return false
	}

	if req.Method != http.MethodPost {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		enc.Encode(ErrMalformed("", "", now))
		return false
	}

	body := http.MaxBytesReader(wrt, req.Body, maxNotifyBodySize)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		wrt.WriteHeader(http.StatusBadRequest)
		enc.Encode(ErrMalformed("", "", now))
		return false
	}

	return true
}

// accepted writes the 202 response for a notification taken for fan-out.
func accepted(wrt http.ResponseWriter) {
	wrt.WriteHeader(http.StatusAccepted)
	json.NewEncoder(wrt).Encode(NoErrAccepted("", "", types.TimeNow()))
}

// serveMessageSent accepts a committed-message notification and fans it out
// to the conversation's topic.
func serveMessageSent(wrt http.ResponseWriter, req *http.Request) {
	var pkt struct {
		ConversationId uint64          `json:"conversation_id"`
		Message        *MsgMessageSent `json:"message"`
	}
	if !decodeNotifyRequest(wrt, req, &pkt) {
		return
	}
	if pkt.ConversationId == 0 || pkt.Message == nil || pkt.Message.SenderId.IsZero() {
		wrt.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(wrt).Encode(ErrMalformed("", "", types.TimeNow()))
		return
	}

	notifyMessageSent(globals.hub, pkt.ConversationId, pkt.Message)
	accepted(wrt)
}

// serveMessageRead accepts a messages-read notification.
func serveMessageRead(wrt http.ResponseWriter, req *http.Request) {
	var pkt struct {
		ConversationId uint64    `json:"conversation_id"`
		MessageIds     []uint64  `json:"message_ids"`
		ReaderId       types.Uid `json:"reader_id"`
	}
	if !decodeNotifyRequest(wrt, req, &pkt) {
		return
	}
	if pkt.ConversationId == 0 || len(pkt.MessageIds) == 0 || pkt.ReaderId.IsZero() {
		wrt.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(wrt).Encode(ErrMalformed("", "", types.TimeNow()))
		return
	}

	notifyMessageRead(globals.hub, pkt.ConversationId, pkt.MessageIds, pkt.ReaderId)
	accepted(wrt)
}

// serveMessageDeleted accepts a message-deleted notification.
func serveMessageDeleted(wrt http.ResponseWriter, req *http.Request) {
	var pkt struct {
		ConversationId uint64    `json:"conversation_id"`
		MessageId      uint64    `json:"message_id"`
		DeletedBy      types.Uid `json:"deleted_by"`
	}
	if !decodeNotifyRequest(wrt, req, &pkt) {
		return
	}
	if pkt.ConversationId == 0 || pkt.MessageId == 0 || pkt.DeletedBy.IsZero() {
		wrt.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(wrt).Encode(ErrMalformed("", "", types.TimeNow()))
		return
	}

	notifyMessageDeleted(globals.hub, pkt.ConversationId, pkt.MessageId, pkt.DeletedBy)
	accepted(wrt)
}

// serveTyping accepts a typing indicator. Best effort only: the event is
// droppable all the way to the consumer's socket.
func serveTyping(wrt http.ResponseWriter, req *http.Request) {
	var pkt struct {
		ConversationId uint64    `json:"conversation_id"`
		UserId         types.Uid `json:"user_id"`
		UserName       string    `json:"user_name"`
	}
	if !decodeNotifyRequest(wrt, req, &pkt) {
		return
	}
	if pkt.ConversationId == 0 || pkt.UserId.IsZero() {
		wrt.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(wrt).Encode(ErrMalformed("", "", types.TimeNow()))
		return
	}

	notifyTyping(globals.hub, pkt.ConversationId, pkt.UserId, pkt.UserName)
	accepted(wrt)
}

// serveChannelAuth answers the upstream app's channel authorization
// callback: may the given principal subscribe to the given channel. The
// decision is the same one applied to direct websocket subscriptions.
func serveChannelAuth(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()
	enc := json.NewEncoder(wrt)

	if isValid, _ := checkAPIKey(getAPIKey(req)); !isValid {
		wrt.WriteHeader(http.StatusForbidden)
		enc.Encode(ErrPermissionDenied("", "", now))
		return
	}

	if req.Method != http.MethodPost {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		enc.Encode(ErrMalformed("", "", now))
		return
	}

	var pkt struct {
		Channel string    `json:"channel"`
		Uid     types.Uid `json:"uid"`
	}
	body := http.MaxBytesReader(wrt, req.Body, maxNotifyBodySize)
	if err := json.NewDecoder(body).Decode(&pkt); err != nil || pkt.Uid.IsZero() || !validTopicName(pkt.Channel) {
		wrt.WriteHeader(http.StatusBadRequest)
		enc.Encode(ErrMalformed("", "", now))
		return
	}

	wrt.WriteHeader(http.StatusOK)
	enc.Encode(map[string]bool{"allow": authorizeTopic(pkt.Uid, pkt.Channel)})
}
