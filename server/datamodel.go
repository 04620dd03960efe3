/******************************************************************************
 *
 *  Description :
 *
 *  Definition of the wire protocol and the in-flight event union.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/duplex-chat/duplex/server/store/types"
)

// MsgClientHi is the first frame on a new connection: protocol version and
// the session token minted by the web application during login.
type MsgClientHi struct {
	// Message ID.
	Id string `json:"id,omitempty"`
	// Protocol version, i.e. "1".
	Version string `json:"ver"`
	// Session token issued by the upstream web app.
	Token string `json:"token"`
	// User agent.
	UserAgent string `json:"ua,omitempty"`
}

// MsgClientSub is a request to subscribe to a topic.
type MsgClientSub struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// MsgClientLeave is a request to unsubscribe from a topic.
type MsgClientLeave struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// ClientComMessage is a wrapper for client messages. Exactly one field must
// be set; a frame with zero or multiple members is malformed.
type ClientComMessage struct {
	Hi    *MsgClientHi    `json:"hi,omitempty"`
	Sub   *MsgClientSub   `json:"sub,omitempty"`
	Leave *MsgClientLeave `json:"leave,omitempty"`

	// Message ID and topic denormalized from the embedded message.
	id    string
	topic string
	// Timestamp when the message was received by the server.
	timestamp time.Time
}

// EventType is the kind tag of a published event. The set is closed:
// adding a kind means extending this enum and the payload union below.
type EventType string

// All event kinds the server can fan out.
const (
	EvtMessageSent     EventType = "MessageSent"
	EvtMessageRead     EventType = "MessageRead"
	EvtMessageDeleted  EventType = "MessageDeleted"
	EvtUserTyping      EventType = "UserTyping"
	EvtPresenceChanged EventType = "PresenceChanged"
)

// MsgMessageSent is the payload of a MessageSent event: the summary of a
// freshly committed message as reported by the persistence layer.
type MsgMessageSent struct {
	SeqId      uint64    `json:"id"`
	Body       string    `json:"body"`
	SenderId   types.Uid `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// MsgMessageRead is the payload of a MessageRead event. Read status is
// monotonic: messages only ever transition unread -> read.
type MsgMessageRead struct {
	MessageIds     []uint64  `json:"message_ids"`
	ConversationId uint64    `json:"conversation_id"`
	ReaderId       types.Uid `json:"reader_id"`
}

// MsgMessageDeleted is the payload of a MessageDeleted event.
type MsgMessageDeleted struct {
	MessageId      uint64    `json:"message_id"`
	ConversationId uint64    `json:"conversation_id"`
	DeletedBy      types.Uid `json:"deleted_by"`
}

// MsgUserTyping is the payload of a UserTyping event. Transient and
// droppable: a lost typing indicator is harmless.
type MsgUserTyping struct {
	UserId         types.Uid `json:"user_id"`
	UserName       string    `json:"user_name"`
	ConversationId uint64    `json:"conversation_id"`
}

// MsgPresenceChanged is the payload of a PresenceChanged event, published
// to the presence topic when a principal's connection count crosses zero.
type MsgPresenceChanged struct {
	UserId   types.Uid  `json:"user_id"`
	UserName string     `json:"user_name"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Event is the in-flight representation of a domain event: a kind tag plus
// exactly one payload member matching the tag. Events are immutable once
// constructed and are not persisted here; durability is the caller's
// responsibility.
type Event struct {
	Topic string
	What  EventType

	MessageSent     *MsgMessageSent
	MessageRead     *MsgMessageRead
	MessageDeleted  *MsgMessageDeleted
	UserTyping      *MsgUserTyping
	PresenceChanged *MsgPresenceChanged
}

// Droppable reports whether the event may be discarded from a slow
// consumer's queue to make room for message events.
func (e *Event) Droppable() bool {
	return e.What == EvtUserTyping
}

// payload returns the payload member matching the kind tag.
func (e *Event) payload() any {
	switch e.What {
	case EvtMessageSent:
		return e.MessageSent
	case EvtMessageRead:
		return e.MessageRead
	case EvtMessageDeleted:
		return e.MessageDeleted
	case EvtUserTyping:
		return e.UserTyping
	case EvtPresenceChanged:
		return e.PresenceChanged
	}
	return nil
}

// MsgServerCtrl is a server control message: acknowledgements and errors.
type MsgServerCtrl struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic,omitempty"`
	// Params are additional reply details, e.g. the presence snapshot.
	Params any `json:"params,omitempty"`

	// HTTP-style response code.
	Code int `json:"code"`
	// Text with the verbal description of the response.
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// MsgServerEvent is a fanned-out event as seen on the wire.
type MsgServerEvent struct {
	Topic string    `json:"topic"`
	What  EventType `json:"what"`
	// Seq is the per-topic sequence number assigned at publish time.
	Seq       int       `json:"seq"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// ServerComMessage is a wrapper for server-side messages. Exactly one of
// Ctrl or Evt is set.
type ServerComMessage struct {
	Ctrl *MsgServerCtrl  `json:"ctrl,omitempty"`
	Evt  *MsgServerEvent `json:"evt,omitempty"`

	// Routable topic name the message is addressed to. Not serialized.
	rcptTo string
	// The frame may be discarded from a full outbound queue. Not serialized.
	droppable bool
}

// NoErr indicates successful completion (200).
func NoErr(id, topic string, ts time.Time) *ServerComMessage {
	return NoErrParams(id, topic, ts, nil)
}

// NoErrParams indicates successful completion with additional parameters (200).
func NoErrParams(id, topic string, ts time.Time, params any) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Params:    params,
		Code:      http.StatusOK,
		Text:      "ok",
		Timestamp: ts}}
}

// NoErrAccepted means the request was accepted for asynchronous processing,
// e.g. a notification taken for fan-out (202).
func NoErrAccepted(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusAccepted,
		Text:      "accepted",
		Timestamp: ts}}
}

// NoErrShutdown means the server is shutting down (205).
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusResetContent,
		Text:      "server shutdown",
		Timestamp: ts}}
}

// InfoAlreadySubscribed response means a request to subscribe was ignored
// because the session is already subscribed (304).
func InfoAlreadySubscribed(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusNotModified,
		Text:      "already subscribed",
		Timestamp: ts}}
}

// InfoNotJoined response means a request to leave was ignored because the
// session was not subscribed (304).
func InfoNotJoined(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusNotModified,
		Text:      "not joined",
		Timestamp: ts}}
}

// ErrMalformed request malformed (400).
func ErrMalformed(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusBadRequest,
		Text:      "malformed",
		Timestamp: ts}}
}

// ErrAuthRequired authentication required: request issued before the
// handshake completed (401).
func ErrAuthRequired(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusUnauthorized,
		Text:      "authentication required",
		Timestamp: ts}}
}

// ErrAuthFailed authentication failed: invalid or expired token (401).
func ErrAuthFailed(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusUnauthorized,
		Text:      "authentication failed",
		Timestamp: ts}}
}

// ErrAlreadyAuthenticated invalid attempt to authenticate an authenticated
// session (304).
func ErrAlreadyAuthenticated(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusNotModified,
		Text:      "already authenticated",
		Timestamp: ts}}
}

// ErrPermissionDenied the principal is not authorized for the topic (403).
// The text is uniform for unknown and forbidden topics so subscription
// probing cannot reveal whether a conversation exists.
func ErrPermissionDenied(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusForbidden,
		Text:      "unauthorized",
		Timestamp: ts}}
}

// ErrVersionNotSupported the client protocol version is too old (505).
func ErrVersionNotSupported(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusHTTPVersionNotSupported,
		Text:      "version not supported",
		Timestamp: ts}}
}

// ErrServiceUnavailable the topic's request queue is full (503).
func ErrServiceUnavailable(id, topic string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Topic:     topic,
		Code:      http.StatusServiceUnavailable,
		Text:      "service unavailable",
		Timestamp: ts}}
}
