/******************************************************************************
 *
 *  Description :
 *
 *  Event publisher. Converts domain events into routable server messages
 *  and hands them to the hub for per-topic fan-out. The persistence of
 *  messages themselves happens upstream in the web application; this
 *  server only distributes the after-commit notifications.
 *
 *****************************************************************************/

package main

import (
	"github.com/duplex-chat/duplex/server/store/types"
)

// publish hands an event to the hub for delivery to the event's topic.
// The hub and topic queues are buffered and drained by dedicated
// goroutines; the send here does not wait on any consumer's socket.
func publish(hub *Hub, evt *Event) {
	hub.route <- &ServerComMessage{
		Evt: &MsgServerEvent{
			Topic:     evt.Topic,
			What:      evt.What,
			Payload:   evt.payload(),
			Timestamp: types.TimeNow(),
		},
		rcptTo:    evt.Topic,
		droppable: evt.Droppable(),
	}
	statsInc("PublishedEventsTotal", 1)
}

// notifyMessageSent publishes a MessageSent event to the conversation's topic.
func notifyMessageSent(hub *Hub, conversationId uint64, msg *MsgMessageSent) {
	publish(hub, &Event{
		Topic:       chatTopicName(conversationId),
		What:        EvtMessageSent,
		MessageSent: msg,
	})
}

// notifyMessageRead publishes a MessageRead event to the conversation's topic.
func notifyMessageRead(hub *Hub, conversationId uint64, messageIds []uint64, reader types.Uid) {
	publish(hub, &Event{
		Topic: chatTopicName(conversationId),
		What:  EvtMessageRead,
		MessageRead: &MsgMessageRead{
			MessageIds:     messageIds,
			ConversationId: conversationId,
			ReaderId:       reader,
		},
	})
}

// notifyMessageDeleted publishes a MessageDeleted event to the conversation's
// topic.
func notifyMessageDeleted(hub *Hub, conversationId, messageId uint64, deletedBy types.Uid) {
	publish(hub, &Event{
		Topic: chatTopicName(conversationId),
		What:  EvtMessageDeleted,
		MessageDeleted: &MsgMessageDeleted{
			MessageId:      messageId,
			ConversationId: conversationId,
			DeletedBy:      deletedBy,
		},
	})
}

// notifyTyping publishes a transient UserTyping event to the conversation's
// topic. Marked droppable: a consumer that cannot keep up loses these first.
func notifyTyping(hub *Hub, conversationId uint64, uid types.Uid, userName string) {
	publish(hub, &Event{
		Topic: chatTopicName(conversationId),
		What:  EvtUserTyping,
		UserTyping: &MsgUserTyping{
			UserId:         uid,
			UserName:       userName,
			ConversationId: conversationId,
		},
	})
}
