// Package adapter contains the interfaces to be implemented by the database adapter.
package adapter

import (
	"encoding/json"
	"time"

	t "github.com/duplex-chat/duplex/server/store/types"
)

// Adapter is the interface that must be implemented by a database adapter.
// The realtime server only reads domain data owned by the web application:
// conversation membership for authorization and user records for display
// names. The single write is the last-seen timestamp maintained by the
// presence tracker.
type Adapter interface {
	// Open and configure the adapter.
	Open(config json.RawMessage) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string

	// ConversationGet loads a conversation record by ID.
	// Returns types.ErrNotFound if no such conversation exists.
	ConversationGet(id uint64) (*t.Conversation, error)

	// UserGet loads a user record by ID.
	// Returns types.ErrNotFound if no such user exists.
	UserGet(uid t.Uid) (*t.User, error)
	// UserUpdateLastSeen records the time the user's last connection closed.
	UserUpdateLastSeen(uid t.Uid, when time.Time) error
}
