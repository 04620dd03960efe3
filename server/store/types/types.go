// Package types declares data types shared by the realtime server and database adapters.
package types

import (
	"strconv"
	"time"
)

// Uid is the database ID of a user account. Assigned by the account system
// upstream, opaque to this server.
type Uid uint64

// ZeroUid is a marker for an invalid or unset user ID.
const ZeroUid Uid = 0

// IsZero checks if the Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// String returns the decimal representation of the Uid.
func (uid Uid) String() string {
	return strconv.FormatUint(uint64(uid), 10)
}

// ParseUid parses a decimal string into a Uid. Returns ZeroUid on error.
func ParseUid(s string) Uid {
	uid, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ZeroUid
	}
	return Uid(uid)
}

// User is a minimal projection of an account record: just enough to
// identify a chat participant on the wire.
type User struct {
	Id         Uid        `db:"id"`
	Name       string     `db:"name"`
	LastSeenAt *time.Time `db:"last_seen_at"`
}

// Conversation is a two-party conversation record. Participants are fixed
// at creation time and never change.
type Conversation struct {
	Id            uint64     `db:"id"`
	UserOne       Uid        `db:"user_one_id"`
	UserTwo       Uid        `db:"user_two_id"`
	LastMessageAt *time.Time `db:"last_message_at"`
}

// HasParticipant checks if the given user is one of the two conversation members.
func (c *Conversation) HasParticipant(uid Uid) bool {
	return !uid.IsZero() && (c.UserOne == uid || c.UserTwo == uid)
}

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
	// ErrMalformed means the argument is malformed.
	ErrMalformed = StoreError("malformed")
	// ErrInternal means the adapter failed to perform the requested operation.
	ErrInternal = StoreError("internal")
)

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
