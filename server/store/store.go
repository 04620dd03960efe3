// Package store provides methods for registering and accessing database adapters.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/duplex-chat/duplex/server/store/adapter"
	"github.com/duplex-chat/duplex/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Session ID generator.
var sGen types.SidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.SidGenerator.
	SidKey []byte `json:"sid_key"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerID int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in the config file")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerID < 0 || workerID > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := sGen.Init(uint(workerID), config.SidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// Open initializes the persistence system. Adapter holds a connection pool
// for a database instance.
//
//	workerID - unique ID of this process for snowflake initialization
//	jsonconf - configuration string
func Open(workerID int, jsonconf json.RawMessage) error {
	return openAdapter(workerID, jsonconf)
}

// Close terminates the connection to the persistent storage.
func Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// IsOpen checks if persistent storage is ready for use.
func IsOpen() bool {
	return adp != nil && adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// RegisterAdapter makes a persistence adapter available by the provided name.
// If RegisterAdapter is called twice with the same name or if the adapter is
// nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: register adapter is nil")
	}

	name := a.GetName()
	if _, dup := availableAdapters[name]; dup {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// GetSidString generates a unique session ID string.
func GetSidString() string {
	return sGen.GetStr()
}

// ConversationsObjMapper is a convenience wrapper around adapter's
// conversation methods.
type ConversationsObjMapper struct{}

// ConversationsPersistenceInterface is an interface which defines the read
// methods used by the topic authorizer. Mockable for testing.
type ConversationsPersistenceInterface interface {
	Get(id uint64) (*types.Conversation, error)
}

// Conversations is an instance of ConversationsObjMapper to map methods to.
var Conversations ConversationsPersistenceInterface = ConversationsObjMapper{}

// Get loads a conversation record.
func (ConversationsObjMapper) Get(id uint64) (*types.Conversation, error) {
	return adp.ConversationGet(id)
}

// UsersObjMapper is a convenience wrapper around adapter's user methods.
type UsersObjMapper struct{}

// UsersPersistenceInterface defines the user methods used by the server.
// Mockable for testing.
type UsersPersistenceInterface interface {
	Get(uid types.Uid) (*types.User, error)
	UpdateLastSeen(uid types.Uid, when time.Time) error
}

// Users is an instance of UsersObjMapper to map methods to.
var Users UsersPersistenceInterface = UsersObjMapper{}

// Get loads a user record.
func (UsersObjMapper) Get(uid types.Uid) (*types.User, error) {
	return adp.UserGet(uid)
}

// UpdateLastSeen persists the moment the user's last connection closed.
func (UsersObjMapper) UpdateLastSeen(uid types.Uid, when time.Time) error {
	return adp.UserUpdateLastSeen(uid, when)
}
