// Package mysql is a database adapter for MySQL. The schema is owned by the
// web application; this adapter only reads the tables needed for channel
// authorization and presence, and writes back last-seen timestamps.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/duplex-chat/duplex/server/store"
	t "github.com/duplex-chat/duplex/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    string
	dbName string
	// Connection pool settings.
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/duplex?parseTime=true"
	defaultDatabase = "duplex"

	adapterName = "mysql"
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Connection pool settings.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
}

// Open initializes the MySQL connection pool.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType

	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("mysql adapter failed to parse config: " + err.Error())
	}

	a.dsn = config.DSN
	if a.dsn == "" {
		a.dsn = defaultDSN
	}

	// Parse the DSN to validate it and to obtain the database name.
	dsnConfig, err := ms.ParseDSN(a.dsn)
	if err != nil {
		return errors.New("mysql adapter invalid dsn: " + err.Error())
	}
	if !dsnConfig.ParseTime {
		return errors.New("mysql adapter dsn must include parseTime=true")
	}

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = dsnConfig.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	if config.MaxOpenConns > 0 {
		a.maxOpenConns = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		a.maxIdleConns = config.MaxIdleConns
	}
	if config.ConnMaxLifetime > 0 {
		a.connMaxLifetime = time.Duration(config.ConnMaxLifetime) * time.Second
	}

	a.db, err = sqlx.Open("mysql", a.dsn)
	if err != nil {
		return err
	}

	// sql.Open does not open the network connection.
	// Force network connection here.
	if err = a.db.Ping(); err != nil {
		return err
	}

	if a.maxOpenConns > 0 {
		a.db.SetMaxOpenConns(a.maxOpenConns)
	}
	if a.maxIdleConns > 0 {
		a.db.SetMaxIdleConns(a.maxIdleConns)
	}
	if a.connMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(a.connMaxLifetime)
	}

	return nil
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established.
// It does not check if the connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// ConversationGet loads a conversation record by primary key.
func (a *adapter) ConversationGet(id uint64) (*t.Conversation, error) {
	var conv t.Conversation
	err := a.db.Get(&conv,
		"SELECT id,user_one_id,user_two_id,last_message_at FROM conversations WHERE id=?", id)
	if err == sql.ErrNoRows {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UserGet loads a user record by primary key.
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	var user t.User
	err := a.db.Get(&user, "SELECT id,name,last_seen_at FROM users WHERE id=?", uint64(uid))
	if err == sql.ErrNoRows {
		return nil, t.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserUpdateLastSeen writes the timestamp of the user's last disconnect.
func (a *adapter) UserUpdateLastSeen(uid t.Uid, when time.Time) error {
	res, err := a.db.Exec("UPDATE users SET last_seen_at=? WHERE id=?", when, uint64(uid))
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		// Unknown user. Not an error for presence bookkeeping but reported
		// to the caller for logging.
		return t.ErrNotFound
	}
	return nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
