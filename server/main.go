/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	_ "github.com/duplex-chat/duplex/server/db/mysql"
	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store"
)

const (
	// Default terminate-idle-session timeout.
	defaultIdleSessionTimeout = time.Second * 55
	// Default time to drain the outbound queue of a closing session.
	defaultClosingGracePeriod = time.Second * 3
	// Default maximum number of undelivered frames queued per session.
	defaultSendQueueLimit = 128
	// Default maximum size of an inbound websocket frame.
	defaultMaxMessageSize = 1 << 14
)

// Build timestamp set by the compiler:
// -ldflags "-X main.buildstamp=`date -u '+%Y%m%dT%H:%M:%SZ'`".
var buildstamp = "undef"

var globals struct {
	hub          *Hub
	sessionStore *SessionStore
	presence     *PresenceTracker
	tokenAuth    *tokenAuth

	apiKeySalt []byte

	// Maximum number of undelivered frames buffered per session.
	sendQueueLimit int
	// Maximum size of an inbound websocket frame.
	maxMessageSize int64
	// Terminate the session after no activity for this long.
	idleSessionTimeout time.Duration
	// How long a closing session may keep draining its outbound queue.
	closingGracePeriod time.Duration

	// Strict-Transport-Security max age, seconds, as a string.
	tlsStrictMaxAge string

	statsUpdate chan *varUpdate
}

type configType struct {
	// Address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats, e.g. "/debug/vars".
	ExpvarPath string `json:"expvar"`
	// Salt for signing API keys.
	APIKeySalt []byte `json:"api_key_salt"`
	// Session token config: HMAC key and lifetime.
	TokenConfig json.RawMessage `json:"token_config"`
	// Uid generator worker id, 0-1023.
	WorkerID int `json:"worker_id"`

	// Per-session outbound queue limit.
	SendQueueLimit int `json:"send_queue_limit"`
	// Max inbound frame size, bytes.
	MaxMessageSize int64 `json:"max_message_size"`
	// Seconds without any client activity before the session is terminated.
	IdleSessionTimeout int `json:"idle_session_timeout"`
	// Seconds a closing session may spend draining queued frames.
	ClosingGracePeriod int `json:"closing_grace_period"`

	// Configuration of the persistence layer.
	StoreConfig json.RawMessage `json:"store_config"`
	// TLS configuration.
	TLS *tlsConfig `json:"tls"`
}

func main() {
	logs.Init(log.LstdFlags | log.LUTC)

	logs.Info.Printf("Server v%s:%s; pid %d; %d process(es)",
		currentVersion, buildstamp, os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	var configfile = flag.String("config", "duplex.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	var expvarPath = flag.String("expvar", "", "Override the path where runtime stats are exposed. Use '-' to disable.")
	flag.Parse()

	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatalln("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatalln("Failed to parse config file:", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if *expvarPath != "" {
		config.ExpvarPath = *expvarPath
	}

	if err := store.Open(config.WorkerID, config.StoreConfig); err != nil {
		logs.Err.Fatalln("Failed to connect to DB:", err)
	}
	logs.Info.Println("DB adapter opened:", store.GetAdapterName())
	defer func() {
		store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()

	var err error
	globals.tokenAuth, err = newTokenAuth(config.TokenConfig)
	if err != nil {
		logs.Err.Fatalln("Failed to init token authenticator:", err)
	}

	if len(config.APIKeySalt) != apikeySaltLength {
		logs.Err.Fatalln("Invalid api_key_salt length in config")
	}
	globals.apiKeySalt = config.APIKeySalt

	globals.sendQueueLimit = config.SendQueueLimit
	if globals.sendQueueLimit <= 0 {
		globals.sendQueueLimit = defaultSendQueueLimit
	}
	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}
	globals.idleSessionTimeout = time.Duration(config.IdleSessionTimeout) * time.Second
	if globals.idleSessionTimeout <= 0 {
		globals.idleSessionTimeout = defaultIdleSessionTimeout
	}
	globals.closingGracePeriod = time.Duration(config.ClosingGracePeriod) * time.Second
	if globals.closingGracePeriod <= 0 {
		globals.closingGracePeriod = defaultClosingGracePeriod
	}

	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()
	globals.presence = InitPresenceTracker(globals.hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/", serve404)
	mux.HandleFunc("/v0/ws", serveWebSocket)
	mux.HandleFunc("/v0/channel-auth", serveChannelAuth)
	mux.HandleFunc("/v0/notify/message-sent", serveMessageSent)
	mux.HandleFunc("/v0/notify/message-read", serveMessageRead)
	mux.HandleFunc("/v0/notify/message-deleted", serveMessageDeleted)
	mux.HandleFunc("/v0/notify/typing", serveTyping)

	statsInit(mux, config.ExpvarPath)
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("LiveTopics")
	statsRegisterInt("TotalTopics")
	statsRegisterInt("TotalSubscriptions")
	statsRegisterInt("OnlineUsers")
	statsRegisterInt("PublishedEventsTotal")
	statsRegisterInt("PublishedEventsDroppedTotal")
	statsRegisterInt("DeliveredEventsTotal")
	statsRegisterInt("EventsWithoutSubscribersTotal")
	statsRegisterInt("OutboundFramesDroppedTotal")
	statsRegisterInt("SlowConsumerClosedTotal")
	statsRegisterInt("AuthLookupFailuresTotal")
	statsRegisterInt("IncomingMessagesWebsockTotal")
	statsRegisterInt("OutgoingMessagesWebsockTotal")

	handler := hstsHandler(handlers.CombinedLoggingHandler(os.Stdout, mux))

	if err := listenAndServe(config.Listen, handler, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatalln(err)
	}

	statsShutdown()
}
