/******************************************************************************
 *
 *  Description :
 *
 *  Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/crypto/acme/autocert"

	"github.com/duplex-chat/duplex/server/logs"
	"github.com/duplex-chat/duplex/server/store/types"
)

type tlsConfig struct {
	// Flag enabling TLS.
	Enabled bool `json:"enabled"`
	// Listen on port 80 and redirect plain HTTP to HTTPS.
	RedirectHTTP string `json:"http_redirect"`
	// Enable Strict-Transport-Security by setting max_age > 0.
	StrictMaxAge int `json:"strict_max_age"`
	// ACME autocert config, e.g. letsencrypt.org.
	Autocert *tlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

type tlsAutocertConfig struct {
	// Domains to support by autocert.
	Domains []string `json:"domains"`
	// Name of the directory where auto-certificates are cached.
	CertCache string `json:"cache"`
	// Contact email for letsencrypt.
	Email string `json:"email"`
}

func listenAndServe(addr string, mux http.Handler, tlsconf *tlsConfig, stop <-chan bool) error {
	shuttingDown := false

	httpdone := make(chan bool)

	server := &http.Server{Addr: addr, Handler: mux}
	if tlsconf != nil && tlsconf.Enabled {
		if tlsconf.StrictMaxAge > 0 {
			globals.tlsStrictMaxAge = strconv.Itoa(tlsconf.StrictMaxAge)
		}

		// If port is not specified, use the default https port, otherwise it
		// would default to 80.
		if server.Addr == "" {
			server.Addr = ":https"
		}

		server.TLSConfig = &tls.Config{}
		if tlsconf.Autocert != nil {
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(tlsconf.Autocert.Domains...),
				Cache:      autocert.DirCache(tlsconf.Autocert.CertCache),
				Email:      tlsconf.Autocert.Email,
			}

			server.TLSConfig.GetCertificate = certManager.GetCertificate
			if tlsconf.CertFile != "" || tlsconf.KeyFile != "" {
				logs.Info.Println("HTTP server: using autocert, static cert and key files are ignored")
				tlsconf.CertFile = ""
				tlsconf.KeyFile = ""
			}
		} else if tlsconf.CertFile == "" || tlsconf.KeyFile == "" {
			return errors.New("HTTP server: missing certificate or key file names")
		}
	}

	go func() {
		var err error
		if tlsconf != nil && tlsconf.Enabled {
			if tlsconf.RedirectHTTP != "" {
				logs.Info.Printf("Redirecting connections from HTTP at [%s] to HTTPS at [%s]",
					tlsconf.RedirectHTTP, server.Addr)
				go http.ListenAndServe(tlsconf.RedirectHTTP, tlsRedirect(addr))
			}

			logs.Info.Printf("Listening for client HTTPS connections on [%s]", server.Addr)
			err = server.ListenAndServeTLS(tlsconf.CertFile, tlsconf.KeyFile)
		} else {
			logs.Info.Printf("Listening for client HTTP connections on [%s]", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil {
			if shuttingDown {
				logs.Info.Println("HTTP server: stopped")
			} else {
				logs.Err.Println("HTTP server: failed", err)
			}
		}
		httpdone <- true
	}()

	// Wait for either a termination signal or an error.
loop:
	for {
		select {
		case <-stop:
			// Flip the flag that we are terminating and close the Accept-ing
			// socket, so no new connections are possible.
			shuttingDown = true
			if err := server.Shutdown(context.Background()); err != nil {
				// Failure/timeout shutting down the server gracefully.
				return err
			}

			// Wait for the server to stop Accept()-ing connections.
			<-httpdone

			// Terminate all sessions.
			globals.sessionStore.Shutdown()

			// Shutdown the hub. The hub will shutdown topics.
			hubdone := make(chan bool)
			globals.hub.shutdown <- hubdone

			// Wait for the hub to finish.
			<-hubdone

			// Stop the presence tracker. Any last-seen announcements the
			// dying sessions produced are already queued by now.
			globals.presence.stop()

			break loop

		case <-httpdone:
			break loop
		}
	}
	return nil
}

func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is.
		sig := <-signchan
		logs.Info.Printf("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}

// Wrapper for http.Handler which optionally adds a Strict-Transport-Security
// header to the response.
func hstsHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globals.tlsStrictMaxAge != "" {
			w.Header().Set("Strict-Transport-Security", "max-age="+globals.tlsStrictMaxAge)
		}
		handler.ServeHTTP(w, r)
	})
}

func serve404(wrt http.ResponseWriter, req *http.Request) {
	wrt.WriteHeader(http.StatusNotFound)
	json.NewEncoder(wrt).Encode(
		&ServerComMessage{Ctrl: &MsgServerCtrl{
			Timestamp: types.TimeNow(),
			Code:      http.StatusNotFound,
			Text:      "not found"}})
}

// Redirect HTTP requests to HTTPS.
func tlsRedirect(toPort string) http.HandlerFunc {
	if toPort == ":443" || toPort == ":https" {
		toPort = ""
	}
	return func(wrt http.ResponseWriter, req *http.Request) {
		target := "https://" + strings.Split(req.Host, ":")[0] + toPort + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(wrt, req, target, http.StatusTemporaryRedirect)
	}
}
