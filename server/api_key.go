/******************************************************************************
 *
 *  Description :
 *
 *  Checking of the API keys presented by HTTP callers. The plain key admits
 *  browser clients to the websocket endpoint; the root key additionally
 *  admits the persistence collaborator to the notify endpoints.
 *
 *****************************************************************************/

package main

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"net/http"

	"github.com/duplex-chat/duplex/server/logs"
)

// Signed API key. Composition:
//
//	[1:algorithm version][4:deprecated][2:key sequence][1:isRoot][16:signature] = 24 bytes,
//
// convertible to base64 without padding. All integers are little-endian.
const (
	apikeyVersion   = 1
	apikeyAppID     = 4
	apikeySequence  = 2
	apikeyWho       = 1
	apikeySignature = 16
	apikeyLength    = apikeyVersion + apikeyAppID + apikeySequence + apikeyWho + apikeySignature

	// Required length of the signing salt.
	apikeySaltLength = 32
)

// checkAPIKey validates the given key against the configured salt.
// Returns the validity of the key and whether it's the root flavor.
func checkAPIKey(apikey string) (isValid, isRoot bool) {
	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != apikeyLength {
		return
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		logs.Warn.Println("failed to base64-decode apikey", err)
		return
	}

	if data[0] != 1 {
		logs.Warn.Println("unknown apikey signature algorithm", data[0])
		return
	}

	hasher := hmac.New(md5.New, globals.apiKeySalt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	check := hasher.Sum(nil)
	if !hmac.Equal(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], check) {
		logs.Warn.Println("invalid apikey signature")
		return
	}

	isRoot = data[apikeyVersion+apikeyAppID+apikeySequence] == 1
	isValid = true

	return
}

// getAPIKey extracts the API key from the request, either the header or
// the URL, or the cookie.
func getAPIKey(req *http.Request) string {
	apikey := req.Header.Get("X-Duplex-APIKey")
	if apikey == "" {
		apikey = req.URL.Query().Get("apikey")
	}
	if apikey == "" {
		if c, err := req.Cookie("apikey"); err == nil {
			apikey = c.Value
		}
	}
	return apikey
}
