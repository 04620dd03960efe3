/******************************************************************************
 *
 *  Description :
 *
 *  Validation of session tokens minted by the upstream web application.
 *  Authentication itself happens upstream; the token is the handoff of an
 *  already-authenticated principal to this server.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/duplex-chat/duplex/server/store/types"
)

// Token authentication outcomes.
const (
	authNoErr = iota
	authErrMalformed
	authErrFailed
	authErrExpired
)

const (
	tokenLenDecoded = 44
	minKeyLength    = 32
)

// tokenAuth validates HMAC-signed session tokens.
// Token layout: [8:UID][4:expires][32:signature] == 44 bytes.
type tokenAuth struct {
	hmacSalt []byte
	lifetime time.Duration
}

func newTokenAuth(jsonconf json.RawMessage) (*tokenAuth, error) {
	type configType struct {
		Key []byte `json:"key"`
		// Token lifetime in seconds, used only when minting.
		Timeout int `json:"timeout"`
	}
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return nil, errors.New("auth_token: failed to parse config: " + err.Error())
	}

	if len(config.Key) < minKeyLength {
		return nil, errors.New("auth_token: the key is missing or too short")
	}
	if config.Timeout <= 0 {
		return nil, errors.New("auth_token: invalid timeout")
	}

	return &tokenAuth{
		hmacSalt: config.Key,
		lifetime: time.Duration(config.Timeout) * time.Second,
	}, nil
}

// authenticate checks the token's signature and expiration, returning the
// principal's uid on success.
func (ta *tokenAuth) authenticate(token string) (types.Uid, int) {
	data := make([]byte, base64.URLEncoding.DecodedLen(len(token)))
	declen, err := base64.URLEncoding.Decode(data, []byte(token))
	if err != nil || declen != tokenLenDecoded {
		return types.ZeroUid, authErrMalformed
	}
	data = data[:declen]

	uid := types.Uid(binary.LittleEndian.Uint64(data[0:8]))
	if uid.IsZero() {
		return types.ZeroUid, authErrMalformed
	}

	hasher := hmac.New(sha256.New, ta.hmacSalt)
	hasher.Write(data[:12])
	if !hmac.Equal(data[12:], hasher.Sum(nil)) {
		return types.ZeroUid, authErrFailed
	}

	expires := time.Unix(int64(binary.LittleEndian.Uint32(data[8:12])), 0).UTC()
	if expires.Before(time.Now()) {
		return types.ZeroUid, authErrExpired
	}

	return uid, authNoErr
}

// genSecret mints a token for the given uid. Used by the web application's
// key tooling and by tests; the realtime server itself only validates.
func (ta *tokenAuth) genSecret(uid types.Uid, expires time.Time) string {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint64(uid))
	binary.Write(buf, binary.LittleEndian, uint32(expires.Unix()))
	hasher := hmac.New(sha256.New, ta.hmacSalt)
	hasher.Write(buf.Bytes())
	buf.Write(hasher.Sum(nil))

	return base64.URLEncoding.EncodeToString(buf.Bytes())
}
