package types

import (
	"encoding/base64"
	"encoding/binary"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// SidGenerator holds snowflake and encryption parameters used for minting
// session IDs. IDs are weakly encrypted so they look random on the wire.
type SidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initializes the session ID generator.
func (sg *SidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if sg.seq == nil {
		sg.seq, err = sf.NewSnowFlake(uint32(workerID))
	}
	if sg.cipher == nil {
		sg.cipher, err = xtea.NewCipher(key)
	}

	return err
}

// GetStr generates a unique id then returns it as an unpadded base64 string.
func (sg *SidGenerator) GetStr() string {
	id, err := sg.seq.Next()
	if err != nil {
		return ""
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	sg.cipher.Encrypt(dst, src)

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(dst)
}
