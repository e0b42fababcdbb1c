package pattern

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of the XTS key pair: two AES-128 keys.
const KeySize = 32

// ErrKeyLength is returned when a parsed key does not decode to KeySize bytes.
var ErrKeyLength = errors.New("key must be 64 hex characters")

// Key is the 256-bit key material. The first half keys the data cipher and
// the second half keys the tweak cipher.
type Key [KeySize]byte

// ParseKey decodes a hex key. Dashes are ignored so that the output of
// Key.String can be pasted back.
func ParseKey(s string) (Key, error) {
	var k Key
	clean := strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return k, fmt.Errorf("parsing hex key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("%w (got %d bytes)", ErrKeyLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// GenerateKey returns a fresh key from the system CSPRNG.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("generating key: %w", err)
	}
	return k, nil
}

// String formats the key as hex in dash separated groups of four bytes.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(KeySize*2 + KeySize/4 - 1)
	for i := 0; i < KeySize; i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(hex.EncodeToString(k[i : i+4]))
	}
	return b.String()
}
