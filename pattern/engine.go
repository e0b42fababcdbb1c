// Package pattern turns all-zero blocks into a reproducible pseudo-random
// pattern and back, using AES-XTS keyed by a Key.
//
// Nothing written to the device needs to be kept: a block read back from the
// device is inverted with the same key and must come out as zeros again.
package pattern

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"
)

// Unit is the XTS block length. Buffers passed to the engine must be a
// non-zero multiple of it.
const Unit = 16

// Engine fills and inverts block buffers. It holds no per-call state.
type Engine struct {
	c             *xts.Cipher
	perBlockTweak bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPerBlockTweak derives the XTS sector number from the block index, so
// that every block on the device carries a different pattern.
func WithPerBlockTweak() Option {
	return func(e *Engine) {
		e.perBlockTweak = true
	}
}

// New builds an engine from key.
func New(key Key, opts ...Option) (*Engine, error) {
	c, err := xts.NewCipher(aes.NewCipher, key[:])
	if err != nil {
		return nil, fmt.Errorf("xts cipher: %w", err)
	}
	e := &Engine{c: c}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// PerBlockTweak reports whether the pattern varies with the block index.
func (e *Engine) PerBlockTweak() bool {
	return e.perBlockTweak
}

func (e *Engine) sector(index uint64) uint64 {
	if e.perBlockTweak {
		return index
	}
	return 0
}

// Fill encrypts buf in place as a single XTS sector. With the default
// constant tweak the result does not depend on index.
func (e *Engine) Fill(buf []byte, index uint64) {
	e.c.Encrypt(buf, buf, e.sector(index))
}

// Invert decrypts buf in place. For an untouched Fill output it restores the
// original plaintext.
func (e *Engine) Invert(buf []byte, index uint64) {
	e.c.Decrypt(buf, buf, e.sector(index))
}
