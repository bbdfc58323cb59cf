package token

import (
	"crypto/sha256"
	"encoding/hex"
)

type signingKey struct {
	id     string
	secret []byte
}

// KeyRing holds the current signing key and, during a rotation, the key it
// replaced. Only the current key signs; both verify.
type KeyRing struct {
	keys []signingKey
}

// NewKeyRing builds a ring from the current key and optional previous keys.
// Empty previous keys are ignored.
func NewKeyRing(current string, previous ...string) *KeyRing {
	ring := &KeyRing{keys: []signingKey{newSigningKey(current)}}
	for _, p := range previous {
		if p == "" || p == current {
			continue
		}
		ring.keys = append(ring.keys, newSigningKey(p))
	}
	return ring
}

func newSigningKey(secret string) signingKey {
	return signingKey{id: KeyID(secret), secret: []byte(secret)}
}

// KeyID is the first 8 hex characters of the key's SHA-256 digest.
func KeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}

func (r *KeyRing) current() signingKey {
	return r.keys[0]
}

func (r *KeyRing) lookup(kid string) ([]byte, bool) {
	for _, k := range r.keys {
		if k.id == kid {
			return k.secret, true
		}
	}
	return nil, false
}
