package tunnel

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/yllada/tunnelbar/common"
	"golang.org/x/crypto/curve25519"
)

// KeyLen is the size of a WireGuard key.
const KeyLen = 32

// Key is a Curve25519 key as used by WireGuard.
type Key [KeyLen]byte

// ParseKey decodes a base64 key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: key is not base64", common.ErrInvalidConfig)
	}
	if len(b) != KeyLen {
		return k, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrInvalidConfig, KeyLen, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// GeneratePrivateKey returns a new clamped private key.
func GeneratePrivateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
	return k, nil
}

// String returns the base64 encoding, or "" for the zero key.
func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

// PublicKey derives the public key of a private key.
func (k Key) PublicKey() Key {
	var pub Key
	if k.IsZero() {
		return pub
	}
	out, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub
	}
	copy(pub[:], out)
	return pub
}
