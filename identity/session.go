package identity

import (
	"crypto/rand"

	cerrors "github.com/najoast/actormesh/errors"
	"golang.org/x/crypto/nacl/box"
)

// SessionKey is an ephemeral curve25519 keypair used for one connection.
type SessionKey struct {
	pub  [32]byte
	priv [32]byte
}

// NewSessionKey generates a fresh session keypair.
func NewSessionKey() (*SessionKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return &SessionKey{pub: *pub, priv: *priv}, nil
}

// Public returns the public half.
func (k *SessionKey) Public() [32]byte {
	return k.pub
}

// Shared precomputes the nacl/box key shared with the peer's session key.
// Both sides derive the same value.
func (k *SessionKey) Shared(peer [32]byte) *[32]byte {
	var shared [32]byte
	box.Precompute(&shared, &peer, &k.priv)
	return &shared
}
