// Package identity provides the cryptographic identity of an actormesh peer.
//
// A peer is identified by its ed25519 public key. The same key signs the
// ephemeral session keys exchanged by the secure transport handshake and
// backs the self-signed certificate of the QUIC transport.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/najoast/actormesh/errors"
	"go4.org/mem"
)

const (
	peerIDHexPrefix     = "pk:"
	privateKeyHexPrefix = "privkey:"
)

// PeerID is the ed25519 public key of a peer.
type PeerID [ed25519.PublicKeySize]byte

// String returns the typed hex form, e.g. "pk:3f2a...".
func (p PeerID) String() string {
	return peerIDHexPrefix + hex.EncodeToString(p[:])
}

// ShortString returns an abbreviated form for logs.
func (p PeerID) ShortString() string {
	s := hex.EncodeToString(p[:])
	return peerIDHexPrefix + s[:8]
}

// IsZero reports whether p is unset.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// PublicKey returns p as an ed25519 public key.
func (p PeerID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(p[:])
}

// Hash returns the sha256 of the key; it positions the peer in the DHT
// key space.
func (p PeerID) Hash() [sha256.Size]byte {
	return sha256.Sum256(p[:])
}

// AppendText implements encoding.TextAppender.
func (p PeerID) AppendText(b []byte) ([]byte, error) {
	return appendHexKey(b, peerIDHexPrefix, p[:]), nil
}

// MarshalText implements encoding.TextMarshaler.
func (p PeerID) MarshalText() ([]byte, error) {
	return p.AppendText(nil)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PeerID) UnmarshalText(b []byte) error {
	return parseHex(p[:], mem.B(b), mem.S(peerIDHexPrefix))
}

// ParsePeerID parses the String form of a PeerID.
func ParsePeerID(s string) (PeerID, error) {
	var p PeerID
	err := parseHex(p[:], mem.S(s), mem.S(peerIDHexPrefix))
	return p, err
}

// PeerIDFromPublicKey converts an ed25519 public key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) (PeerID, error) {
	var p PeerID
	if len(pub) != ed25519.PublicKeySize {
		return p, fmt.Errorf("invalid ed25519 public key length %d", len(pub))
	}
	copy(p[:], pub)
	return p, nil
}

// Identity is the keypair of the local peer.
type Identity struct {
	priv ed25519.PrivateKey
	id   PeerID
}

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return fromPrivate(priv), nil
}

// FromSeed derives an identity from a 32-byte seed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length %d", len(seed))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *Identity {
	var id PeerID
	copy(id[:], priv.Public().(ed25519.PublicKey))
	return &Identity{priv: priv, id: id}
}

// Load reads the identity stored at path. If the file does not exist a new
// identity is generated and persisted there with mode 0600.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		ident, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := ident.Save(path); err != nil {
			return nil, err
		}
		return ident, nil
	}
	if err != nil {
		return nil, cerrors.Annotatef(err, "read identity %s", path)
	}
	var seed [ed25519.SeedSize]byte
	text := strings.TrimSpace(string(data))
	if err := parseHex(seed[:], mem.S(text), mem.S(privateKeyHexPrefix)); err != nil {
		return nil, cerrors.Annotatef(err, "parse identity %s", path)
	}
	return FromSeed(seed[:])
}

// Save writes the private seed to path.
func (i *Identity) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return cerrors.Trace(err)
		}
	}
	text := appendHexKey(nil, privateKeyHexPrefix, i.priv.Seed())
	text = append(text, '\n')
	return cerrors.Trace(os.WriteFile(path, text, 0o600))
}

// ID returns the peer id.
func (i *Identity) ID() PeerID {
	return i.id
}

// PrivateKey returns the signing key.
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign signs msg.
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.priv, msg)
}

// Equal reports whether both identities hold the same key.
func (i *Identity) Equal(other *Identity) bool {
	return subtle.ConstantTimeCompare(i.priv, other.priv) == 1
}

// Verify checks that sig is a signature of msg by peer.
func Verify(peer PeerID, msg, sig []byte) bool {
	return ed25519.Verify(peer.PublicKey(), msg, sig)
}
