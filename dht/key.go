package dht

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"

	"github.com/najoast/actormesh/identity"
)

// KeySize is the width of the key space in bytes.
const KeySize = sha256.Size

// Key is a position in the 256-bit key space.
type Key [KeySize]byte

// KeyFor hashes a record key into the key space.
func KeyFor(s string) Key {
	return sha256.Sum256([]byte(s))
}

// PeerKey positions a peer in the key space.
func PeerKey(p identity.PeerID) Key {
	return p.Hash()
}

func (k Key) String() string {
	return hex.EncodeToString(k[:4])
}

func keyFromBytes(b []byte) (Key, bool) {
	var k Key
	if len(b) != KeySize {
		return k, false
	}
	copy(k[:], b)
	return k, true
}

// distance is the XOR metric.
func distance(a, b Key) Key {
	var d Key
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// closer reports whether a is closer to target than b.
func closer(target, a, b Key) bool {
	for i := range target {
		da, db := a[i]^target[i], b[i]^target[i]
		if da != db {
			return da < db
		}
	}
	return false
}

// commonPrefixLen counts the leading bits a and b share.
func commonPrefixLen(a, b Key) int {
	d := distance(a, b)
	for i, v := range d {
		if v != 0 {
			return i*8 + bits.LeadingZeros8(v)
		}
	}
	return KeySize * 8
}
