package identity

import (
	"encoding/hex"
	"fmt"

	"go4.org/mem"
)

func appendHexKey(dst []byte, prefix string, key []byte) []byte {
	dst = append(dst, prefix...)
	out := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(out, key)
	return append(dst, out...)
}

// parseHex decodes a typed hex key of exactly len(out) bytes.
func parseHex(out []byte, in, prefix mem.RO) error {
	if !mem.HasPrefix(in, prefix) {
		return fmt.Errorf("key hex string doesn't have expected type prefix %s", prefix.StringCopy())
	}
	in = in.SliceFrom(prefix.Len())
	if want := len(out) * 2; in.Len() != want {
		return fmt.Errorf("key hex has the wrong size, got %d want %d", in.Len(), want)
	}
	for i := range out {
		a, ok1 := fromHexChar(in.At(i*2 + 0))
		b, ok2 := fromHexChar(in.At(i*2 + 1))
		if !ok1 || !ok2 {
			return fmt.Errorf("invalid hex character in key")
		}
		out[i] = (a << 4) | b
	}
	return nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
