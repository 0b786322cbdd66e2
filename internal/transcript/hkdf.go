package transcript

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size, in bytes, of every HKDF-derived key in ZRC.
const KeySize = 32

// DeriveKey runs HKDF-SHA256 over ikm with the given salt and info and
// returns exactly KeySize bytes ("standard HKDF-SHA256... keys always
// exactly 32 bytes" in spec.md). internal/session derives its session
// keys with hkdf directly rather than through this function.
func DeriveKey(ikm, salt, info []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	r := hkdf.New(sha256.New, ikm, salt, info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("hkdf derive: %w", err)
	}
	return out, nil
}
