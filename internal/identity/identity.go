// Package identity manages long-term principal identity: an Ed25519
// signing keypair for authentication, an X25519 key-agreement keypair
// for envelope sealing, and a stable 32-byte ID derived from the
// signing public key.
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// IDSize is the size of a principal ID in bytes: SHA-256(signing public key).
const IDSize = 32

var (
	// ErrInvalidIDLength is returned when a byte slice cannot be an ID.
	ErrInvalidIDLength = errors.New("invalid id length: expected 32 bytes")

	// ErrInvalidHexString is returned when a hex string is malformed.
	ErrInvalidHexString = errors.New("invalid hex string for id")

	// ZeroID represents an uninitialized ID.
	ZeroID = ID{}

	identityFileName = "identity.key"
)

// ID is a 32-byte principal identifier derived from a signing public key.
// Never use the raw public key bytes as an identifier — always derive
// through DeriveID so device/operator IDs stay stable and distinct from
// key material in logs.
type ID [IDSize]byte

// DeriveID computes SHA-256(signPub); never use the raw public key as
// an identifier.
func DeriveID(signPub ed25519.PublicKey) ID {
	return ID(sha256.Sum256(signPub))
}

// ParseID parses an ID from a hex string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != IDSize*2 {
		return ZeroID, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), IDSize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// FromBytes creates an ID from a byte slice.
func FromBytes(b []byte) (ID, error) {
	if len(b) != IDSize {
		return ZeroID, fmt.Errorf("%w: got %d bytes", ErrInvalidIDLength, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// String returns the hex representation of the ID.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// ShortString returns a shortened hex representation (first 8 chars).
func (id ID) ShortString() string { return hex.EncodeToString(id[:4]) }

// Bytes returns the ID as a byte slice.
func (id ID) Bytes() []byte { return id[:] }

// IsZero reports whether the ID is uninitialized.
func (id ID) IsZero() bool { return id == ZeroID }

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool { return id == other }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Keys holds a principal's long-term identity: a signing keypair used
// to authenticate messages and tickets, and a key-agreement keypair
// used to receive HPKE-sealed envelopes. Created once per install;
// rotated only by re-pairing.
type Keys struct {
	SignPub  ed25519.PublicKey
	SignPriv ed25519.PrivateKey

	KexPriv *ecdh.PrivateKey
	KexPub  *ecdh.PublicKey

	ID ID
}

// Generate creates a fresh identity: a new Ed25519 signing keypair and
// a new X25519 key-agreement keypair.
func Generate() (*Keys, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}

	kexPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate kex keypair: %w", err)
	}

	return &Keys{
		SignPub:  signPub,
		SignPriv: signPriv,
		KexPriv:  kexPriv,
		KexPub:   kexPriv.PublicKey(),
		ID:       DeriveID(signPub),
	}, nil
}

// Sign produces an Ed25519 signature over msg.
func (k *Keys) Sign(msg []byte) []byte {
	return ed25519.Sign(k.SignPriv, msg)
}

// Verify checks an Ed25519 signature over msg under pub. Conformance
// requires a strict, non-malleable verify; ed25519.Verify
// already rejects non-canonical S values since Go 1.20.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Agree performs X25519 Diffie-Hellman with peerKexPub and returns the
// raw 32-byte shared secret.
func (k *Keys) Agree(peerKexPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := k.KexPriv.ECDH(peerKexPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 ecdh: %w", err)
	}
	return secret, nil
}

// ParseKexPub parses a 32-byte X25519 public key.
func ParseKexPub(raw []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(raw)
}

// serializedKeys is the on-disk representation of Keys: the Ed25519
// seed is sufficient to reconstruct the full signing keypair, and the
// X25519 private scalar to reconstruct the kex keypair.
type serializedKeys struct {
	SignSeed [ed25519.SeedSize]byte
	KexPriv  [32]byte
}

// Store persists the identity keys to dataDir, writing atomically via
// a temp-file-then-rename so a crash mid-write never leaves a
// truncated identity file behind.
func (k *Keys) Store(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	var s serializedKeys
	copy(s.SignSeed[:], k.SignPriv.Seed())
	copy(s.KexPriv[:], k.KexPriv.Bytes())

	raw := make([]byte, 0, len(s.SignSeed)+len(s.KexPriv))
	raw = append(raw, s.SignSeed[:]...)
	raw = append(raw, s.KexPriv[:]...)

	filePath := filepath.Join(dataDir, identityFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// Load reads identity keys previously written by Store.
func Load(dataDir string) (*Keys, error) {
	filePath := filepath.Join(dataDir, identityFileName)
	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("identity not found at %s", filePath)
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	if len(raw) != ed25519.SeedSize+32 {
		return nil, fmt.Errorf("corrupt identity file: got %d bytes", len(raw))
	}

	signPriv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	signPub := signPriv.Public().(ed25519.PublicKey)

	kexPriv, err := ecdh.X25519().NewPrivateKey(raw[ed25519.SeedSize:])
	if err != nil {
		return nil, fmt.Errorf("parse kex private key: %w", err)
	}

	return &Keys{
		SignPub:  signPub,
		SignPriv: signPriv,
		KexPriv:  kexPriv,
		KexPub:   kexPriv.PublicKey(),
		ID:       DeriveID(signPub),
	}, nil
}

// LoadOrCreate loads existing identity keys from dataDir or generates
// and persists a new identity if none exists.
func LoadOrCreate(dataDir string) (*Keys, bool, error) {
	keys, err := Load(dataDir)
	if err == nil {
		return keys, false, nil
	}
	if !strings.Contains(err.Error(), "not found") {
		return nil, false, err
	}

	keys, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := keys.Store(dataDir); err != nil {
		return nil, false, err
	}
	return keys, true, nil
}

// Exists reports whether an identity file exists in dataDir.
func Exists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, identityFileName))
	return err == nil
}

// RandomBytes fills b with cryptographically secure random bytes.
func RandomBytes(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}
