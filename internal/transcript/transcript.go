// Package transcript builds the canonical, tagged-field byte transcripts
// that every cryptographic input in ZRC is derived from: pairing proofs,
// pairing SAS, ticket bindings, ticket signatures, and session-key info.
package transcript

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
)

// Domain separators. These MUST NOT change once deployed; they are the
// outermost tag distinguishing one transcript family from another.
const (
	DomainPairProof   = "zrc_pair_proof_v1"
	DomainPairSAS     = "zrc_pair_sas_v1"
	DomainPairReceipt = "zrc_pair_receipt_v1"
	DomainTicketBind  = "zrc_ticket_bind_v1"
	DomainTicketSig   = "zrc_ticket_sig_v1"
	DomainSessionInit = "zrc_session_init_v1"
	DomainSAS         = "zrc_sas_v1"
)

// Field tags. Fixed and never renumbered — two transcripts built from
// the same fields in a different order must hash differently, so the
// order fields are appended in is part of the contract, not just the
// tag values.
const (
	TagOperatorID            uint32 = 1
	TagDeviceID              uint32 = 2
	TagOperatorSignPub       uint32 = 3
	TagOperatorKexPub        uint32 = 4
	TagDeviceSignPub         uint32 = 5
	TagCreatedAt             uint32 = 6
	TagExpiresAt             uint32 = 7
	TagSessionID             uint32 = 8
	TagTicketID              uint32 = 9
	TagPermissions           uint32 = 10
	TagSessionBinding        uint32 = 11
	TagTicketBindingNonce    uint32 = 12
	TagGrantedPermissions    uint32 = 13
	TagIssuedAt              uint32 = 14
	TagRequestSAS            uint32 = 15
	TagEphemeralKexPub       uint32 = 16
)

// Transcript is an append-only buffer of (tag, length, value) triples
// prefixed by a domain separator. Field order is significant: callers
// must always append fields in the same canonical order for a given
// domain so both sides derive identical hashes.
type Transcript struct {
	buf []byte
}

// New starts a transcript for the given domain separator.
func New(domain string) *Transcript {
	t := &Transcript{buf: make([]byte, 0, 256)}
	t.buf = append(t.buf, []byte(domain)...)
	return t
}

// Append adds a tagged, length-prefixed field to the transcript.
func (t *Transcript) Append(tag uint32, value []byte) *Transcript {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], tag)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(value)))
	t.buf = append(t.buf, header[:]...)
	t.buf = append(t.buf, value...)
	return t
}

// AppendUint64 appends a tagged 8-byte big-endian integer field.
func (t *Transcript) AppendUint64(tag uint32, value uint64) *Transcript {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], value)
	return t.Append(tag, b[:])
}

// AppendUint32 appends a tagged 4-byte big-endian integer field.
func (t *Transcript) AppendUint32(tag uint32, value uint32) *Transcript {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], value)
	return t.Append(tag, b[:])
}

// AppendBool appends a tagged single-byte boolean field.
func (t *Transcript) AppendBool(tag uint32, value bool) *Transcript {
	b := byte(0)
	if value {
		b = 1
	}
	return t.Append(tag, []byte{b})
}

// Bytes returns the raw transcript buffer.
func (t *Transcript) Bytes() []byte {
	return t.buf
}

// Hash returns SHA-256 of the transcript buffer.
func (t *Transcript) Hash() [32]byte {
	return sha256.Sum256(t.buf)
}

// SAS derives a 6-digit, zero-padded Short Authentication String from a
// transcript: the first 4 bytes of SHA-256(transcript), big-endian,
// modulo 1,000,000.
func SAS(t *Transcript) string {
	h := t.Hash()
	v := binary.BigEndian.Uint32(h[0:4]) % 1_000_000
	return padSixDigits(v)
}

func padSixDigits(v uint32) string {
	const digits = "0123456789"
	var out [6]byte
	for i := 5; i >= 0; i-- {
		out[i] = digits[v%10]
		v /= 10
	}
	return string(out[:])
}

// ConstantTimeEqual compares two byte slices in constant time. Any
// equality check over secrets (signatures, MACs, ticket bindings,
// session bindings, stored-secret hashes) MUST use this instead of
// bytes.Equal or ==.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
