// Package session implements the session plane: SessionKeys derivation,
// deterministic per-stream AEAD sealing, the sliding-window replay
// filter, and the host/controller session-establishment state
// machines built on top of a pairing record and a signed SessionTicket.
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Stream identifies one of the six independent AEAD streams carried
// over a session. The value is mixed directly into each stream's
// nonce, so it must be stable and distinct per stream.
type Stream uint32

const (
	StreamI2RControl Stream = 1
	StreamR2IControl Stream = 2
	StreamI2RFrames  Stream = 3
	StreamR2IFrames  Stream = 4
	StreamI2RFiles   Stream = 5
	StreamR2IFiles   Stream = 6
)

func (s Stream) String() string {
	switch s {
	case StreamI2RControl:
		return "i2r_control"
	case StreamR2IControl:
		return "r2i_control"
	case StreamI2RFrames:
		return "i2r_frames"
	case StreamR2IFrames:
		return "r2i_frames"
	case StreamI2RFiles:
		return "i2r_files"
	case StreamR2IFiles:
		return "r2i_files"
	default:
		return "unknown"
	}
}

// ErrReplay is returned by AEADStream.Open when the nonce counter has
// already been seen within the replay filter's window.
var ErrReplay = errors.New("session: replayed counter")

// ErrDowngrade is returned by AEADStream.Open when the nonce counter
// falls so far below the trailing edge of the replay window that it
// can only mean a dropped stream was re-opened at a lower counter than
// previously observed. Unlike ErrReplay, this terminates the session:
// the caller must zero all of the session's keys.
var ErrDowngrade = errors.New("session: downgraded stream counter")

// ErrOpenFailed is returned uniformly for AEAD authentication failures,
// mirroring the envelope package's "never leak which check failed"
// posture.
var ErrOpenFailed = errors.New("session: decryption failed")

// AEADStream is one direction-and-purpose-specific key within a
// session: it owns its own monotonic send counter and its own
// ReplayFilter for the counters it receives.
type AEADStream struct {
	stream Stream

	mu          sync.Mutex
	key         [32]byte
	sendCounter uint64
	replay      *ReplayFilter
}

func newAEADStream(stream Stream, key [32]byte) *AEADStream {
	return &AEADStream{stream: stream, key: key, replay: NewReplayFilter()}
}

// nonceFor builds the 12-byte deterministic nonce: 4-byte big-endian
// stream ID followed by an 8-byte big-endian counter. Direction is
// already separated by having distinct keys per stream, so the nonce
// itself carries no direction bit.
func nonceFor(stream Stream, counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:4], uint32(stream))
	binary.BigEndian.PutUint64(nonce[4:12], counter)
	return nonce
}

// Seal encrypts plaintext under this stream's key, consuming the next
// send counter value. It returns the counter used alongside the
// ciphertext so the caller can carry it on the wire for the peer's
// replay filter.
func (a *AEADStream) Seal(plaintext, aad []byte) (ciphertext []byte, counter uint64, err error) {
	a.mu.Lock()
	counter = a.sendCounter
	a.sendCounter++
	key := a.key
	a.mu.Unlock()

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, 0, fmt.Errorf("session: create cipher: %w", err)
	}

	nonce := nonceFor(a.stream, counter)
	return aead.Seal(nil, nonce[:], plaintext, aad), counter, nil
}

// Open decrypts ciphertext received with the given counter, rejecting
// replays or out-of-window counters before touching the AEAD.
func (a *AEADStream) Open(counter uint64, ciphertext, aad []byte) ([]byte, error) {
	a.mu.Lock()
	result := a.replay.Accept(counter)
	key := a.key
	a.mu.Unlock()

	switch result {
	case ReplayDowngrade:
		return nil, ErrDowngrade
	case ReplayDuplicate:
		return nil, ErrReplay
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("session: create cipher: %w", err)
	}

	nonce := nonceFor(a.stream, counter)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// Zero wipes the stream's key material.
func (a *AEADStream) Zero() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.key {
		a.key[i] = 0
	}
}

// SessionKeys holds the six AEAD streams derived from a session's
// binding value for a single established session.
type SessionKeys struct {
	I2RControl *AEADStream
	R2IControl *AEADStream
	I2RFrames  *AEADStream
	R2IFrames  *AEADStream
	I2RFiles   *AEADStream
	R2IFiles   *AEADStream
}

var streamLabels = []struct {
	stream Stream
	info   string
}{
	{StreamI2RControl, "zrc_session_key_i2r_control_v1"},
	{StreamR2IControl, "zrc_session_key_r2i_control_v1"},
	{StreamI2RFrames, "zrc_session_key_i2r_frames_v1"},
	{StreamR2IFrames, "zrc_session_key_r2i_frames_v1"},
	{StreamI2RFiles, "zrc_session_key_i2r_files_v1"},
	{StreamR2IFiles, "zrc_session_key_r2i_files_v1"},
}

// DeriveSessionKeys derives the six session AEAD keys via HKDF-SHA256
// from sessionBinding, salted by ticketID, with a distinct info label
// per stream.
func DeriveSessionKeys(sessionBinding [32]byte, ticketID [16]byte) (*SessionKeys, error) {
	streams := make(map[Stream]*AEADStream, len(streamLabels))
	for _, l := range streamLabels {
		var key [32]byte
		reader := hkdf.New(sha256.New, sessionBinding[:], ticketID[:], []byte(l.info))
		if _, err := io.ReadFull(reader, key[:]); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", l.info, err)
		}
		streams[l.stream] = newAEADStream(l.stream, key)
	}

	return &SessionKeys{
		I2RControl: streams[StreamI2RControl],
		R2IControl: streams[StreamR2IControl],
		I2RFrames:  streams[StreamI2RFrames],
		R2IFrames:  streams[StreamR2IFrames],
		I2RFiles:   streams[StreamI2RFiles],
		R2IFiles:   streams[StreamR2IFiles],
	}, nil
}

// Zero wipes every stream's key material, releasing the session's
// cryptographic state (termination must zeroize all six
// keys).
func (k *SessionKeys) Zero() {
	k.I2RControl.Zero()
	k.R2IControl.Zero()
	k.I2RFrames.Zero()
	k.R2IFrames.Zero()
	k.I2RFiles.Zero()
	k.R2IFiles.Zero()
}

// stream returns the AEADStream for id, or nil if id is not one of
// the six known streams.
func (k *SessionKeys) stream(id Stream) *AEADStream {
	switch id {
	case StreamI2RControl:
		return k.I2RControl
	case StreamR2IControl:
		return k.R2IControl
	case StreamI2RFrames:
		return k.I2RFrames
	case StreamR2IFrames:
		return k.R2IFrames
	case StreamI2RFiles:
		return k.I2RFiles
	case StreamR2IFiles:
		return k.R2IFiles
	default:
		return nil
	}
}

// Open decrypts a frame received on the named stream. A downgrade on
// any one stream zeros every key in the session, not just the
// offending stream's: a dropped-and-reopened stream is evidence the
// whole session's replay state can no longer be trusted.
func (k *SessionKeys) Open(id Stream, counter uint64, ciphertext, aad []byte) ([]byte, error) {
	s := k.stream(id)
	if s == nil {
		return nil, fmt.Errorf("session: unknown stream %d", id)
	}
	plaintext, err := s.Open(counter, ciphertext, aad)
	if errors.Is(err, ErrDowngrade) {
		k.Zero()
	}
	return plaintext, err
}
