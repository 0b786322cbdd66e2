// Package audit implements the append-only, signed audit log: every
// security-relevant decision is recorded as a structured event and
// signed with the host's long-term signing key, so the log can be
// verified offline even if the store is compromised.
package audit

import (
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/transcript"
)

// EventType enumerates the audit event kinds.
type EventType string

const (
	EventPairingApproved  EventType = "pairing_approved"
	EventPairingDenied    EventType = "pairing_denied"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventRateLimitHit     EventType = "rate_limit_hit"
	EventReplayDetected   EventType = "replay_detected"
	EventIdentityMismatch EventType = "identity_mismatch"
	EventDowngradeDetected EventType = "downgrade_detected"
	EventKeyRotated       EventType = "key_rotated"
)

// Event is a single append-only audit record. OperatorID and SessionID
// are optional (zero value) depending on event type; Details carries
// whatever structured context is relevant (never raw secrets).
type Event struct {
	Timestamp  time.Time
	Type       EventType
	OperatorID identity.ID
	SessionID  [32]byte
	Details    map[string]any
	Signature  []byte
}

// domainAuditEvent is the transcript domain separator for audit event
// signatures. Kept local to this package since audit events are not a
// cryptographic primitive shared across the wire protocol.
const domainAuditEvent = "zrc_audit_event_v1"

// canonicalBytes renders the fields that matter to the signature in a
// fixed, deterministic order. Details is JSON-encoded with sorted keys
// (encoding/json already sorts map keys) so two processes constructing
// the same event produce the same bytes.
func canonicalBytes(e Event) ([]byte, error) {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return nil, err
	}

	tr := transcript.New(domainAuditEvent)
	tr.AppendUint64(1, uint64(e.Timestamp.UnixNano()))
	tr.Append(2, []byte(e.Type))
	tr.Append(3, e.OperatorID.Bytes())
	tr.Append(4, e.SessionID[:])
	tr.Append(5, detailsJSON)
	return tr.Bytes(), nil
}

// Sign computes the canonical digest of e and signs it with keys,
// returning a copy of e with Signature populated.
func Sign(keys *identity.Keys, e Event) (Event, error) {
	raw, err := canonicalBytes(e)
	if err != nil {
		return Event{}, err
	}
	digest := sha256.Sum256(raw)
	e.Signature = keys.Sign(digest[:])
	return e, nil
}

// Verify checks that e.Signature is a valid signature over e's
// canonical bytes under pub.
func Verify(pub []byte, e Event) bool {
	raw, err := canonicalBytes(e)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(raw)
	return identity.Verify(pub, digest[:], e.Signature)
}

// Log is an append-only, signed audit log. Appends are serialized;
// readers (List, Len) tolerate concurrent appends by taking a
// snapshot under the read lock.
type Log struct {
	mu     sync.RWMutex
	keys   *identity.Keys
	events []Event
}

// New creates an audit log that signs every appended event with keys.
func New(keys *identity.Keys) *Log {
	return &Log{keys: keys}
}

// Append signs and records a new event. The caller supplies Timestamp;
// this package never calls time.Now so callers can produce
// deterministic event streams in tests.
func (l *Log) Append(e Event) (Event, error) {
	signed, err := Sign(l.keys, e)
	if err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	l.events = append(l.events, signed)
	l.mu.Unlock()
	return signed, nil
}

// List returns a snapshot of every event appended so far, oldest first.
func (l *Log) List() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len reports how many events have been appended.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
