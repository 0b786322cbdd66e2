// Package ticket implements SessionTicket signing and verification: a
// device-signed capability binding a session to a specific operator,
// device, and set of permissions.
package ticket

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/transcript"
)

// Distinguishable verification failures for Check, mapped to distinct
// wire ErrorV1 codes by callers.
var (
	ErrExpired          = errors.New("ticket: expired")
	ErrBindingMismatch  = errors.New("ticket: session binding mismatch")
	ErrSignatureInvalid = errors.New("ticket: signature invalid")
)

// Ticket is the in-process representation of a SessionTicket.
type Ticket struct {
	TicketID        [16]byte
	SessionID       [32]byte
	OperatorID      identity.ID
	DeviceID        identity.ID
	Permissions     uint32
	ExpiresAt       time.Time
	SessionBinding  [32]byte
	DeviceSignPub   []byte
	DeviceSignature []byte
}

// Binding computes session_binding = SHA-256(transcript("zrc_ticket_bind_v1",
// session_id, operator_id, device_id, ticket_binding_nonce)).
func Binding(sessionID [32]byte, operatorID, deviceID identity.ID, ticketBindingNonce []byte) [32]byte {
	tr := transcript.New(transcript.DomainTicketBind)
	tr.Append(transcript.TagSessionID, sessionID[:])
	tr.Append(transcript.TagOperatorID, operatorID.Bytes())
	tr.Append(transcript.TagDeviceID, deviceID.Bytes())
	tr.Append(transcript.TagTicketBindingNonce, ticketBindingNonce)
	return sha256.Sum256(tr.Bytes())
}

// signingDigest computes SHA-256(transcript("zrc_ticket_sig_v1", ticket_id,
// session_id, operator_id, device_id, permissions, expires_at,
// session_binding)).
func signingDigest(t *Ticket) [32]byte {
	tr := transcript.New(transcript.DomainTicketSig)
	tr.Append(transcript.TagTicketID, t.TicketID[:])
	tr.Append(transcript.TagSessionID, t.SessionID[:])
	tr.Append(transcript.TagOperatorID, t.OperatorID.Bytes())
	tr.Append(transcript.TagDeviceID, t.DeviceID.Bytes())
	tr.AppendUint32(transcript.TagPermissions, t.Permissions)
	tr.AppendUint64(transcript.TagExpiresAt, uint64(t.ExpiresAt.Unix()))
	tr.Append(transcript.TagSessionBinding, t.SessionBinding[:])
	return sha256.Sum256(tr.Bytes())
}

// Sign computes session_binding, signs t's digest under the device's
// signing key, and fills in DeviceSignPub/DeviceSignature.
func Sign(keys *identity.Keys, ticketID [16]byte, sessionID [32]byte, operatorID, deviceID identity.ID,
	permissions uint32, expiresAt time.Time, ticketBindingNonce []byte) *Ticket {

	t := &Ticket{
		TicketID:      ticketID,
		SessionID:     sessionID,
		OperatorID:    operatorID,
		DeviceID:      deviceID,
		Permissions:   permissions,
		ExpiresAt:     expiresAt,
		DeviceSignPub: append([]byte(nil), keys.SignPub...),
	}
	t.SessionBinding = Binding(sessionID, operatorID, deviceID, ticketBindingNonce)

	digest := signingDigest(t)
	t.DeviceSignature = keys.Sign(digest[:])
	return t
}

// Verify recomputes the session_binding and signing digest, checks the
// ticket has not expired, and performs a strict Ed25519 verification
// under the pinned device_sign_pub (never the key embedded in the
// ticket itself, per caller contract — callers MUST pass the pinned
// key from the PairingRecord).
func Verify(t *Ticket, pinnedDeviceSignPub []byte, ticketBindingNonce []byte, now time.Time) bool {
	if !now.Before(t.ExpiresAt) {
		return false
	}

	expectedBinding := Binding(t.SessionID, t.OperatorID, t.DeviceID, ticketBindingNonce)
	if !transcript.ConstantTimeEqual(expectedBinding[:], t.SessionBinding[:]) {
		return false
	}

	digest := signingDigest(t)
	return identity.Verify(pinnedDeviceSignPub, digest[:], t.DeviceSignature)
}

// Check is like Verify but distinguishes the failure reason, for
// callers that must surface TicketExpired vs BindingMismatch vs
// SignatureInvalid as distinct wire error codes rather than Verify's
// uniform boolean.
func Check(t *Ticket, pinnedDeviceSignPub []byte, ticketBindingNonce []byte, now time.Time) error {
	if !now.Before(t.ExpiresAt) {
		return ErrExpired
	}

	expectedBinding := Binding(t.SessionID, t.OperatorID, t.DeviceID, ticketBindingNonce)
	if !transcript.ConstantTimeEqual(expectedBinding[:], t.SessionBinding[:]) {
		return ErrBindingMismatch
	}

	digest := signingDigest(t)
	if !identity.Verify(pinnedDeviceSignPub, digest[:], t.DeviceSignature) {
		return ErrSignatureInvalid
	}
	return nil
}
