// Package pairing implements the ZRC pairing state machines: a host
// (device) side that issues invites and approves incoming pair
// requests, and a controller (operator) side that imports an invite
// and requests a pairing. Both sides derive the same SAS from the
// request transcript so a human can confirm no relay is interposed.
package pairing

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/transcript"
)

// maxInviteTTL bounds how long a generated invite may remain usable
// (at most 600 seconds).
const maxInviteTTL = 600 * time.Second

// pairClockSkewTolerance bounds how far a PairRequest's created_at may
// drift from the host's clock (within 120 seconds).
const pairClockSkewTolerance = 120 * time.Second

// Invite is the wire form of an InviteRecord: the secret hash travels,
// never the secret itself.
type Invite struct {
	DeviceID         identity.ID
	DeviceSignPub    []byte
	InviteSecretHash [32]byte
	ExpiresAt        time.Time
	TransportHints   []byte
}

// PairRequest is the decoded form of a PairRequestV1 message, built by
// a controller holding an invite and its out-of-band secret.
type PairRequest struct {
	OperatorID      identity.ID
	OperatorSignPub []byte
	OperatorKexPub  []byte
	DeviceID        identity.ID
	CreatedAt       time.Time
	RequestSAS      bool
	PairProof       []byte
}

// proofTranscript builds the canonical transcript pair_proof is an
// HMAC over: everything in the request except pair_proof itself.
func proofTranscript(operatorID identity.ID, operatorSignPub, operatorKexPub []byte, deviceID identity.ID, createdAt time.Time) *transcript.Transcript {
	tr := transcript.New(transcript.DomainPairProof)
	tr.Append(transcript.TagOperatorID, operatorID.Bytes())
	tr.Append(transcript.TagOperatorSignPub, operatorSignPub)
	tr.Append(transcript.TagOperatorKexPub, operatorKexPub)
	tr.Append(transcript.TagDeviceID, deviceID.Bytes())
	tr.AppendUint64(transcript.TagCreatedAt, uint64(createdAt.Unix()))
	return tr
}

// computePairProof computes HMAC-SHA256(key=inviteSecret,
// message=proofTranscript(...)).
func computePairProof(inviteSecret []byte, req PairRequest) []byte {
	tr := proofTranscript(req.OperatorID, req.OperatorSignPub, req.OperatorKexPub, req.DeviceID, req.CreatedAt)
	mac := hmac.New(sha256.New, inviteSecret)
	mac.Write(tr.Bytes())
	return mac.Sum(nil)
}

// sasTranscript builds the transcript both sides derive the SAS from:
// the request's canonical fields (without pair_proof) plus both
// signing public keys and the invite's expiry.
func sasTranscript(req PairRequest, deviceSignPub []byte, inviteExpiresAt time.Time) *transcript.Transcript {
	tr := transcript.New(transcript.DomainPairSAS)
	tr.Append(transcript.TagOperatorID, req.OperatorID.Bytes())
	tr.Append(transcript.TagOperatorSignPub, req.OperatorSignPub)
	tr.Append(transcript.TagOperatorKexPub, req.OperatorKexPub)
	tr.Append(transcript.TagDeviceID, req.DeviceID.Bytes())
	tr.AppendUint64(transcript.TagCreatedAt, uint64(req.CreatedAt.Unix()))
	tr.Append(transcript.TagDeviceSignPub, deviceSignPub)
	tr.AppendUint64(transcript.TagExpiresAt, uint64(inviteExpiresAt.Unix()))
	return tr
}

// PairReceipt is the decoded form of a PairReceiptV1 message: the
// device's signed confirmation of a newly created pairing.
type PairReceipt struct {
	DeviceID           identity.ID
	OperatorID         identity.ID
	DeviceSignPub      []byte
	GrantedPermissions uint32
	IssuedAt           time.Time
	ReceiptSignature   []byte
}

// receiptDigest computes SHA-256(transcript("zrc_pair_receipt_v1",
// device_id, operator_id, device_sign_pub, granted_permissions,
// issued_at)), the value receipt_signature is computed over.
func receiptDigest(r *PairReceipt) [32]byte {
	tr := transcript.New(transcript.DomainPairReceipt)
	tr.Append(transcript.TagDeviceID, r.DeviceID.Bytes())
	tr.Append(transcript.TagOperatorID, r.OperatorID.Bytes())
	tr.Append(transcript.TagDeviceSignPub, r.DeviceSignPub)
	tr.AppendUint32(transcript.TagGrantedPermissions, r.GrantedPermissions)
	tr.AppendUint64(transcript.TagIssuedAt, uint64(r.IssuedAt.Unix()))
	return sha256.Sum256(tr.Bytes())
}
