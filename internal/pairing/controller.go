package pairing

import (
	"fmt"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/transcript"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// PendingReceipt is a receipt that has passed signature and
// permission-subset checks but still awaits an out-of-band SAS
// confirmation from the operator before the pairing is persisted.
type PendingReceipt struct {
	request PairRequest
	invite  Invite
	receipt PairReceipt

	SAS    string
	Record store.PairingRecord
}

// Controller runs the operator-side pairing state machine:
// pair request construction and handle_receipt.
type Controller struct {
	identity *identity.Keys
	store    store.Store
	nowFn    func() time.Time
}

// NewController constructs a pairing Controller.
func NewController(keys *identity.Keys, st store.Store) *Controller {
	return &Controller{identity: keys, store: st, nowFn: time.Now}
}

// BuildPairRequest builds a PairRequest from an imported Invite and its
// out-of-band secret, computing pair_proof under the invite secret.
func (c *Controller) BuildPairRequest(invite Invite, inviteSecret []byte, requestSAS bool) (PairRequest, error) {
	req := PairRequest{
		OperatorID:      c.identity.ID,
		OperatorSignPub: c.identity.SignPub,
		OperatorKexPub:  c.identity.KexPub.Bytes(),
		DeviceID:        invite.DeviceID,
		CreatedAt:       c.nowFn(),
		RequestSAS:      requestSAS,
	}

	req.PairProof = computePairProof(inviteSecret, req)
	return req, nil
}

// HandleReceipt runs handle_receipt steps 1-3: verify the
// receipt signature under the invite's PINNED device_sign_pub (never a
// key the receipt itself carries), verify granted_permissions is a
// subset of what was requested, and compute the SAS to surface for
// confirmation. The pairing is not yet persisted; call ConfirmSAS next.
func (c *Controller) HandleReceipt(req PairRequest, invite Invite, receipt PairReceipt, requestedPermissions uint32) (*PendingReceipt, *zrcerr.Error) {
	digest := receiptDigest(&receipt)
	if !identity.Verify(invite.DeviceSignPub, digest[:], receipt.ReceiptSignature) {
		return nil, zrcerr.New(zrcerr.SignatureInvalid, "pair receipt signature invalid under pinned device_sign_pub")
	}

	if receipt.GrantedPermissions&^requestedPermissions != 0 {
		return nil, zrcerr.New(zrcerr.PermissionDenied, "granted_permissions is not a subset of the requested set")
	}

	sas := transcript.SAS(sasTranscript(req, invite.DeviceSignPub, invite.ExpiresAt))

	record := store.PairingRecord{
		DeviceID:           invite.DeviceID,
		OperatorID:         c.identity.ID,
		DeviceSignPub:      invite.DeviceSignPub,
		OperatorSignPub:    c.identity.SignPub,
		OperatorKexPub:     c.identity.KexPub.Bytes(),
		GrantedPermissions: receipt.GrantedPermissions,
		IssuedAt:           receipt.IssuedAt,
	}

	return &PendingReceipt{
		request: req,
		invite:  invite,
		receipt: receipt,
		SAS:     sas,
		Record:  record,
	}, nil
}

// ConfirmSAS completes handle_receipt step 4: if the operator reports
// the SAS matches what was displayed on the device, persist the
// PairingRecord and transition to Paired. If match is false, the
// pairing is never persisted. The Controller carries no audit log of
// its own (it runs on the operator side, outside the device's trust
// boundary), so callers are expected to audit the mismatch themselves.
func (c *Controller) ConfirmSAS(pending *PendingReceipt, match bool) (*store.PairingRecord, *zrcerr.Error) {
	if !match {
		return nil, zrcerr.New(zrcerr.ProofInvalid, "operator reported a SAS mismatch")
	}
	if err := c.store.PutPairing(pending.Record); err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("persist pairing: %v", err))
	}
	return &pending.Record, nil
}
