package pairing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/metrics"
	"github.com/zrc-project/zrc/internal/ratelimit"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/transcript"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// ConsentPrompter asks the device's human operator to approve or deny
// an incoming pair request, displaying sas for out-of-band
// confirmation. Approval carries the permission set the human chose to
// grant; it is never negotiated by the wire protocol itself.
type ConsentPrompter interface {
	PromptPairing(ctx context.Context, operatorID identity.ID, sas string) (approved bool, grantedPermissions uint32, err error)
}

// PairOutcome bundles what HandleRequest produces on success: the
// PairingRecord now persisted in the store, and the signed receipt to
// seal into an envelope back to the controller.
type PairOutcome struct {
	Record  store.PairingRecord
	Receipt PairReceipt
}

// Host runs the device-side pairing state machine: invite
// generation and handle_request.
type Host struct {
	identity *identity.Keys
	store    store.Store
	cfg      config.PolicyConfig
	consent  ConsentPrompter
	limiter  *ratelimit.Limiter
	auditLog *audit.Log
	metrics  *metrics.Metrics
	nowFn    func() time.Time

	mu             sync.Mutex
	inFlight       map[identity.ID]bool
	pendingInvites []time.Time
}

// NewHost constructs a pairing Host. metrics may be nil to disable
// metrics recording.
func NewHost(keys *identity.Keys, st store.Store, cfg config.PolicyConfig, consent ConsentPrompter, limiter *ratelimit.Limiter, auditLog *audit.Log, m *metrics.Metrics) *Host {
	return &Host{
		identity: keys,
		store:    st,
		cfg:      cfg,
		consent:  consent,
		limiter:  limiter,
		auditLog: auditLog,
		metrics:  m,
		nowFn:    time.Now,
		inFlight: make(map[identity.ID]bool),
	}
}

// GenerateInvite draws a 32-byte secret, persists an InviteRecord
// keyed by this host's device_id, and returns the wire Invite (the
// secret hash, never the secret) plus the raw secret for the caller to
// convey out-of-band. ttl is clamped to (0, maxInviteTTL]; zero or
// negative selects maxInviteTTL.
func (h *Host) GenerateInvite(ttl time.Duration) (Invite, []byte, *zrcerr.Error) {
	if ttl <= 0 || ttl > maxInviteTTL {
		ttl = maxInviteTTL
	}
	now := h.nowFn()

	h.mu.Lock()
	live := h.pendingInvites[:0]
	for _, exp := range h.pendingInvites {
		if now.Before(exp) {
			live = append(live, exp)
		}
	}
	h.pendingInvites = live
	if h.cfg.MaxConcurrentInvites > 0 && len(h.pendingInvites) >= h.cfg.MaxConcurrentInvites {
		h.mu.Unlock()
		return Invite{}, nil, zrcerr.New(zrcerr.MaxInvitesExceeded, "max_concurrent_invites reached")
	}
	expiresAt := now.Add(ttl)
	h.pendingInvites = append(h.pendingInvites, expiresAt)
	h.mu.Unlock()

	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return Invite{}, nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("generate invite secret: %v", err))
	}
	secretHash := sha256.Sum256(secret)

	if err := h.store.PutInvite(store.InviteRecord{
		DeviceID:      h.identity.ID,
		DeviceSignPub: h.identity.SignPub,
		InviteSecret:  secret,
		ExpiresAt:     expiresAt,
	}); err != nil {
		return Invite{}, nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("persist invite: %v", err))
	}

	if h.metrics != nil {
		h.metrics.RecordInviteIssued()
	}

	return Invite{
		DeviceID:         h.identity.ID,
		DeviceSignPub:    h.identity.SignPub,
		InviteSecretHash: secretHash,
		ExpiresAt:        expiresAt,
	}, secret, nil
}

// consumePendingInvite drops one entry from the local
// max_concurrent_invites bookkeeping once a corresponding invite has
// actually been taken from the store.
func (h *Host) consumePendingInvite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pendingInvites) > 0 {
		h.pendingInvites = h.pendingInvites[1:]
	}
}

// HandleRequest runs the full handle_request sequence
// steps 1-8 and returns either a PairOutcome or a taxonomy error.
func (h *Host) HandleRequest(ctx context.Context, req PairRequest) (*PairOutcome, *zrcerr.Error) {
	now := h.nowFn()

	// Step 1: rate limit.
	if result := h.limiter.Allow(ratelimit.OpPairingRequest, req.OperatorID.String()); !result.Allowed {
		h.recordRejected("rate_limited")
		h.audit(audit.EventRateLimitHit, req.OperatorID, map[string]any{"operation": string(ratelimit.OpPairingRequest), "retry_after": result.RetryAfter.String()})
		return nil, zrcerr.New(zrcerr.RateLimited, fmt.Sprintf("retry_after=%s", result.RetryAfter))
	}

	// Step 2 (envelope open + sender==operator_id check) happens at the
	// dispatch layer before HandleRequest is called.

	// Per-(device_id, operator_id) serialization. device_id
	// is always this host's own identity, so serialize on operator_id.
	if !h.beginPairing(req.OperatorID) {
		return nil, zrcerr.New(zrcerr.AlreadyPairing, "a pairing attempt for this operator is already in progress")
	}
	defer h.endPairing(req.OperatorID)

	// Clock skew (within 120 seconds).
	skew := now.Sub(req.CreatedAt)
	if skew > pairClockSkewTolerance || skew < -pairClockSkewTolerance {
		return nil, zrcerr.New(zrcerr.ClockSkew, fmt.Sprintf("skew=%s", skew))
	}

	// Step 3: take_invite. This is the one-shot consumption point: the
	// record is gone from the store whether or not the proof below
	// checks out.
	invite, ok, err := h.store.TakeInvite(req.DeviceID, now)
	if err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("take invite: %v", err))
	}
	if !ok {
		h.recordRejected("invite_expired")
		h.audit(audit.EventPairingDenied, req.OperatorID, map[string]any{"reason": "invite_expired"})
		return nil, zrcerr.New(zrcerr.InviteExpired, "no usable invite for device_id")
	}
	h.consumePendingInvite()
	if h.metrics != nil {
		h.metrics.RecordInviteConsumed()
	}

	// Step 4: recompute pair_proof, constant-time compare. Do NOT
	// surface invite-was-found vs proof-failed distinctions to the
	// peer: a proof failure is returned with the same InviteExpired
	// code as a missing invite; only the audit event and metric say
	// proof_invalid.
	expectedProof := computePairProof(invite.InviteSecret, req)
	if !transcript.ConstantTimeEqual(expectedProof, req.PairProof) {
		h.recordRejected("proof_invalid")
		h.audit(audit.EventPairingDenied, req.OperatorID, map[string]any{"reason": "proof_invalid"})
		return nil, zrcerr.New(zrcerr.InviteExpired, "pair_proof mismatch")
	}

	// Step 5: SAS, derived identically on both sides.
	sas := transcript.SAS(sasTranscript(req, h.identity.SignPub, invite.ExpiresAt))

	// Step 6: consent. Surfacing the SAS happens unconditionally here;
	// request_sas only controls whether the controller itself displays
	// it, not whether the device computes or shows one.
	promptCtx, cancel := context.WithTimeout(ctx, h.cfg.ConsentTimeout)
	defer cancel()
	approved, granted, cErr := h.consent.PromptPairing(promptCtx, req.OperatorID, sas)
	if cErr != nil || !approved {
		h.recordRejected("consent_denied")
		h.audit(audit.EventPairingDenied, req.OperatorID, map[string]any{"reason": "consent_denied"})
		return nil, zrcerr.New(zrcerr.ConsentDenied, "device operator declined pairing")
	}

	// Step 7: persist PairingRecord, sign PairReceipt, transition to Paired.
	record := store.PairingRecord{
		DeviceID:           h.identity.ID,
		OperatorID:         req.OperatorID,
		DeviceSignPub:      h.identity.SignPub,
		OperatorSignPub:    req.OperatorSignPub,
		OperatorKexPub:     req.OperatorKexPub,
		GrantedPermissions: granted,
		IssuedAt:           now,
	}
	if err := h.store.PutPairing(record); err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("persist pairing: %v", err))
	}

	receipt := PairReceipt{
		DeviceID:           h.identity.ID,
		OperatorID:         req.OperatorID,
		DeviceSignPub:      h.identity.SignPub,
		GrantedPermissions: granted,
		IssuedAt:           now,
	}
	digest := receiptDigest(&receipt)
	receipt.ReceiptSignature = h.identity.Sign(digest[:])

	if h.metrics != nil {
		h.metrics.RecordPairingCompleted(now.Sub(req.CreatedAt).Seconds())
	}
	h.audit(audit.EventPairingApproved, req.OperatorID, map[string]any{"permissions": granted})

	return &PairOutcome{Record: record, Receipt: receipt}, nil
}

func (h *Host) beginPairing(operatorID identity.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[operatorID] {
		return false
	}
	h.inFlight[operatorID] = true
	return true
}

func (h *Host) endPairing(operatorID identity.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, operatorID)
}

func (h *Host) audit(eventType audit.EventType, operatorID identity.ID, details map[string]any) {
	if h.auditLog == nil {
		return
	}
	_, _ = h.auditLog.Append(audit.Event{
		Timestamp:  h.nowFn(),
		Type:       eventType,
		OperatorID: operatorID,
		Details:    details,
	})
	if h.metrics != nil {
		h.metrics.RecordAuditEvent()
	}
}

func (h *Host) recordRejected(reason string) {
	if h.metrics == nil {
		return
	}
	if reason == "rate_limited" {
		h.metrics.RecordRateLimitHit(string(ratelimit.OpPairingRequest))
		return
	}
	if reason == "consent_denied" {
		h.metrics.RecordConsentPrompt("denied")
	}
	if reason == "invite_expired" {
		h.metrics.RecordInviteExpired()
	}
	h.metrics.RecordPairingRejected(reason)
}
