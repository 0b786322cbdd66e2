package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zrc-project/zrc/internal/audit"
	"github.com/zrc-project/zrc/internal/config"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/metrics"
	"github.com/zrc-project/zrc/internal/policy"
	"github.com/zrc-project/zrc/internal/ratelimit"
	"github.com/zrc-project/zrc/internal/store"
	"github.com/zrc-project/zrc/internal/ticket"
	"github.com/zrc-project/zrc/internal/transcript"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// State is where a single session attempt sits in the host-side state
// machine: Idle (not yet seen) -> AwaitingConsent -> SessionActive ->
// SessionEnded, or a terminal rejection.
type State int

const (
	StateIdle State = iota
	StateAwaitingConsent
	StateSessionActive
	StateSessionEnded
)

// clockSkewTolerance bounds how stale or futuristic an init request's
// created_at may be before it is rejected ("reject if
// now - created_at > 60s or negative").
const clockSkewTolerance = 60 * time.Second

// ConsentPrompter asks a human to approve or deny a session request
// carrying the given (intersected) permission set. Implementations
// must respect ctx's deadline.
type ConsentPrompter interface {
	PromptSession(ctx context.Context, operatorID identity.ID, grantedPermissions uint32) (bool, error)
}

// InitRequest is the verified, decoded form of a SessionInitRequest
// (after envelope opening and before signature checks).
type InitRequest struct {
	OperatorID           identity.ID
	DeviceID             identity.ID
	RequestedPermissions uint32
	EphemeralKexPub      []byte
	CreatedAt            time.Time
	TicketBindingNonce   []byte
	RequestSignature     []byte
}

// signingDigest reproduces the transcript a controller signs when
// constructing a SessionInitRequest.
func (r *InitRequest) signingDigest() [32]byte {
	tr := transcript.New(transcript.DomainSessionInit)
	tr.Append(transcript.TagOperatorID, r.OperatorID.Bytes())
	tr.Append(transcript.TagDeviceID, r.DeviceID.Bytes())
	tr.AppendUint32(transcript.TagPermissions, r.RequestedPermissions)
	tr.Append(transcript.TagEphemeralKexPub, r.EphemeralKexPub)
	tr.AppendUint64(transcript.TagCreatedAt, uint64(r.CreatedAt.Unix()))
	tr.Append(transcript.TagTicketBindingNonce, r.TicketBindingNonce)
	return tr.Hash()
}

// ActiveSession is the host's live, in-memory bookkeeping for an
// established session. Unlike store.TicketRecord, this never touches
// disk: the key material it holds must not outlive the process.
type ActiveSession struct {
	TicketID    [16]byte
	SessionID   [32]byte
	OperatorID  identity.ID
	DeviceID    identity.ID
	Permissions uint32
	Keys        *SessionKeys
	State       State
	StartedAt   time.Time

	// Ticket is the signed SessionTicket to send back to the
	// controller over the wire; it is never persisted to the store
	// (only the fields in store.TicketRecord are).
	Ticket *ticket.Ticket
}

// Host runs the device-side session-establishment state machine: it
// decides, for each SessionInitRequest, whether to auto-approve,
// prompt for consent, or reject, and on approval mints a signed
// SessionTicket and derives the six SessionKeys.
type Host struct {
	identity *identity.Keys
	store    store.Store
	cfg      config.PolicyConfig
	consent  ConsentPrompter
	limiter  *ratelimit.Limiter
	auditLog *audit.Log
	metrics  *metrics.Metrics
	nowFn    func() time.Time

	mu       sync.Mutex
	sessions map[[16]byte]*ActiveSession
}

// NewHost constructs a session Host. metrics may be nil to disable
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
		sessions: make(map[[16]byte]*ActiveSession),
	}
}

// activeCount reports how many sessions are currently active, for
// max_concurrent_sessions enforcement. Callers must hold h.mu.
func (h *Host) activeCount() int {
	n := 0
	for _, s := range h.sessions {
		if s.State == StateSessionActive {
			n++
		}
	}
	return n
}

// ActiveSessionCount reports how many sessions are currently active, for
// external introspection (internal/control).
func (h *Host) ActiveSessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeCount()
}

// HandleInitRequest runs the full handle_init_request sequence and
// returns either an established ActiveSession or a taxonomy error.
func (h *Host) HandleInitRequest(ctx context.Context, req InitRequest) (*ActiveSession, *zrcerr.Error) {
	now := h.nowFn()

	// Step 1: rate limit.
	if result := h.limiter.Allow(ratelimit.OpSessionRequest, req.OperatorID.String()); !result.Allowed {
		h.recordMetric("rate_limited")
		h.audit(audit.EventRateLimitHit, req.OperatorID, [32]byte{}, map[string]any{"operation": string(ratelimit.OpSessionRequest), "retry_after": result.RetryAfter.String()})
		return nil, zrcerr.New(zrcerr.RateLimited, fmt.Sprintf("retry_after=%s", result.RetryAfter))
	}

	// Step 2 (envelope open + sender==operator_id check) happens at the
	// dispatch layer before HandleInitRequest is called.

	// Step 3: pairing lookup.
	pairing, ok, err := h.store.GetPairing(req.DeviceID, req.OperatorID)
	if err != nil || !ok {
		h.audit(audit.EventPairingDenied, req.OperatorID, [32]byte{}, map[string]any{"reason": "not_paired"})
		return nil, zrcerr.New(zrcerr.NotPaired, "no pairing record for (device, operator)")
	}

	// Step 4: verify request_signature under the PINNED operator key
	// from the pairing record, never from the request itself.
	digest := req.signingDigest()
	if !identity.Verify(pairing.OperatorSignPub, digest[:], req.RequestSignature) {
		h.audit(audit.EventIdentityMismatch, req.OperatorID, [32]byte{}, map[string]any{"stage": "session_init_signature"})
		return nil, zrcerr.New(zrcerr.SignatureInvalid, "session init request signature invalid")
	}

	// Step 5: clock skew.
	skew := now.Sub(req.CreatedAt)
	if skew > clockSkewTolerance || skew < 0 {
		return nil, zrcerr.New(zrcerr.ClockSkew, fmt.Sprintf("skew=%s", skew))
	}

	// Step 6: permission intersection.
	granted := req.RequestedPermissions & pairing.GrantedPermissions
	if granted == 0 {
		h.audit(audit.EventSessionStart, req.OperatorID, [32]byte{}, map[string]any{"outcome": "permission_denied"})
		return nil, zrcerr.New(zrcerr.PermissionDenied, "requested permissions not granted by pairing")
	}

	// Step 7: policy evaluation.
	outcome := policy.Evaluate(h.cfg, policy.PairingView{
		OperatorID:             pairing.OperatorID,
		GrantedPermissions:     pairing.GrantedPermissions,
		UnattendedEnabled:      pairing.UnattendedEnabled,
		RequireConsentEachTime: pairing.RequireConsentEachTime,
	}, granted, now)
	h.recordPolicyMetric(outcome.Decision)

	if outcome.Decision == policy.Rejected {
		return nil, zrcerr.New(zrcerr.PolicyBlocked, "time restriction")
	}

	if outcome.Decision == policy.AwaitingConsent {
		promptCtx, cancel := context.WithTimeout(ctx, h.cfg.ConsentTimeout)
		defer cancel()
		approved, err := h.consent.PromptSession(promptCtx, req.OperatorID, outcome.GrantedPermissions)
		if err != nil || !approved {
			h.recordMetric("consent_denied")
			h.audit(audit.EventSessionStart, req.OperatorID, [32]byte{}, map[string]any{"outcome": "consent_denied"})
			return nil, zrcerr.New(zrcerr.ConsentDenied, "operator denied session consent")
		}
	}

	// Step 8: max concurrent sessions.
	h.mu.Lock()
	if h.activeCount() >= h.cfg.MaxConcurrentSessions {
		h.mu.Unlock()
		return nil, zrcerr.New(zrcerr.MaxSessionsExceeded, "max_concurrent_sessions reached")
	}
	h.mu.Unlock()

	// Step 9: mint ticket, derive keys, persist, activate.
	session, zErr := h.establish(req, outcome.GrantedPermissions, now)
	if zErr != nil {
		return nil, zErr
	}
	return session, nil
}

// establish mints the SessionTicket, derives SessionKeys, persists the
// ticket record, and records the session as active.
func (h *Host) establish(req InitRequest, granted uint32, now time.Time) (*ActiveSession, *zrcerr.Error) {
	var ticketID [16]byte
	if _, err := io.ReadFull(rand.Reader, ticketID[:]); err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("generate ticket_id: %v", err))
	}
	var sessionID [32]byte
	if _, err := io.ReadFull(rand.Reader, sessionID[:]); err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("generate session_id: %v", err))
	}

	expiresAt := now.Add(h.cfg.SessionTTL)
	t := ticket.Sign(h.identity, ticketID, sessionID, req.OperatorID, req.DeviceID, granted, expiresAt, req.TicketBindingNonce)

	keys, err := DeriveSessionKeys(t.SessionBinding, ticketID)
	if err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("derive session keys: %v", err))
	}

	if err := h.store.PutTicket(store.TicketRecord{
		TicketID:       ticketID,
		SessionID:      sessionID,
		OperatorID:     req.OperatorID,
		DeviceID:       req.DeviceID,
		Permissions:    granted,
		ExpiresAt:      expiresAt,
		SessionBinding: t.SessionBinding,
	}); err != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("persist ticket: %v", err))
	}

	active := &ActiveSession{
		TicketID:    ticketID,
		SessionID:   sessionID,
		OperatorID:  req.OperatorID,
		DeviceID:    req.DeviceID,
		Permissions: granted,
		Keys:        keys,
		State:       StateSessionActive,
		StartedAt:   now,
		Ticket:      t,
	}

	h.mu.Lock()
	h.sessions[ticketID] = active
	h.mu.Unlock()

	h.recordMetric("session_established")
	h.audit(audit.EventSessionStart, req.OperatorID, sessionID, map[string]any{"permissions": granted})

	return active, nil
}

// Get returns the in-memory ActiveSession for ticketID, if any.
func (h *Host) Get(ticketID [16]byte) (*ActiveSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[ticketID]
	return s, ok
}

// HandleStreamFrame decrypts one frame received on stream for the
// session identified by ticketID. This is the production call site
// for SessionKeys.Open: an ordinary replay is audited and rejected
// without disturbing the session, but a downgrade is audited and
// terminates the session outright, since it means the stream's
// replay state can no longer be trusted.
func (h *Host) HandleStreamFrame(ticketID [16]byte, stream Stream, counter uint64, ciphertext, aad []byte) ([]byte, error) {
	active, ok := h.Get(ticketID)
	if !ok {
		return nil, fmt.Errorf("session: no active session for ticket")
	}

	plaintext, err := active.Keys.Open(stream, counter, ciphertext, aad)
	switch {
	case err == nil:
		return plaintext, nil
	case errors.Is(err, ErrDowngrade):
		h.audit(audit.EventDowngradeDetected, active.OperatorID, active.SessionID, map[string]any{"stream": stream.String()})
		h.Terminate(ticketID, TerminateDowngrade)
		return nil, err
	case errors.Is(err, ErrReplay):
		h.audit(audit.EventReplayDetected, active.OperatorID, active.SessionID, map[string]any{"stream": stream.String()})
		return nil, err
	default:
		return nil, err
	}
}

// TerminateReason names why a session ended, for the session_end audit
// event and the sessions_terminated_total metric (explicit
// end, ticket expiry, consent panic, or transport disconnect).
type TerminateReason string

const (
	TerminateExplicit     TerminateReason = "explicit"
	TerminateTicketExpiry TerminateReason = "ticket_expiry"
	TerminateConsentPanic TerminateReason = "consent_panic"
	TerminateDisconnect   TerminateReason = "transport_disconnect"
	TerminateDowngrade    TerminateReason = "downgrade_detected"
)

// Terminate ends an active session: it zeroizes all six keys, removes
// the persisted ticket, and emits an audit event. Safe to call more
// than once; subsequent calls are a no-op.
func (h *Host) Terminate(ticketID [16]byte, reason TerminateReason) {
	h.mu.Lock()
	s, ok := h.sessions[ticketID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, ticketID)
	h.mu.Unlock()

	s.Keys.Zero()
	s.State = StateSessionEnded
	_ = h.store.DeleteTicket(ticketID)

	h.recordMetric("session_terminated:" + string(reason))
	h.audit(audit.EventSessionEnd, s.OperatorID, s.SessionID, map[string]any{"reason": string(reason)})
}

func (h *Host) audit(eventType audit.EventType, operatorID identity.ID, sessionID [32]byte, details map[string]any) {
	if h.auditLog == nil {
		return
	}
	_, _ = h.auditLog.Append(audit.Event{
		Timestamp:  h.nowFn(),
		Type:       eventType,
		OperatorID: operatorID,
		SessionID:  sessionID,
		Details:    details,
	})
	if h.metrics != nil {
		h.metrics.RecordAuditEvent()
	}
}

func (h *Host) recordMetric(event string) {
	if h.metrics == nil {
		return
	}
	switch event {
	case "rate_limited":
		h.metrics.RecordRateLimitHit(string(ratelimit.OpSessionRequest))
	case "session_established":
		h.metrics.RecordSessionEstablished(0)
	case "consent_denied":
		h.metrics.RecordConsentPrompt("denied")
	default:
		if reason, ok := trimPrefix(event, "session_terminated:"); ok {
			h.metrics.RecordSessionTerminated(reason)
		}
	}
}

func (h *Host) recordPolicyMetric(d policy.Decision) {
	if h.metrics == nil {
		return
	}
	switch d {
	case policy.AutoApproved:
		h.metrics.RecordPolicyDecision("auto_approved")
	case policy.AwaitingConsent:
		h.metrics.RecordPolicyDecision("awaiting_consent")
	case policy.Rejected:
		h.metrics.RecordPolicyDecision("rejected")
	}
}

func trimPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}
