// Package zrcerr defines the ZRC error taxonomy: an internal reason
// code enum, consumed by pairing and session state machines, and its
// mapping onto the wire ErrorV1 boundary.
package zrcerr

import "fmt"

// Code enumerates reasons a pairing or session operation can fail.
// Codes are stable wire values; do not renumber.
type Code uint32

const (
	Unspecified Code = iota
	RateLimited
	NotPaired
	PermissionDenied
	InviteExpired
	ProofInvalid
	SignatureInvalid
	TicketExpired
	BindingMismatch
	PolicyBlocked
	ClockSkew
	AlreadyPairing
	ConsentDenied
	MaxSessionsExceeded
	MaxInvitesExceeded
)

var names = map[Code]string{
	Unspecified:         "Unspecified",
	RateLimited:         "RateLimited",
	NotPaired:           "NotPaired",
	PermissionDenied:    "PermissionDenied",
	InviteExpired:       "InviteExpired",
	ProofInvalid:        "ProofInvalid",
	SignatureInvalid:    "SignatureInvalid",
	TicketExpired:       "TicketExpired",
	BindingMismatch:     "BindingMismatch",
	PolicyBlocked:       "PolicyBlocked",
	ClockSkew:           "ClockSkew",
	AlreadyPairing:      "AlreadyPairing",
	ConsentDenied:       "ConsentDenied",
	MaxSessionsExceeded: "MaxSessionsExceeded",
	MaxInvitesExceeded:  "MaxInvitesExceeded",
}

// String renders the code's wire name.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Unspecified"
}

// genericMessages holds the human-facing text for each code; detailed
// reasons belong only in the audit log, never in this message:
// messages stay generic so a caller can't infer internal state from
// wording, while full context is still recoverable from the audit
// trail.
var genericMessages = map[Code]string{
	Unspecified:         "request failed; please retry",
	RateLimited:         "too many requests; please retry shortly",
	NotPaired:           "pairing failed; please retry",
	PermissionDenied:    "permission denied",
	InviteExpired:       "pairing failed; please retry",
	ProofInvalid:        "authentication failed",
	SignatureInvalid:    "authentication failed",
	TicketExpired:       "session expired; please reconnect",
	BindingMismatch:     "authentication failed",
	PolicyBlocked:       "blocked by policy",
	ClockSkew:           "clock out of sync; please retry",
	AlreadyPairing:      "pairing already in progress",
	ConsentDenied:       "request was declined",
	MaxSessionsExceeded: "too many active sessions",
	MaxInvitesExceeded:  "too many pending invites",
}

// Error is the taxonomy error type state machines return internally.
// CorrelationID, when set, is surfaced to the peer alongside the
// generic message so a human can reference it when escalating.
type Error struct {
	Code          Code
	CorrelationID string
	// Detail is never serialized to the wire; it exists for audit
	// logging and local diagnostics only.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code.String()
}

// New constructs a taxonomy error with an internal-only detail string.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Message returns the generic, human-facing text for e's code. This is
// the ONLY text that may reach a peer or end user.
func (e *Error) Message() string {
	if m, ok := genericMessages[e.Code]; ok {
		return m
	}
	return genericMessages[Unspecified]
}

// Is allows errors.Is comparisons against a bare Code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
