// Package dispatch routes sealed envelopes to the pairing and session
// state machines by msg_type, the envelope-opening and response-sealing
// layer that internal/pairing and internal/session defer to (both
// packages' handle_request comments read "envelope open + sender check
// happens at the dispatch layer").
package dispatch

import (
	"context"
	"fmt"

	"github.com/zrc-project/zrc/internal/envelope"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/wire"
)

// HandlerFunc handles one decoded, envelope-authenticated message and
// produces the sealed response envelope to send back to senderID. It
// is responsible for its own response addressing (the device/session
// handlers in this package use a kex public key carried in the
// request payload itself, since the envelope format carries no
// key-agreement key for its sender).
type HandlerFunc func(ctx context.Context, senderID identity.ID, payload []byte) (*envelope.Envelope, error)

// Router opens an incoming envelope under a local identity and
// dispatches its plaintext to the handler registered for its msg_type,
// mirroring a path-based HTTP mux but keyed on the wire protocol's
// msg_type field instead of a URL.
type Router struct {
	identity *identity.Keys
	handlers map[wire.MsgType]HandlerFunc
}

// NewRouter constructs an empty Router bound to a local identity.
func NewRouter(keys *identity.Keys) *Router {
	return &Router{identity: keys, handlers: make(map[wire.MsgType]HandlerFunc)}
}

// Handle registers fn for msgType. Re-registering a msg_type replaces
// the existing handler.
func (r *Router) Handle(msgType wire.MsgType, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch opens env and runs the handler registered for its msg_type.
// A failure to open the envelope is returned as-is (envelope.ErrOpenFailed):
// no response can be safely addressed to an unauthenticated sender.
func (r *Router) Dispatch(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	plaintext, err := envelope.Open(r.identity, env)
	if err != nil {
		return nil, err
	}

	h, ok := r.handlers[wire.MsgType(env.MsgType)]
	if !ok {
		return nil, fmt.Errorf("dispatch: no handler registered for msg_type %d", env.MsgType)
	}

	return h(ctx, env.SenderID, plaintext)
}
