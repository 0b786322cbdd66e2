package dispatch

import (
	"context"

	"github.com/zrc-project/zrc/internal/envelope"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/wire"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// Device routes envelope-sealed messages arriving at a host: pair
// requests to pairing.Host, session init requests to session.Host.
// Every response (success or taxonomy error) is sealed back to the
// sender, since a peer must always receive a reply to every opened
// envelope — the pairing/session handlers never distinguish failure
// causes to the wire, only the generic taxonomy message.
type Device struct {
	router   *Router
	identity *identity.Keys
}

// NewDevice constructs a Device dispatcher wired to pairingHost for
// MsgPairRequest and sessionHost for MsgSessionInitRequest.
func NewDevice(keys *identity.Keys, pairingHost *pairing.Host, sessionHost *session.Host) *Device {
	d := &Device{router: NewRouter(keys), identity: keys}
	d.router.Handle(wire.MsgPairRequest, d.handlePairRequest(pairingHost))
	d.router.Handle(wire.MsgSessionInitRequest, d.handleSessionInit(sessionHost))
	return d
}

// Dispatch opens env and routes it to the registered handler.
func (d *Device) Dispatch(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return d.router.Dispatch(ctx, env)
}

func (d *Device) sealError(recipient identity.ID, recipientKexPub []byte, zErr *zrcerr.Error) (*envelope.Envelope, error) {
	kexPub, err := identity.ParseKexPub(recipientKexPub)
	if err != nil {
		return nil, err
	}
	payload := (&wire.ErrorV1{Code: uint32(zErr.Code), Message: zErr.Message()}).Marshal()
	return envelope.Seal(d.identity.ID, recipient, uint32(wire.MsgError), kexPub, payload)
}

func (d *Device) handlePairRequest(host *pairing.Host) HandlerFunc {
	return func(ctx context.Context, senderID identity.ID, payload []byte) (*envelope.Envelope, error) {
		wireReq, err := wire.UnmarshalPairRequestV1(payload)
		if err != nil {
			return nil, err
		}
		req, err := decodePairRequest(wireReq)
		if err != nil {
			return nil, err
		}

		if req.OperatorID != senderID {
			return d.sealError(senderID, req.OperatorKexPub, zrcerr.New(zrcerr.SignatureInvalid, "envelope sender does not match operator_id"))
		}

		outcome, zErr := host.HandleRequest(ctx, req)
		if zErr != nil {
			return d.sealError(senderID, req.OperatorKexPub, zErr)
		}

		recipientKexPub, err := identity.ParseKexPub(req.OperatorKexPub)
		if err != nil {
			return nil, err
		}
		return envelope.Seal(d.identity.ID, senderID, uint32(wire.MsgPairReceipt), recipientKexPub, encodePairReceipt(outcome.Receipt))
	}
}

// handleSessionInit addresses both its success and error responses
// using the request's ephemeral_kex_pub rather than a long-term
// operator key from the pairing record: this lets a NotPaired
// rejection still be delivered over the wire without first requiring
// a successful pairing lookup to learn where to send it.
func (d *Device) handleSessionInit(host *session.Host) HandlerFunc {
	return func(ctx context.Context, senderID identity.ID, payload []byte) (*envelope.Envelope, error) {
		wireReq, err := wire.UnmarshalSessionInitRequestV1(payload)
		if err != nil {
			return nil, err
		}
		req, err := decodeSessionInitRequest(wireReq)
		if err != nil {
			return nil, err
		}

		if req.OperatorID != senderID {
			return d.sealError(senderID, req.EphemeralKexPub, zrcerr.New(zrcerr.SignatureInvalid, "envelope sender does not match operator_id"))
		}

		active, zErr := host.HandleInitRequest(ctx, req)
		if zErr != nil {
			return d.sealError(senderID, req.EphemeralKexPub, zErr)
		}

		recipientKexPub, err := identity.ParseKexPub(req.EphemeralKexPub)
		if err != nil {
			return nil, err
		}
		resp := &wire.SessionInitResponseV1{IssuedTicket: encodeTicket(active.Ticket)}
		return envelope.Seal(d.identity.ID, senderID, uint32(wire.MsgSessionInitResponse), recipientKexPub, resp.Marshal())
	}
}
