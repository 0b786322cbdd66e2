package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/ticket"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// Controller runs the operator-side session-establishment state
// machine: Idle -> RequestSent -> SessionActive, or a terminal
// rejection after a bad ticket.
type Controller struct {
	identity *identity.Keys
}

// NewController constructs a session Controller for the given
// operator identity.
func NewController(keys *identity.Keys) *Controller {
	return &Controller{identity: keys}
}

// BuildInitRequest constructs and signs a SessionInitRequest for
// deviceID, requesting requestedPermissions. The caller is responsible
// for sealing the result into an envelope addressed to the device.
func (c *Controller) BuildInitRequest(deviceID identity.ID, requestedPermissions uint32, ephemeralKexPub []byte, now time.Time) (InitRequest, error) {
	req := InitRequest{
		OperatorID:           c.identity.ID,
		DeviceID:             deviceID,
		RequestedPermissions: requestedPermissions,
		EphemeralKexPub:      ephemeralKexPub,
		CreatedAt:            now,
	}

	req.TicketBindingNonce = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, req.TicketBindingNonce); err != nil {
		return InitRequest{}, fmt.Errorf("generate ticket_binding_nonce: %w", err)
	}

	digest := req.signingDigest()
	req.RequestSignature = c.identity.Sign(digest[:])
	return req, nil
}

// HandleResponse verifies a SessionTicket returned by the device,
// checking its signature under the PINNED device_sign_pub (from the
// controller's own pairing record, never from the ticket itself), its
// session_binding against the nonce this controller generated, and its
// expiry. On success it derives the matching SessionKeys.
func (c *Controller) HandleResponse(t *ticket.Ticket, pinnedDeviceSignPub []byte, ticketBindingNonce []byte, now time.Time) (*SessionKeys, *zrcerr.Error) {
	if err := ticket.Check(t, pinnedDeviceSignPub, ticketBindingNonce, now); err != nil {
		switch err {
		case ticket.ErrExpired:
			return nil, zrcerr.New(zrcerr.TicketExpired, "ticket expires_at has passed")
		case ticket.ErrBindingMismatch:
			return nil, zrcerr.New(zrcerr.BindingMismatch, "session_binding does not match expected transcript")
		default:
			return nil, zrcerr.New(zrcerr.SignatureInvalid, "ticket signature invalid")
		}
	}

	keys, derr := DeriveSessionKeys(t.SessionBinding, t.TicketID)
	if derr != nil {
		return nil, zrcerr.New(zrcerr.Unspecified, fmt.Sprintf("derive session keys: %v", derr))
	}
	return keys, nil
}
