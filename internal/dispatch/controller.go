package dispatch

import (
	"crypto/ecdh"
	"fmt"

	"github.com/zrc-project/zrc/internal/envelope"
	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/ticket"
	"github.com/zrc-project/zrc/internal/wire"
	"github.com/zrc-project/zrc/internal/zrcerr"
)

// Controller seals outgoing pair/session requests and decodes the
// device's replies. Unlike Device, it has no unsolicited inbound
// traffic to route by msg_type: every message it opens is a reply to
// a request it sent, so the caller (cmd/zrc-operator) supplies the
// correlation context (the invite, the device it expects a reply
// from) rather than dispatch tracking it internally.
type Controller struct {
	identity *identity.Keys
}

// NewController constructs a Controller dispatcher for a local
// operator identity.
func NewController(keys *identity.Keys) *Controller {
	return &Controller{identity: keys}
}

// SealPairRequest seals req for deviceID under the device's
// key-agreement public key, learned out-of-band when the invite was
// imported.
func (c *Controller) SealPairRequest(deviceID identity.ID, deviceKexPub *ecdh.PublicKey, req pairing.PairRequest) (*envelope.Envelope, error) {
	return envelope.Seal(c.identity.ID, deviceID, uint32(wire.MsgPairRequest), deviceKexPub, encodePairRequest(req))
}

// SealSessionInitRequest seals req for deviceID under the device's
// key-agreement public key (its long-term key, learned out-of-band
// from the invite bundle; store.PairingRecord does not carry it).
func (c *Controller) SealSessionInitRequest(deviceID identity.ID, deviceKexPub *ecdh.PublicKey, req session.InitRequest) (*envelope.Envelope, error) {
	return envelope.Seal(c.identity.ID, deviceID, uint32(wire.MsgSessionInitRequest), deviceKexPub, encodeSessionInitRequest(req))
}

func (c *Controller) open(env *envelope.Envelope, expectedSender identity.ID) ([]byte, error) {
	plaintext, err := envelope.Open(c.identity, env)
	if err != nil {
		return nil, err
	}
	if env.SenderID != expectedSender {
		return nil, fmt.Errorf("dispatch: envelope sender does not match expected device")
	}
	return plaintext, nil
}

// OpenPairReceipt opens env, expected to carry a PairReceipt from
// expectedDeviceID, and decodes it. It also rejects a receipt whose
// own device_id field disagrees with the envelope's authenticated
// sender.
func (c *Controller) OpenPairReceipt(env *envelope.Envelope, expectedDeviceID identity.ID) (pairing.PairReceipt, error) {
	plaintext, err := c.open(env, expectedDeviceID)
	if err != nil {
		return pairing.PairReceipt{}, err
	}
	if wire.MsgType(env.MsgType) != wire.MsgPairReceipt {
		return pairing.PairReceipt{}, fmt.Errorf("dispatch: unexpected msg_type %d, want pair_receipt", env.MsgType)
	}

	wireReceipt, err := wire.UnmarshalPairReceiptV1(plaintext)
	if err != nil {
		return pairing.PairReceipt{}, fmt.Errorf("dispatch: malformed pair_receipt: %w", err)
	}
	receipt, err := decodePairReceipt(wireReceipt)
	if err != nil {
		return pairing.PairReceipt{}, err
	}
	if receipt.DeviceID != expectedDeviceID {
		return pairing.PairReceipt{}, fmt.Errorf("dispatch: receipt device_id does not match expected device")
	}
	return receipt, nil
}

// OpenSessionInitResponse opens env, expected to carry either a
// SessionInitResponse (ticket or embedded error) or a bare Error from
// expectedDeviceID. Exactly one of the three return values is non-nil
// on success: the ticket, or the taxonomy error.
func (c *Controller) OpenSessionInitResponse(env *envelope.Envelope, expectedDeviceID identity.ID) (*ticket.Ticket, *zrcerr.Error, error) {
	plaintext, err := c.open(env, expectedDeviceID)
	if err != nil {
		return nil, nil, err
	}

	switch wire.MsgType(env.MsgType) {
	case wire.MsgSessionInitResponse:
		wireResp, err := wire.UnmarshalSessionInitResponseV1(plaintext)
		if err != nil {
			return nil, nil, fmt.Errorf("dispatch: malformed session_init_response: %w", err)
		}
		if wireResp.Error != nil {
			return nil, &zrcerr.Error{Code: zrcerr.Code(wireResp.Error.Code), Detail: wireResp.Error.Message}, nil
		}
		if wireResp.IssuedTicket == nil {
			return nil, nil, fmt.Errorf("dispatch: session_init_response carries neither ticket nor error")
		}
		t, err := decodeTicket(wireResp.IssuedTicket)
		if err != nil {
			return nil, nil, err
		}
		return t, nil, nil

	case wire.MsgError:
		wireErr, err := wire.UnmarshalErrorV1(plaintext)
		if err != nil {
			return nil, nil, fmt.Errorf("dispatch: malformed error: %w", err)
		}
		return nil, &zrcerr.Error{Code: zrcerr.Code(wireErr.Code), Detail: wireErr.Message}, nil

	default:
		return nil, nil, fmt.Errorf("dispatch: unexpected msg_type %d for session_init_response", env.MsgType)
	}
}
