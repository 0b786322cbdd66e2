package dispatch

import (
	"fmt"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/pairing"
	"github.com/zrc-project/zrc/internal/session"
	"github.com/zrc-project/zrc/internal/ticket"
	"github.com/zrc-project/zrc/internal/wire"
)

func decodePairRequest(w *wire.PairRequestV1) (pairing.PairRequest, error) {
	operatorID, err := identity.FromBytes(w.OperatorID)
	if err != nil {
		return pairing.PairRequest{}, fmt.Errorf("dispatch: pair_request operator_id: %w", err)
	}
	deviceID, err := identity.FromBytes(w.DeviceID)
	if err != nil {
		return pairing.PairRequest{}, fmt.Errorf("dispatch: pair_request device_id: %w", err)
	}
	return pairing.PairRequest{
		OperatorID:      operatorID,
		OperatorSignPub: w.OperatorSignPub,
		OperatorKexPub:  w.OperatorKexPub,
		DeviceID:        deviceID,
		CreatedAt:       time.Unix(int64(w.CreatedAt), 0),
		RequestSAS:      w.RequestSAS,
		PairProof:       w.PairProof,
	}, nil
}

func encodePairRequest(r pairing.PairRequest) []byte {
	return (&wire.PairRequestV1{
		OperatorID:      r.OperatorID.Bytes(),
		OperatorSignPub: r.OperatorSignPub,
		OperatorKexPub:  r.OperatorKexPub,
		DeviceID:        r.DeviceID.Bytes(),
		CreatedAt:       uint64(r.CreatedAt.Unix()),
		RequestSAS:      r.RequestSAS,
		PairProof:       r.PairProof,
	}).Marshal()
}

func encodePairReceipt(r pairing.PairReceipt) []byte {
	return (&wire.PairReceiptV1{
		DeviceID:           r.DeviceID.Bytes(),
		OperatorID:         r.OperatorID.Bytes(),
		DeviceSignPub:      r.DeviceSignPub,
		GrantedPermissions: r.GrantedPermissions,
		IssuedAt:           uint64(r.IssuedAt.Unix()),
		ReceiptSignature:   r.ReceiptSignature,
	}).Marshal()
}

func decodePairReceipt(w *wire.PairReceiptV1) (pairing.PairReceipt, error) {
	deviceID, err := identity.FromBytes(w.DeviceID)
	if err != nil {
		return pairing.PairReceipt{}, fmt.Errorf("dispatch: pair_receipt device_id: %w", err)
	}
	operatorID, err := identity.FromBytes(w.OperatorID)
	if err != nil {
		return pairing.PairReceipt{}, fmt.Errorf("dispatch: pair_receipt operator_id: %w", err)
	}
	return pairing.PairReceipt{
		DeviceID:           deviceID,
		OperatorID:         operatorID,
		DeviceSignPub:      w.DeviceSignPub,
		GrantedPermissions: w.GrantedPermissions,
		IssuedAt:           time.Unix(int64(w.IssuedAt), 0),
		ReceiptSignature:   w.ReceiptSignature,
	}, nil
}

func decodeSessionInitRequest(w *wire.SessionInitRequestV1) (session.InitRequest, error) {
	operatorID, err := identity.FromBytes(w.OperatorID)
	if err != nil {
		return session.InitRequest{}, fmt.Errorf("dispatch: session_init_request operator_id: %w", err)
	}
	deviceID, err := identity.FromBytes(w.DeviceID)
	if err != nil {
		return session.InitRequest{}, fmt.Errorf("dispatch: session_init_request device_id: %w", err)
	}
	return session.InitRequest{
		OperatorID:           operatorID,
		DeviceID:             deviceID,
		RequestedPermissions: w.RequestedPermissions,
		EphemeralKexPub:      w.EphemeralKexPub,
		CreatedAt:            time.Unix(int64(w.CreatedAt), 0),
		TicketBindingNonce:   w.TicketBindingNonce,
		RequestSignature:     w.RequestSignature,
	}, nil
}

func encodeSessionInitRequest(r session.InitRequest) []byte {
	return (&wire.SessionInitRequestV1{
		OperatorID:           r.OperatorID.Bytes(),
		DeviceID:             r.DeviceID.Bytes(),
		RequestedPermissions: r.RequestedPermissions,
		EphemeralKexPub:      r.EphemeralKexPub,
		CreatedAt:            uint64(r.CreatedAt.Unix()),
		TicketBindingNonce:   r.TicketBindingNonce,
		RequestSignature:     r.RequestSignature,
	}).Marshal()
}

func encodeTicket(t *ticket.Ticket) *wire.SessionTicketV1 {
	return &wire.SessionTicketV1{
		TicketID:        t.TicketID[:],
		SessionID:       t.SessionID[:],
		OperatorID:      t.OperatorID.Bytes(),
		DeviceID:        t.DeviceID.Bytes(),
		Permissions:     t.Permissions,
		ExpiresAt:       uint64(t.ExpiresAt.Unix()),
		SessionBinding:  t.SessionBinding[:],
		DeviceSignPub:   t.DeviceSignPub,
		DeviceSignature: t.DeviceSignature,
	}
}

func decodeTicket(w *wire.SessionTicketV1) (*ticket.Ticket, error) {
	if len(w.TicketID) != 16 {
		return nil, fmt.Errorf("dispatch: ticket_id must be 16 bytes, got %d", len(w.TicketID))
	}
	if len(w.SessionID) != 32 {
		return nil, fmt.Errorf("dispatch: session_id must be 32 bytes, got %d", len(w.SessionID))
	}
	if len(w.SessionBinding) != 32 {
		return nil, fmt.Errorf("dispatch: session_binding must be 32 bytes, got %d", len(w.SessionBinding))
	}
	operatorID, err := identity.FromBytes(w.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: ticket operator_id: %w", err)
	}
	deviceID, err := identity.FromBytes(w.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: ticket device_id: %w", err)
	}

	var ticketID [16]byte
	copy(ticketID[:], w.TicketID)
	var sessionID [32]byte
	copy(sessionID[:], w.SessionID)
	var binding [32]byte
	copy(binding[:], w.SessionBinding)

	return &ticket.Ticket{
		TicketID:        ticketID,
		SessionID:       sessionID,
		OperatorID:      operatorID,
		DeviceID:        deviceID,
		Permissions:     w.Permissions,
		ExpiresAt:       time.Unix(int64(w.ExpiresAt), 0),
		SessionBinding:  binding,
		DeviceSignPub:   w.DeviceSignPub,
		DeviceSignature: w.DeviceSignature,
	}, nil
}
