package wire

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendUnknownVarintField(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &EnvelopeV1{
		SenderID:        bytesOf(32, 0x11),
		RecipientID:     bytesOf(32, 0x22),
		MsgType:         MsgPairRequest,
		EphemeralPublic: bytesOf(32, 0x33),
		Ciphertext:      []byte("ciphertext-bytes"),
		AAD:             []byte("aad-bytes"),
	}

	decoded, err := UnmarshalEnvelopeV1(e.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded.SenderID) != string(e.SenderID) {
		t.Fatalf("sender_id mismatch")
	}
	if string(decoded.RecipientID) != string(e.RecipientID) {
		t.Fatalf("recipient_id mismatch")
	}
	if decoded.MsgType != e.MsgType {
		t.Fatalf("msg_type: got %v, want %v", decoded.MsgType, e.MsgType)
	}
	if string(decoded.Ciphertext) != string(e.Ciphertext) {
		t.Fatalf("ciphertext mismatch")
	}
	if string(decoded.AAD) != string(e.AAD) {
		t.Fatalf("aad mismatch")
	}
}

func TestInviteRoundTripWithOptionalFieldOmitted(t *testing.T) {
	m := &InviteV1{
		DeviceID:         bytesOf(32, 0xaa),
		DeviceSignPub:    bytesOf(32, 0xbb),
		InviteSecretHash: bytesOf(32, 0xcc),
		ExpiresAt:        1760000600,
	}
	decoded, err := UnmarshalInviteV1(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ExpiresAt != m.ExpiresAt {
		t.Fatalf("expires_at: got %d, want %d", decoded.ExpiresAt, m.ExpiresAt)
	}
	if decoded.TransportHints != "" {
		t.Fatalf("expected empty transport_hints when omitted, got %q", decoded.TransportHints)
	}
}

func TestInviteRoundTripWithOptionalFieldPresent(t *testing.T) {
	m := &InviteV1{
		DeviceID:         bytesOf(32, 0xaa),
		DeviceSignPub:    bytesOf(32, 0xbb),
		InviteSecretHash: bytesOf(32, 0xcc),
		ExpiresAt:        1760000600,
		TransportHints:   "quic://example",
	}
	decoded, err := UnmarshalInviteV1(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.TransportHints != m.TransportHints {
		t.Fatalf("transport_hints: got %q, want %q", decoded.TransportHints, m.TransportHints)
	}
}

func TestPairRequestRoundTripPreservesBool(t *testing.T) {
	m := &PairRequestV1{
		OperatorID:      bytesOf(32, 0x01),
		OperatorSignPub: bytesOf(32, 0x02),
		OperatorKexPub:  bytesOf(32, 0x03),
		DeviceID:        bytesOf(32, 0x04),
		CreatedAt:       1760000005,
		RequestSAS:      true,
		PairProof:       bytesOf(32, 0x05),
	}
	decoded, err := UnmarshalPairRequestV1(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.RequestSAS {
		t.Fatalf("request_sas: got false, want true")
	}
	if string(decoded.PairProof) != string(m.PairProof) {
		t.Fatalf("pair_proof mismatch")
	}
}

func TestPairReceiptRoundTrip(t *testing.T) {
	m := &PairReceiptV1{
		DeviceID:           bytesOf(32, 0x11),
		OperatorID:         bytesOf(32, 0x22),
		DeviceSignPub:      bytesOf(32, 0x33),
		GrantedPermissions: 0x03,
		IssuedAt:           1760000010,
		ReceiptSignature:   bytesOf(64, 0x44),
	}
	decoded, err := UnmarshalPairReceiptV1(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.GrantedPermissions != m.GrantedPermissions {
		t.Fatalf("granted_permissions: got %#x, want %#x", decoded.GrantedPermissions, m.GrantedPermissions)
	}
	if len(decoded.ReceiptSignature) != 64 {
		t.Fatalf("receipt_signature length: got %d, want 64", len(decoded.ReceiptSignature))
	}
}

func TestSessionInitResponseRoundTripWithTicket(t *testing.T) {
	ticket := &SessionTicketV1{
		TicketID:        bytesOf(16, 0x01),
		SessionID:       bytesOf(32, 0x02),
		OperatorID:      bytesOf(32, 0x03),
		DeviceID:        bytesOf(32, 0x04),
		Permissions:     0x01,
		ExpiresAt:       1760003600,
		SessionBinding:  bytesOf(32, 0x05),
		DeviceSignPub:   bytesOf(32, 0x06),
		DeviceSignature: bytesOf(64, 0x07),
	}
	resp := &SessionInitResponseV1{IssuedTicket: ticket}

	decoded, err := UnmarshalSessionInitResponseV1(resp.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Error != nil {
		t.Fatalf("expected no error in response, got %+v", decoded.Error)
	}
	if decoded.IssuedTicket == nil {
		t.Fatalf("expected issued_ticket to be present")
	}
	if string(decoded.IssuedTicket.TicketID) != string(ticket.TicketID) {
		t.Fatalf("ticket_id mismatch")
	}
}

func TestSessionInitResponseRoundTripWithError(t *testing.T) {
	resp := &SessionInitResponseV1{Error: &ErrorV1{Code: 3, Message: "permission denied"}}

	decoded, err := UnmarshalSessionInitResponseV1(resp.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.IssuedTicket != nil {
		t.Fatalf("expected no ticket in an error response")
	}
	if decoded.Error == nil || decoded.Error.Code != 3 || decoded.Error.Message != "permission denied" {
		t.Fatalf("error field mismatch: %+v", decoded.Error)
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	m := &ErrorV1{Code: 1, Message: "rate limited"}
	encoded := m.Marshal()

	// Append an unknown field (number 99, varint) after the known fields;
	// the decoder must tolerate and skip it rather than erroring.
	encoded = appendUnknownVarintField(encoded, 99, 42)

	decoded, err := UnmarshalErrorV1(encoded)
	if err != nil {
		t.Fatalf("Unmarshal with trailing unknown field: %v", err)
	}
	if decoded.Code != 1 || decoded.Message != "rate limited" {
		t.Fatalf("known fields corrupted by unknown field: %+v", decoded)
	}
}

func bytesOf(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}
