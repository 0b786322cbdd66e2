package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// InviteV1 field numbers.
const (
	fieldInviteDeviceID     = 1
	fieldInviteDeviceSign   = 2
	fieldInviteSecretHash   = 3
	fieldInviteExpiresAt    = 4
	fieldInviteTransportHints = 5
)

// InviteV1 is the wire-carried, secret-free half of an Invite.
type InviteV1 struct {
	DeviceID         []byte
	DeviceSignPub    []byte
	InviteSecretHash []byte
	ExpiresAt        uint64
	TransportHints   string
}

func (m *InviteV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldInviteDeviceID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceID)
	b = protowire.AppendTag(b, fieldInviteDeviceSign, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceSignPub)
	b = protowire.AppendTag(b, fieldInviteSecretHash, protowire.BytesType)
	b = protowire.AppendBytes(b, m.InviteSecretHash)
	b = protowire.AppendTag(b, fieldInviteExpiresAt, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ExpiresAt)
	if m.TransportHints != "" {
		b = protowire.AppendTag(b, fieldInviteTransportHints, protowire.BytesType)
		b = protowire.AppendString(b, m.TransportHints)
	}
	return b
}

func UnmarshalInviteV1(data []byte) (*InviteV1, error) {
	m := &InviteV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldInviteDeviceID:
			v, n, err := consumeBytesField("device_id", d)
			m.DeviceID = v
			return n, err
		case fieldInviteDeviceSign:
			v, n, err := consumeBytesField("device_sign_pub", d)
			m.DeviceSignPub = v
			return n, err
		case fieldInviteSecretHash:
			v, n, err := consumeBytesField("invite_secret_hash", d)
			m.InviteSecretHash = v
			return n, err
		case fieldInviteExpiresAt:
			v, n, err := consumeVarintField("expires_at", d)
			m.ExpiresAt = v
			return n, err
		case fieldInviteTransportHints:
			v, n := protowire.ConsumeString(d)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.TransportHints = v
			return n, nil
		}
		return -1, nil
	})
	return m, err
}

// PairRequestV1 field numbers.
const (
	fieldPairReqOperatorID  = 1
	fieldPairReqOperatorSign = 2
	fieldPairReqOperatorKex  = 3
	fieldPairReqDeviceID     = 4
	fieldPairReqCreatedAt    = 5
	fieldPairReqRequestSAS   = 6
	fieldPairReqProof        = 7
)

type PairRequestV1 struct {
	OperatorID      []byte
	OperatorSignPub []byte
	OperatorKexPub  []byte
	DeviceID        []byte
	CreatedAt       uint64
	RequestSAS      bool
	PairProof       []byte
}

func (m *PairRequestV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPairReqOperatorID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorID)
	b = protowire.AppendTag(b, fieldPairReqOperatorSign, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorSignPub)
	b = protowire.AppendTag(b, fieldPairReqOperatorKex, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorKexPub)
	b = protowire.AppendTag(b, fieldPairReqDeviceID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceID)
	b = protowire.AppendTag(b, fieldPairReqCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CreatedAt)
	b = protowire.AppendTag(b, fieldPairReqRequestSAS, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.RequestSAS))
	b = protowire.AppendTag(b, fieldPairReqProof, protowire.BytesType)
	b = protowire.AppendBytes(b, m.PairProof)
	return b
}

func UnmarshalPairRequestV1(data []byte) (*PairRequestV1, error) {
	m := &PairRequestV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldPairReqOperatorID:
			v, n, err := consumeBytesField("operator_id", d)
			m.OperatorID = v
			return n, err
		case fieldPairReqOperatorSign:
			v, n, err := consumeBytesField("operator_sign_pub", d)
			m.OperatorSignPub = v
			return n, err
		case fieldPairReqOperatorKex:
			v, n, err := consumeBytesField("operator_kex_pub", d)
			m.OperatorKexPub = v
			return n, err
		case fieldPairReqDeviceID:
			v, n, err := consumeBytesField("device_id", d)
			m.DeviceID = v
			return n, err
		case fieldPairReqCreatedAt:
			v, n, err := consumeVarintField("created_at", d)
			m.CreatedAt = v
			return n, err
		case fieldPairReqRequestSAS:
			v, n, err := consumeVarintField("request_sas", d)
			m.RequestSAS = v != 0
			return n, err
		case fieldPairReqProof:
			v, n, err := consumeBytesField("pair_proof", d)
			m.PairProof = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

// PairReceiptV1 field numbers.
const (
	fieldPairRcptDeviceID     = 1
	fieldPairRcptOperatorID   = 2
	fieldPairRcptDeviceSign   = 3
	fieldPairRcptPermissions  = 4
	fieldPairRcptIssuedAt     = 5
	fieldPairRcptSignature    = 6
)

type PairReceiptV1 struct {
	DeviceID          []byte
	OperatorID        []byte
	DeviceSignPub     []byte
	GrantedPermissions uint32
	IssuedAt          uint64
	ReceiptSignature  []byte
}

func (m *PairReceiptV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPairRcptDeviceID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceID)
	b = protowire.AppendTag(b, fieldPairRcptOperatorID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorID)
	b = protowire.AppendTag(b, fieldPairRcptDeviceSign, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceSignPub)
	b = protowire.AppendTag(b, fieldPairRcptPermissions, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.GrantedPermissions))
	b = protowire.AppendTag(b, fieldPairRcptIssuedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, m.IssuedAt)
	b = protowire.AppendTag(b, fieldPairRcptSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, m.ReceiptSignature)
	return b
}

func UnmarshalPairReceiptV1(data []byte) (*PairReceiptV1, error) {
	m := &PairReceiptV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldPairRcptDeviceID:
			v, n, err := consumeBytesField("device_id", d)
			m.DeviceID = v
			return n, err
		case fieldPairRcptOperatorID:
			v, n, err := consumeBytesField("operator_id", d)
			m.OperatorID = v
			return n, err
		case fieldPairRcptDeviceSign:
			v, n, err := consumeBytesField("device_sign_pub", d)
			m.DeviceSignPub = v
			return n, err
		case fieldPairRcptPermissions:
			v, n, err := consumeVarintField("granted_permissions", d)
			m.GrantedPermissions = uint32(v)
			return n, err
		case fieldPairRcptIssuedAt:
			v, n, err := consumeVarintField("issued_at", d)
			m.IssuedAt = v
			return n, err
		case fieldPairRcptSignature:
			v, n, err := consumeBytesField("receipt_signature", d)
			m.ReceiptSignature = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

// SessionInitRequestV1 field numbers.
const (
	fieldSessReqOperatorID   = 1
	fieldSessReqDeviceID     = 2
	fieldSessReqPermissions  = 3
	fieldSessReqEphemeralKex = 4
	fieldSessReqCreatedAt    = 5
	fieldSessReqBindingNonce = 6
	fieldSessReqSignature    = 7
)

type SessionInitRequestV1 struct {
	OperatorID          []byte
	DeviceID             []byte
	RequestedPermissions uint32
	EphemeralKexPub      []byte
	CreatedAt            uint64
	TicketBindingNonce   []byte
	RequestSignature     []byte
}

func (m *SessionInitRequestV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSessReqOperatorID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorID)
	b = protowire.AppendTag(b, fieldSessReqDeviceID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceID)
	b = protowire.AppendTag(b, fieldSessReqPermissions, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.RequestedPermissions))
	b = protowire.AppendTag(b, fieldSessReqEphemeralKex, protowire.BytesType)
	b = protowire.AppendBytes(b, m.EphemeralKexPub)
	b = protowire.AppendTag(b, fieldSessReqCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CreatedAt)
	b = protowire.AppendTag(b, fieldSessReqBindingNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, m.TicketBindingNonce)
	b = protowire.AppendTag(b, fieldSessReqSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, m.RequestSignature)
	return b
}

func UnmarshalSessionInitRequestV1(data []byte) (*SessionInitRequestV1, error) {
	m := &SessionInitRequestV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldSessReqOperatorID:
			v, n, err := consumeBytesField("operator_id", d)
			m.OperatorID = v
			return n, err
		case fieldSessReqDeviceID:
			v, n, err := consumeBytesField("device_id", d)
			m.DeviceID = v
			return n, err
		case fieldSessReqPermissions:
			v, n, err := consumeVarintField("requested_permissions", d)
			m.RequestedPermissions = uint32(v)
			return n, err
		case fieldSessReqEphemeralKex:
			v, n, err := consumeBytesField("ephemeral_kex_pub", d)
			m.EphemeralKexPub = v
			return n, err
		case fieldSessReqCreatedAt:
			v, n, err := consumeVarintField("created_at", d)
			m.CreatedAt = v
			return n, err
		case fieldSessReqBindingNonce:
			v, n, err := consumeBytesField("ticket_binding_nonce", d)
			m.TicketBindingNonce = v
			return n, err
		case fieldSessReqSignature:
			v, n, err := consumeBytesField("request_signature", d)
			m.RequestSignature = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

// SessionTicketV1 field numbers.
const (
	fieldTicketID              = 1
	fieldTicketSessionID        = 2
	fieldTicketOperatorID       = 3
	fieldTicketDeviceID         = 4
	fieldTicketPermissions      = 5
	fieldTicketExpiresAt        = 6
	fieldTicketSessionBinding   = 7
	fieldTicketDeviceSignPub    = 8
	fieldTicketDeviceSignature  = 9
)

type SessionTicketV1 struct {
	TicketID        []byte
	SessionID       []byte
	OperatorID      []byte
	DeviceID        []byte
	Permissions     uint32
	ExpiresAt       uint64
	SessionBinding  []byte
	DeviceSignPub   []byte
	DeviceSignature []byte
}

func (m *SessionTicketV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTicketID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.TicketID)
	b = protowire.AppendTag(b, fieldTicketSessionID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.SessionID)
	b = protowire.AppendTag(b, fieldTicketOperatorID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OperatorID)
	b = protowire.AppendTag(b, fieldTicketDeviceID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceID)
	b = protowire.AppendTag(b, fieldTicketPermissions, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Permissions))
	b = protowire.AppendTag(b, fieldTicketExpiresAt, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ExpiresAt)
	b = protowire.AppendTag(b, fieldTicketSessionBinding, protowire.BytesType)
	b = protowire.AppendBytes(b, m.SessionBinding)
	b = protowire.AppendTag(b, fieldTicketDeviceSignPub, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceSignPub)
	b = protowire.AppendTag(b, fieldTicketDeviceSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, m.DeviceSignature)
	return b
}

func UnmarshalSessionTicketV1(data []byte) (*SessionTicketV1, error) {
	m := &SessionTicketV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldTicketID:
			v, n, err := consumeBytesField("ticket_id", d)
			m.TicketID = v
			return n, err
		case fieldTicketSessionID:
			v, n, err := consumeBytesField("session_id", d)
			m.SessionID = v
			return n, err
		case fieldTicketOperatorID:
			v, n, err := consumeBytesField("operator_id", d)
			m.OperatorID = v
			return n, err
		case fieldTicketDeviceID:
			v, n, err := consumeBytesField("device_id", d)
			m.DeviceID = v
			return n, err
		case fieldTicketPermissions:
			v, n, err := consumeVarintField("permissions", d)
			m.Permissions = uint32(v)
			return n, err
		case fieldTicketExpiresAt:
			v, n, err := consumeVarintField("expires_at", d)
			m.ExpiresAt = v
			return n, err
		case fieldTicketSessionBinding:
			v, n, err := consumeBytesField("session_binding", d)
			m.SessionBinding = v
			return n, err
		case fieldTicketDeviceSignPub:
			v, n, err := consumeBytesField("device_sign_pub", d)
			m.DeviceSignPub = v
			return n, err
		case fieldTicketDeviceSignature:
			v, n, err := consumeBytesField("device_signature", d)
			m.DeviceSignature = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

// ErrorV1 field numbers.
const (
	fieldErrorCode    = 1
	fieldErrorMessage = 2
)

type ErrorV1 struct {
	Code    uint32
	Message string
}

func (m *ErrorV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Code))
	b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
	b = protowire.AppendString(b, m.Message)
	return b
}

func UnmarshalErrorV1(data []byte) (*ErrorV1, error) {
	m := &ErrorV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldErrorCode:
			v, n, err := consumeVarintField("code", d)
			m.Code = uint32(v)
			return n, err
		case fieldErrorMessage:
			v, n := protowire.ConsumeString(d)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Message = v
			return n, nil
		}
		return -1, nil
	})
	return m, err
}

// SessionInitResponseV1 field numbers. Exactly one of IssuedTicket or
// Error is set, a tagged-union oneof.
const (
	fieldSessRespTicket = 1
	fieldSessRespError  = 2
)

type SessionInitResponseV1 struct {
	IssuedTicket *SessionTicketV1
	Error        *ErrorV1
}

func (m *SessionInitResponseV1) Marshal() []byte {
	var b []byte
	if m.IssuedTicket != nil {
		b = protowire.AppendTag(b, fieldSessRespTicket, protowire.BytesType)
		b = protowire.AppendBytes(b, m.IssuedTicket.Marshal())
	}
	if m.Error != nil {
		b = protowire.AppendTag(b, fieldSessRespError, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Error.Marshal())
	}
	return b
}

func UnmarshalSessionInitResponseV1(data []byte) (*SessionInitResponseV1, error) {
	m := &SessionInitResponseV1{}
	err := decodeFields(data, func(num protowire.Number, typ protowire.Type, d []byte) (int, error) {
		switch num {
		case fieldSessRespTicket:
			v, n, err := consumeBytesField("issued_ticket", d)
			if err != nil {
				return n, err
			}
			ticket, err := UnmarshalSessionTicketV1(v)
			if err != nil {
				return n, err
			}
			m.IssuedTicket = ticket
			return n, nil
		case fieldSessRespError:
			v, n, err := consumeBytesField("error", d)
			if err != nil {
				return n, err
			}
			wireErr, err := UnmarshalErrorV1(v)
			if err != nil {
				return n, err
			}
			m.Error = wireErr
			return n, nil
		}
		return -1, nil
	})
	return m, err
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
