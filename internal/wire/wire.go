// Package wire encodes and decodes the ZRC wire messages using raw
// protobuf wire-format primitives (field tags and varint/length-delimited
// encoding), matching the bit-exact field layouts the protocol pins.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MsgType enumerates envelope payload kinds.
type MsgType uint32

const (
	MsgUnspecified MsgType = iota
	MsgInvite
	MsgPairRequest
	MsgPairReceipt
	MsgSessionInitRequest
	MsgSessionInitResponse
	MsgError
)

// Field numbers for EnvelopeV1. Fixed; never renumber.
const (
	fieldEnvelopeSenderID    = 1
	fieldEnvelopeRecipientID = 2
	fieldEnvelopeMsgType     = 3
	fieldEnvelopeEphemeral   = 4
	fieldEnvelopeCiphertext  = 5
	fieldEnvelopeAAD         = 6
)

// EnvelopeV1 is the wire representation of a sealed envelope.
type EnvelopeV1 struct {
	SenderID        []byte
	RecipientID     []byte
	MsgType         MsgType
	EphemeralPublic []byte
	Ciphertext      []byte
	AAD             []byte
}

// Marshal encodes e using protobuf wire format.
func (e *EnvelopeV1) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEnvelopeSenderID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.SenderID)
	b = protowire.AppendTag(b, fieldEnvelopeRecipientID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.RecipientID)
	b = protowire.AppendTag(b, fieldEnvelopeMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.MsgType))
	b = protowire.AppendTag(b, fieldEnvelopeEphemeral, protowire.BytesType)
	b = protowire.AppendBytes(b, e.EphemeralPublic)
	b = protowire.AppendTag(b, fieldEnvelopeCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Ciphertext)
	b = protowire.AppendTag(b, fieldEnvelopeAAD, protowire.BytesType)
	b = protowire.AppendBytes(b, e.AAD)
	return b
}

// UnmarshalEnvelopeV1 decodes a wire-format EnvelopeV1.
func UnmarshalEnvelopeV1(data []byte) (*EnvelopeV1, error) {
	e := &EnvelopeV1{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldEnvelopeSenderID:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: sender_id: %w", protowire.ParseError(m))
			}
			e.SenderID = append([]byte(nil), v...)
			data = data[m:]
		case fieldEnvelopeRecipientID:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: recipient_id: %w", protowire.ParseError(m))
			}
			e.RecipientID = append([]byte(nil), v...)
			data = data[m:]
		case fieldEnvelopeMsgType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: msg_type: %w", protowire.ParseError(m))
			}
			e.MsgType = MsgType(v)
			data = data[m:]
		case fieldEnvelopeEphemeral:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: ephemeral_pub: %w", protowire.ParseError(m))
			}
			e.EphemeralPublic = append([]byte(nil), v...)
			data = data[m:]
		case fieldEnvelopeCiphertext:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: ciphertext: %w", protowire.ParseError(m))
			}
			e.Ciphertext = append([]byte(nil), v...)
			data = data[m:]
		case fieldEnvelopeAAD:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: aad: %w", protowire.ParseError(m))
			}
			e.AAD = append([]byte(nil), v...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("wire: skip unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return e, nil
}
