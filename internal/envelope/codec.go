package envelope

import (
	"fmt"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/wire"
)

// Marshal encodes env in wire format, for handoff to a transport.
func Marshal(env *Envelope) []byte {
	return (&wire.EnvelopeV1{
		SenderID:        env.SenderID.Bytes(),
		RecipientID:     env.RecipientID.Bytes(),
		MsgType:         wire.MsgType(env.MsgType),
		EphemeralPublic: env.EphemeralPublic,
		Ciphertext:      env.Ciphertext,
		AAD:             env.AAD,
	}).Marshal()
}

// Unmarshal decodes a wire-format envelope. It does not verify
// anything cryptographic; Open still must be called to authenticate
// and decrypt the result.
func Unmarshal(data []byte) (*Envelope, error) {
	w, err := wire.UnmarshalEnvelopeV1(data)
	if err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	senderID, err := identity.FromBytes(w.SenderID)
	if err != nil {
		return nil, fmt.Errorf("envelope: sender_id: %w", err)
	}
	recipientID, err := identity.FromBytes(w.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("envelope: recipient_id: %w", err)
	}
	return &Envelope{
		SenderID:        senderID,
		RecipientID:     recipientID,
		MsgType:         uint32(w.MsgType),
		EphemeralPublic: w.EphemeralPublic,
		Ciphertext:      w.Ciphertext,
		AAD:             w.AAD,
	}, nil
}
