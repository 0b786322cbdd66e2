// Package envelope implements sealed transport envelopes: each message
// between two ZRC principals is HPKE-sealed (X25519 + HKDF-SHA256 +
// ChaCha20-Poly1305) under the recipient's long-term key-agreement
// public key, with associated data binding the sender, recipient, and
// message type into the authentication tag.
package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/transcript"
)

// hpkeInfo is the fixed HPKE application info string binding every ZRC
// envelope to this protocol version, independent of the per-message AAD.
const hpkeInfo = "zrc_envelope_v1"

var suite = hpke.NewSuite(
	hpke.KEM_X25519_HKDF_SHA256,
	hpke.KDF_HKDF_SHA256,
	hpke.AEAD_ChaCha20Poly1305,
)

// ErrOpenFailed is returned uniformly for every envelope-open failure —
// recipient mismatch, AEAD verification failure, or AAD mismatch all
// collapse to this single error so a peer attacker cannot learn which
// check failed ("failure is uniform... do not leak which
// check failed").
var ErrOpenFailed = errors.New("envelope: decryption failed")

// Envelope is a sealed unit of transport.
type Envelope struct {
	SenderID        identity.ID
	RecipientID     identity.ID
	MsgType         uint32
	EphemeralPublic []byte
	Ciphertext      []byte
	AAD             []byte
}

// buildAAD derives the associated data binding (sender, recipient,
// msg_type) into the envelope's authentication tag.
func buildAAD(sender, recipient identity.ID, msgType uint32) []byte {
	aad := make([]byte, 0, identity.IDSize*2+4)
	aad = append(aad, sender.Bytes()...)
	aad = append(aad, recipient.Bytes()...)
	var mt [4]byte
	binary.BigEndian.PutUint32(mt[:], msgType)
	return append(aad, mt[:]...)
}

// Seal encrypts plaintext so that only the holder of the private key
// matching recipientKexPub can open it. A fresh ephemeral X25519
// keypair is generated per call.
func Seal(senderID, recipientID identity.ID, msgType uint32, recipientKexPub *ecdh.PublicKey, plaintext []byte) (*Envelope, error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	recipientPub, err := kem.UnmarshalBinaryPublicKey(recipientKexPub.Bytes())
	if err != nil {
		return nil, fmt.Errorf("envelope: unmarshal recipient public key: %w", err)
	}

	sender, err := suite.NewSender(recipientPub, []byte(hpkeInfo))
	if err != nil {
		return nil, fmt.Errorf("envelope: new sender: %w", err)
	}

	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("envelope: hpke setup: %w", err)
	}

	aad := buildAAD(senderID, recipientID, msgType)
	ciphertext, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("envelope: seal: %w", err)
	}

	return &Envelope{
		SenderID:        senderID,
		RecipientID:     recipientID,
		MsgType:         msgType,
		EphemeralPublic: enc,
		Ciphertext:      ciphertext,
		AAD:             aad,
	}, nil
}

// Open decrypts env using the local identity's key-agreement private
// key. It rejects if the declared recipient does not match localID, if
// the AAD does not match the declared (sender, recipient, msg_type)
// tuple, or if AEAD verification fails — uniformly, via ErrOpenFailed.
func Open(local *identity.Keys, env *Envelope) ([]byte, error) {
	if env.RecipientID != local.ID {
		return nil, ErrOpenFailed
	}

	expectedAAD := buildAAD(env.SenderID, env.RecipientID, env.MsgType)
	if !transcript.ConstantTimeEqual(expectedAAD, env.AAD) {
		return nil, ErrOpenFailed
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(local.KexPriv.Bytes())
	if err != nil {
		return nil, ErrOpenFailed
	}

	receiver, err := suite.NewReceiver(skR, []byte(hpkeInfo))
	if err != nil {
		return nil, ErrOpenFailed
	}

	opener, err := receiver.Setup(env.EphemeralPublic)
	if err != nil {
		return nil, ErrOpenFailed
	}

	plaintext, err := opener.Open(env.Ciphertext, expectedAAD)
	if err != nil {
		return nil, ErrOpenFailed
	}

	return plaintext, nil
}
