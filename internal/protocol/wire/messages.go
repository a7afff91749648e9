package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"whisper/internal/crypto"
	"whisper/internal/domain"
)

// RatchetMessage is the body of every in-session message.
type RatchetMessage struct {
	RatchetKey      domain.PublicKey
	Counter         uint32
	PreviousCounter uint32
	Ciphertext      []byte
}

// Seal serializes m as version || protobuf || mac, where the MAC binds both identities.
func (m *RatchetMessage) Seal(macKey []byte, sender, receiver domain.PublicKey) []byte {
	body := []byte{VersionByte}
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendBytes(body, m.RatchetKey.Serialize())
	body = protowire.AppendTag(body, 2, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(m.Counter))
	body = protowire.AppendTag(body, 3, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(m.PreviousCounter))
	body = protowire.AppendTag(body, 4, protowire.BytesType)
	body = protowire.AppendBytes(body, m.Ciphertext)

	mac := crypto.MAC(macKey, sender.Serialize(), receiver.Serialize(), body)
	return append(body, mac[:crypto.MACSize]...)
}

// SealedRatchetMessage is a parsed ratchet message whose MAC is not yet checked.
type SealedRatchetMessage struct {
	RatchetMessage
	body []byte
	mac  []byte
}

// Verify checks the truncated MAC in constant time.
func (s *SealedRatchetMessage) Verify(macKey []byte, sender, receiver domain.PublicKey) error {
	return crypto.VerifyMAC(macKey, s.mac, sender.Serialize(), receiver.Serialize(), s.body)
}

// ParseRatchetMessage decodes b without authenticating it.
func ParseRatchetMessage(b []byte) (*SealedRatchetMessage, error) {
	if err := checkVersion(b); err != nil {
		return nil, err
	}
	if len(b) < 1+crypto.MACSize {
		return nil, fmt.Errorf("%w: ratchet message too short", domain.ErrInvalidMessage)
	}
	body, mac := b[:len(b)-crypto.MACSize], b[len(b)-crypto.MACSize:]

	var (
		s                   = &SealedRatchetMessage{body: body, mac: mac}
		rawKey              []byte
		haveCounter, haveCT bool
	)
	err := walk(body[1:], func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch num {
		case 1:
			return consumeBytes(typ, v, &rawKey), true
		case 2:
			haveCounter = true
			return consumeUint32(typ, v, &s.Counter), true
		case 3:
			return consumeUint32(typ, v, &s.PreviousCounter), true
		case 4:
			haveCT = true
			return consumeBytes(typ, v, &s.Ciphertext), true
		}
		return 0, false
	})
	if err != nil {
		return nil, err
	}
	if rawKey == nil || !haveCounter || !haveCT {
		return nil, fmt.Errorf("%w: incomplete ratchet message", domain.ErrInvalidMessage)
	}
	if s.RatchetKey, err = crypto.DecodePublicKey(rawKey); err != nil {
		return nil, err
	}
	return s, nil
}

// PreKeyMessage is the handshake wrapper sent until the peer replies.
type PreKeyMessage struct {
	RegistrationID domain.RegistrationID
	HasPreKey      bool
	PreKeyID       domain.PreKeyID
	SignedPreKeyID domain.SignedPreKeyID
	BaseKey        domain.PublicKey
	IdentityKey    domain.PublicKey
	Message        []byte // a sealed ratchet message
}

// Marshal serializes m as version || protobuf.
func (m *PreKeyMessage) Marshal() []byte {
	b := []byte{VersionByte}
	if m.HasPreKey {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.PreKeyID))
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, m.BaseKey.Serialize())
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.IdentityKey.Serialize())
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Message)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.RegistrationID))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(m.SignedPreKeyID))
}

// ParsePreKeyMessage decodes a handshake message.
func ParsePreKeyMessage(b []byte) (*PreKeyMessage, error) {
	if err := checkVersion(b); err != nil {
		return nil, err
	}
	var (
		m                 = &PreKeyMessage{}
		baseKey, identity []byte
		preKeyID, regID   uint32
		signedID          uint32
		haveSigned        bool
	)
	err := walk(b[1:], func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch num {
		case 1:
			m.HasPreKey = true
			return consumeUint32(typ, v, &preKeyID), true
		case 2:
			return consumeBytes(typ, v, &baseKey), true
		case 3:
			return consumeBytes(typ, v, &identity), true
		case 4:
			return consumeBytes(typ, v, &m.Message), true
		case 5:
			return consumeUint32(typ, v, &regID), true
		case 6:
			haveSigned = true
			return consumeUint32(typ, v, &signedID), true
		}
		return 0, false
	})
	if err != nil {
		return nil, err
	}
	if baseKey == nil || identity == nil || m.Message == nil || !haveSigned {
		return nil, fmt.Errorf("%w: incomplete pre-key message", domain.ErrInvalidMessage)
	}
	if m.BaseKey, err = crypto.DecodePublicKey(baseKey); err != nil {
		return nil, err
	}
	if m.IdentityKey, err = crypto.DecodePublicKey(identity); err != nil {
		return nil, err
	}
	m.PreKeyID = domain.PreKeyID(preKeyID)
	m.RegistrationID = domain.RegistrationID(regID)
	m.SignedPreKeyID = domain.SignedPreKeyID(signedID)
	return m, nil
}
