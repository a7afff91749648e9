package relay

import (
	"whisper/internal/crypto"
	"whisper/internal/domain"
)

// Public keys travel in their 33 byte type-tagged form.

type preKeyJSON struct {
	ID        uint32 `json:"id" validate:"required"`
	PublicKey []byte `json:"public_key" validate:"len=33"`
}

type keysJSON struct {
	RegistrationID uint32       `json:"registration_id" validate:"lte=16383"`
	IdentityKey    []byte       `json:"identity_key" validate:"len=33"`
	SignedPreKeyID uint32       `json:"signed_pre_key_id" validate:"required"`
	SignedPreKey   []byte       `json:"signed_pre_key" validate:"len=33"`
	Signature      []byte       `json:"signed_pre_key_signature" validate:"len=64"`
	PreKeys        []preKeyJSON `json:"pre_keys" validate:"dive"`
}

type bundleJSON struct {
	RegistrationID uint32      `json:"registration_id"`
	IdentityKey    []byte      `json:"identity_key"`
	SignedPreKeyID uint32      `json:"signed_pre_key_id"`
	SignedPreKey   []byte      `json:"signed_pre_key"`
	Signature      []byte      `json:"signed_pre_key_signature"`
	PreKey         *preKeyJSON `json:"pre_key,omitempty"`
}

type sentJSON struct {
	ID string `json:"id"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func encodeKeys(k domain.PublishedKeys) keysJSON {
	out := keysJSON{
		RegistrationID: uint32(k.RegistrationID),
		IdentityKey:    k.IdentityKey.Serialize(),
		SignedPreKeyID: uint32(k.SignedPreKeyID),
		SignedPreKey:   k.SignedPreKey.Serialize(),
		Signature:      k.SignedPreKeySignature,
		PreKeys:        make([]preKeyJSON, len(k.PreKeys)),
	}
	for i, pk := range k.PreKeys {
		out.PreKeys[i] = preKeyJSON{ID: uint32(pk.ID), PublicKey: pk.PublicKey.Serialize()}
	}
	return out
}

func (k *keysJSON) decode(addr domain.Address) (domain.PublishedKeys, error) {
	out := domain.PublishedKeys{
		Address:               addr,
		RegistrationID:        domain.RegistrationID(k.RegistrationID),
		SignedPreKeyID:        domain.SignedPreKeyID(k.SignedPreKeyID),
		SignedPreKeySignature: k.Signature,
	}
	var err error
	if out.IdentityKey, err = crypto.DecodePublicKey(k.IdentityKey); err != nil {
		return domain.PublishedKeys{}, err
	}
	if out.SignedPreKey, err = crypto.DecodePublicKey(k.SignedPreKey); err != nil {
		return domain.PublishedKeys{}, err
	}
	for _, pk := range k.PreKeys {
		pub, err := crypto.DecodePublicKey(pk.PublicKey)
		if err != nil {
			return domain.PublishedKeys{}, err
		}
		out.PreKeys = append(out.PreKeys, domain.PreKeyPublic{ID: domain.PreKeyID(pk.ID), PublicKey: pub})
	}
	return out, nil
}

func encodeBundle(b domain.PreKeyBundle) bundleJSON {
	out := bundleJSON{
		RegistrationID: uint32(b.RegistrationID),
		IdentityKey:    b.IdentityKey.Serialize(),
		SignedPreKeyID: uint32(b.SignedPreKeyID),
		SignedPreKey:   b.SignedPreKey.Serialize(),
		Signature:      b.SignedPreKeySignature,
	}
	if b.PreKey != nil {
		out.PreKey = &preKeyJSON{ID: uint32(b.PreKey.ID), PublicKey: b.PreKey.PublicKey.Serialize()}
	}
	return out
}

func (b *bundleJSON) decode(addr domain.Address) (domain.PreKeyBundle, error) {
	out := domain.PreKeyBundle{
		Address:               addr,
		RegistrationID:        domain.RegistrationID(b.RegistrationID),
		SignedPreKeyID:        domain.SignedPreKeyID(b.SignedPreKeyID),
		SignedPreKeySignature: b.Signature,
	}
	var err error
	if out.IdentityKey, err = crypto.DecodePublicKey(b.IdentityKey); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if out.SignedPreKey, err = crypto.DecodePublicKey(b.SignedPreKey); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if b.PreKey != nil {
		pub, err := crypto.DecodePublicKey(b.PreKey.PublicKey)
		if err != nil {
			return domain.PreKeyBundle{}, err
		}
		out.PreKey = &domain.PreKeyPublic{ID: domain.PreKeyID(b.PreKey.ID), PublicKey: pub}
	}
	return out, nil
}
