package x3dh

import (
	"bytes"
	"fmt"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/util/memzero"
)

var (
	infoText = []byte("WhisperText")
	// discontinuity bytes prepended to the DH outputs
	padding = bytes.Repeat([]byte{0xFF}, 32)
)

// Secrets are the handshake outputs that seed the ratchet.
type Secrets struct {
	RootKey  []byte
	ChainKey []byte
}

// Initiator derives the shared secrets from our identity and base key against
// the peer's identity, signed pre-key and optional one-time pre-key.
func Initiator(
	ourIdentity domain.KeyPair,
	ourBase domain.KeyPair,
	theirIdentity domain.PublicKey,
	theirSignedPreKey domain.PublicKey,
	theirOneTimePreKey *domain.PublicKey,
) (Secrets, error) {
	pairs := []struct {
		priv domain.PrivateKey
		pub  domain.PublicKey
	}{
		{ourIdentity.Private, theirSignedPreKey}, // DH(IKA, SPKB)
		{ourBase.Private, theirIdentity},         // DH(EKA, IKB)
		{ourBase.Private, theirSignedPreKey},     // DH(EKA, SPKB)
	}
	if theirOneTimePreKey != nil {
		pairs = append(pairs, struct {
			priv domain.PrivateKey
			pub  domain.PublicKey
		}{ourBase.Private, *theirOneTimePreKey}) // DH(EKA, OPKB)
	}

	dhs := make([][32]byte, 0, len(pairs))
	for i, p := range pairs {
		dh, err := crypto.SharedSecret(p.priv, p.pub)
		if err != nil {
			return Secrets{}, fmt.Errorf("x3dh dh%d: %w", i+1, err)
		}
		dhs = append(dhs, dh)
	}
	return derive(dhs)
}

// Responder mirrors Initiator from the side holding the pre-keys.
func Responder(
	ourIdentity domain.KeyPair,
	ourSignedPreKey domain.KeyPair,
	ourOneTimePreKey *domain.KeyPair,
	theirIdentity domain.PublicKey,
	theirBase domain.PublicKey,
) (Secrets, error) {
	dh1, err := crypto.SharedSecret(ourSignedPreKey.Private, theirIdentity)
	if err != nil {
		return Secrets{}, fmt.Errorf("x3dh dh1: %w", err)
	}
	dh2, err := crypto.SharedSecret(ourIdentity.Private, theirBase)
	if err != nil {
		return Secrets{}, fmt.Errorf("x3dh dh2: %w", err)
	}
	dh3, err := crypto.SharedSecret(ourSignedPreKey.Private, theirBase)
	if err != nil {
		return Secrets{}, fmt.Errorf("x3dh dh3: %w", err)
	}
	dhs := [][32]byte{dh1, dh2, dh3}
	if ourOneTimePreKey != nil {
		dh4, err := crypto.SharedSecret(ourOneTimePreKey.Private, theirBase)
		if err != nil {
			return Secrets{}, fmt.Errorf("x3dh dh4: %w", err)
		}
		dhs = append(dhs, dh4)
	}
	return derive(dhs)
}

// VerifySignedPreKey checks the identity signature over the serialized signed pre-key.
func VerifySignedPreKey(identity, signedPreKey domain.PublicKey, sig []byte) error {
	if !crypto.Verify(identity, signedPreKey.Serialize(), sig) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func derive(dhs [][32]byte) (Secrets, error) {
	master := make([]byte, 0, 32*(len(dhs)+1))
	master = append(master, padding...)
	for i := range dhs {
		master = append(master, dhs[i][:]...)
		memzero.Zero(dhs[i][:])
	}
	blocks, err := crypto.DeriveBlocks(master, nil, infoText, 2)
	memzero.Zero(master)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{RootKey: blocks[0], ChainKey: blocks[1]}, nil
}
