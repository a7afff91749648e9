package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"whisper/internal/domain"
)

// GenerateKeyPair reads 32 bytes from r, clamps them and derives the public point.
// A nil r means crypto/rand.
func GenerateKeyPair(r io.Reader) (domain.KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var priv domain.PrivateKey
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return domain.KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPairFromPrivate(priv)
}

// KeyPairFromPrivate clamps priv and computes its public point.
func KeyPairFromPrivate(priv domain.PrivateKey) (domain.KeyPair, error) {
	Clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.KeyPair{}, err
	}
	var pub domain.PublicKey
	copy(pub[:], pb)
	return domain.KeyPair{Private: priv, Public: pub}, nil
}

// Clamp applies the RFC 7748 scalar clamping in place.
func Clamp(k *domain.PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// SharedSecret computes X25519(ourPrivate, theirPublic).
// Low-order points are rejected with domain.ErrInvalidPoint.
func SharedSecret(ourPrivate domain.PrivateKey, theirPublic domain.PublicKey) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(ourPrivate.Slice(), theirPublic.Slice())
	if err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrInvalidPoint, err)
	}
	copy(out[:], secret)
	return out, nil
}

var errKeyLength = errors.New("bad key length")

// DecodePublicKey parses the 33 byte type-tagged encoding.
func DecodePublicKey(b []byte) (domain.PublicKey, error) {
	var pub domain.PublicKey
	if len(b) != domain.PublicKeySize {
		return pub, fmt.Errorf("%w: %v %d", domain.ErrInvalidPoint, errKeyLength, len(b))
	}
	if b[0] != domain.KeyTypeDJB {
		return pub, fmt.Errorf("%w: unknown key type %#x", domain.ErrInvalidPoint, b[0])
	}
	copy(pub[:], b[1:])
	return pub, nil
}
