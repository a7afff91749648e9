package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"

	"whisper/internal/domain"
)

// SignatureSize is the length of an XEdDSA signature.
const SignatureSize = 64

// nonce prefix: 0xFE followed by 31 bytes of 0xFF
var xeddsaPrefix = func() []byte {
	p := make([]byte, 32)
	p[0] = 0xFE
	for i := 1; i < len(p); i++ {
		p[i] = 0xFF
	}
	return p
}()

// Sign produces a deterministic XEdDSA signature over msg with a Curve25519 private key.
// The signature verifies as Ed25519 under the Edwards form of the matching public key.
func Sign(priv domain.PrivateKey, msg []byte) ([]byte, error) {
	a, err := edwards25519.NewScalar().SetBytesWithClamping(priv[:])
	if err != nil {
		return nil, err
	}
	A := new(edwards25519.Point).ScalarBaseMult(a)
	aBytes := A.Bytes()
	if aBytes[31]&0x80 != 0 {
		a.Negate(a)
		aBytes = A.Negate(A).Bytes()
	}

	h := sha512.New()
	h.Write(xeddsaPrefix)
	h.Write(a.Bytes())
	h.Write(msg)
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h.Reset()
	h.Write(R)
	h.Write(aBytes)
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	s := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, R...)
	return append(sig, s.Bytes()...), nil
}

// Verify checks an XEdDSA signature against a Curve25519 public key.
func Verify(pub domain.PublicKey, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	edPub, ok := edwardsFromMontgomery(pub)
	if !ok {
		return false
	}
	return ed25519.Verify(edPub, msg, sig)
}

// edwardsFromMontgomery maps u to y = (u-1)/(u+1) with the sign bit cleared.
func edwardsFromMontgomery(pub domain.PublicKey) (ed25519.PublicKey, bool) {
	u, err := new(field.Element).SetBytes(pub[:])
	if err != nil {
		return nil, false
	}
	one := new(field.Element).One()
	den := new(field.Element).Add(u, one)
	if den.Equal(new(field.Element).Zero()) == 1 {
		return nil, false
	}
	num := new(field.Element).Subtract(u, one)
	y := new(field.Element).Multiply(num, new(field.Element).Invert(den))
	out := y.Bytes()
	out[31] &= 0x7F
	return ed25519.PublicKey(out), true
}
