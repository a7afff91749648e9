package types

// PublicKeySize is the serialized size of a public key: type byte plus u-coordinate.
const PublicKeySize = 33

// KeyTypeDJB tags serialized Curve25519 public keys.
const KeyTypeDJB byte = 0x05

// PublicKey is a Curve25519 public point (Montgomery u-coordinate).
type PublicKey [32]byte

// Slice returns the key as a []byte.
func (p PublicKey) Slice() []byte { return p[:] }

// Serialize returns the version-tagged 33 byte encoding.
func (p PublicKey) Serialize() []byte {
	out := make([]byte, PublicKeySize)
	out[0] = KeyTypeDJB
	copy(out[1:], p[:])
	return out
}

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

// PrivateKey is a clamped Curve25519 scalar.
type PrivateKey [32]byte

// Slice returns the key as a []byte.
func (k PrivateKey) Slice() []byte { return k[:] }

// KeyPair couples a private scalar with its public point.
type KeyPair struct {
	Private PrivateKey `json:"private"`
	Public  PublicKey  `json:"public"`
}

// IdentityKeyPair is the long-term key pair of an installation.
type IdentityKeyPair = KeyPair

// MessageKeys are derived per message and discarded after a single use.
type MessageKeys struct {
	CipherKey []byte
	MacKey    []byte
	IV        []byte
	Counter   uint32
}
