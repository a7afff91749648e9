package types

// SignedPreKey is a medium-term key pair signed by the identity key.
type SignedPreKey struct {
	ID        SignedPreKeyID `cbor:"id"`
	KeyPair   KeyPair        `cbor:"key_pair"`
	Signature []byte         `cbor:"signature"`
	Created   int64          `cbor:"created"`
}

// OneTimePreKey is consumed by at most one session establishment.
type OneTimePreKey struct {
	ID      PreKeyID `cbor:"id"`
	KeyPair KeyPair  `cbor:"key_pair"`
}

// PreKeyPublic is the published half of a one-time pre-key.
type PreKeyPublic struct {
	ID        PreKeyID
	PublicKey PublicKey
}

// PreKeyBundle is what an initiator fetches to start a session with a peer device.
type PreKeyBundle struct {
	Address               Address
	RegistrationID        RegistrationID
	IdentityKey           PublicKey
	SignedPreKeyID        SignedPreKeyID
	SignedPreKey          PublicKey
	SignedPreKeySignature []byte
	PreKey                *PreKeyPublic // nil when the peer has run out
}

// PublishedKeys is everything a device uploads to the relay.
type PublishedKeys struct {
	Address               Address
	RegistrationID        RegistrationID
	IdentityKey           PublicKey
	SignedPreKeyID        SignedPreKeyID
	SignedPreKey          PublicKey
	SignedPreKeySignature []byte
	PreKeys               []PreKeyPublic
}
