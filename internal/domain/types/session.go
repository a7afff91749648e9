package types

// SessionStatus is the lifecycle state of a SessionRecord.
type SessionStatus uint8

const (
	StatusUninitialized SessionStatus = iota
	StatusEstablished
	StatusClosed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusEstablished:
		return "established"
	case StatusClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// SendingChain is our current ratchet key pair and the chain derived from it.
type SendingChain struct {
	RatchetKey KeyPair `cbor:"ratchet_key"`
	ChainKey   []byte  `cbor:"chain_key"`
	Counter    uint32  `cbor:"counter"`
}

// ReceivingChain follows one of the peer's ratchet public keys.
// Counter is the next counter expected on the chain.
type ReceivingChain struct {
	RatchetKey PublicKey `cbor:"ratchet_key"`
	ChainKey   []byte    `cbor:"chain_key"`
	Counter    uint32    `cbor:"counter"`
}

// SkippedKey is a not-yet-consumed message key seed kept for reordered delivery.
type SkippedKey struct {
	RatchetKey PublicKey `cbor:"ratchet_key"`
	Counter    uint32    `cbor:"counter"`
	Seed       []byte    `cbor:"seed"`
}

// PendingPreKey marks a session whose outgoing messages still carry the handshake.
type PendingPreKey struct {
	HasPreKey      bool           `cbor:"has_pre_key"`
	PreKeyID       PreKeyID       `cbor:"pre_key_id"`
	SignedPreKeyID SignedPreKeyID `cbor:"signed_pre_key_id"`
	BaseKey        PublicKey      `cbor:"base_key"`
}

// SessionRecord is the per-peer-device double ratchet state.
type SessionRecord struct {
	Version              uint8            `cbor:"version"`
	Status               SessionStatus    `cbor:"status"`
	LocalIdentity        PublicKey        `cbor:"local_identity"`
	RemoteIdentity       PublicKey        `cbor:"remote_identity"`
	LocalRegistrationID  RegistrationID   `cbor:"local_registration_id"`
	RemoteRegistrationID RegistrationID   `cbor:"remote_registration_id"`
	BaseKey              PublicKey        `cbor:"base_key"`
	RootKey              []byte           `cbor:"root_key"`
	Sending              SendingChain     `cbor:"sending"`
	Receiving            []ReceivingChain `cbor:"receiving"`
	PreviousCounter      uint32           `cbor:"previous_counter"`
	Skipped              []SkippedKey     `cbor:"skipped"`
	Pending              *PendingPreKey   `cbor:"pending,omitempty"`
}

// Clone returns a deep copy so a failed step never touches the stored record.
func (r *SessionRecord) Clone() *SessionRecord {
	c := *r
	c.RootKey = cloneBytes(r.RootKey)
	c.Sending.ChainKey = cloneBytes(r.Sending.ChainKey)
	if r.Receiving != nil {
		c.Receiving = make([]ReceivingChain, len(r.Receiving))
		for i, ch := range r.Receiving {
			ch.ChainKey = cloneBytes(ch.ChainKey)
			c.Receiving[i] = ch
		}
	}
	if r.Skipped != nil {
		c.Skipped = make([]SkippedKey, len(r.Skipped))
		for i, sk := range r.Skipped {
			sk.Seed = cloneBytes(sk.Seed)
			c.Skipped[i] = sk
		}
	}
	if r.Pending != nil {
		p := *r.Pending
		c.Pending = &p
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
