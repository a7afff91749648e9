package types

// EnvelopeType tags the body of an Envelope.
type EnvelopeType uint8

const (
	// EnvelopeCiphertext carries a ratchet message.
	EnvelopeCiphertext EnvelopeType = 1
	// EnvelopePreKey carries a handshake message wrapping a ratchet message.
	EnvelopePreKey EnvelopeType = 3
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeCiphertext:
		return "ciphertext"
	case EnvelopePreKey:
		return "prekey"
	default:
		return "unknown"
	}
}

// Envelope is what the transport carries between devices.
type Envelope struct {
	ID          string       `json:"id,omitempty"`
	Type        EnvelopeType `json:"type" validate:"oneof=1 3"`
	Source      Address      `json:"source"`
	Destination Address      `json:"destination"`
	Body        []byte       `json:"body" validate:"required"`
	Timestamp   int64        `json:"timestamp"`
}

// DecryptedMessage is what the driver returns for an inbound envelope.
type DecryptedMessage struct {
	ID         string
	From       Address
	Body       []byte
	EndSession bool
	Timestamp  int64
}
