package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature means a signed pre-key signature did not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUntrustedIdentity means a peer presented an identity key different from the one on record.
	ErrUntrustedIdentity = errors.New("untrusted identity key")
	// ErrInvalidPoint means a public key was malformed or of low order.
	ErrInvalidPoint = errors.New("invalid public key")
	// ErrAuthentication means a MAC did not match or the ciphertext did not decrypt.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrDuplicateMessage means the message counter was already consumed.
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrNoSession means a ratchet message arrived with no established session.
	ErrNoSession = errors.New("no session")
	// ErrPreKeyNotFound means a referenced pre-key is not held (consumed or removed).
	ErrPreKeyNotFound = errors.New("pre-key not found")
	// ErrStaleSession means a handshake references keys this installation never issued.
	ErrStaleSession = errors.New("stale session")
	// ErrInvalidMessage means the envelope could not be parsed.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrTooManySkipped means a message is too far ahead of its chain.
	ErrTooManySkipped = errors.New("too many skipped messages")
)

// PreKeyKind says which kind of pre-key a PreKeyNotFoundError refers to.
type PreKeyKind string

const (
	KindSignedPreKey  PreKeyKind = "signed pre-key"
	KindOneTimePreKey PreKeyKind = "one-time pre-key"
)

// PreKeyNotFoundError reports a missing pre-key by kind and id. It matches ErrPreKeyNotFound.
type PreKeyNotFoundError struct {
	Kind PreKeyKind
	ID   uint32
}

func (e *PreKeyNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrPreKeyNotFound) match.
func (e *PreKeyNotFoundError) Is(target error) bool { return target == ErrPreKeyNotFound }

var rejections = []error{
	ErrAuthentication,
	ErrDuplicateMessage,
	ErrNoSession,
	ErrPreKeyNotFound,
	ErrStaleSession,
	ErrInvalidMessage,
	ErrInvalidPoint,
	ErrInvalidSignature,
	ErrUntrustedIdentity,
	ErrTooManySkipped,
}

// IsRejection reports whether err rejects a single message for good. Such
// errors are surfaced to the caller and never retried.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
