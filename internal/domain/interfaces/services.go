package interfaces

import (
	"context"

	domaintypes "whisper/internal/domain/types"
)

// SessionEngine establishes sessions and runs the double ratchet.
type SessionEngine interface {
	Status(ctx context.Context, peer domaintypes.Address) (domaintypes.SessionStatus, error)
	EstablishOutgoing(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	Encrypt(ctx context.Context, peer domaintypes.Address, content []byte) (domaintypes.Envelope, error)
	Decrypt(ctx context.Context, env domaintypes.Envelope) (content []byte, consumed bool, err error)
	Close(ctx context.Context, peer domaintypes.Address) error
}

// PreKeyService publishes and maintains our pre-keys.
type PreKeyService interface {
	Register(ctx context.Context) error
	Rotate(ctx context.Context) (domaintypes.SignedPreKeyID, error)
	Replenish(ctx context.Context) (int, error)
}

// IdentityService bootstraps and describes the local identity.
type IdentityService interface {
	Init(ctx context.Context) (domaintypes.Fingerprint, bool, error)
	Fingerprint(ctx context.Context) (domaintypes.Fingerprint, error)
	PeerFingerprint(ctx context.Context, key domaintypes.PublicKey) domaintypes.Fingerprint
}
