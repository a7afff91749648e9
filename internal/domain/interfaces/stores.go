package interfaces

import (
	"context"

	domaintypes "whisper/internal/domain/types"
)

// KeyValueStore is the raw storage contract the KeyStore is built on.
// Values in the encrypted namespace are protected at rest by the backend.
type KeyValueStore interface {
	GetEncrypted(ctx context.Context, key string) ([]byte, bool, error)
	PutEncrypted(ctx context.Context, key string, value []byte) error
	GetUnencrypted(ctx context.Context, key string) ([]byte, bool, error)
	PutUnencrypted(ctx context.Context, key string, value []byte) error

	// Remove deletes key from ns; a missing key is not an error.
	Remove(ctx context.Context, ns domaintypes.Namespace, key string) error
	// Keys lists keys in ns starting with prefix, sorted.
	Keys(ctx context.Context, ns domaintypes.Namespace, prefix string) ([]string, error)
	// Apply commits every op in b or none of them.
	Apply(ctx context.Context, b *domaintypes.Batch) error

	Close() error
}

// KeyStore owns the key schema, rotation policy and session records.
type KeyStore interface {
	// Init creates identity, registration id, signed pre-key and the first
	// one-time batch. It never replaces an existing identity.
	Init(ctx context.Context) (created bool, err error)

	IdentityKeyPair(ctx context.Context) (domaintypes.IdentityKeyPair, error)
	LocalRegistrationID(ctx context.Context) (domaintypes.RegistrationID, error)

	// Signed pre-keys
	RotateSignedPreKey(ctx context.Context) (domaintypes.SignedPreKey, error)
	CurrentSignedPreKey(ctx context.Context) (domaintypes.SignedPreKey, error)
	SignedPreKey(ctx context.Context, id domaintypes.SignedPreKeyID) (domaintypes.SignedPreKey, error)

	// One-time pre-keys
	GeneratePreKeys(ctx context.Context, n int) ([]domaintypes.OneTimePreKey, error)
	PreKey(ctx context.Context, id domaintypes.PreKeyID) (domaintypes.OneTimePreKey, error)
	PreKeys(ctx context.Context) ([]domaintypes.OneTimePreKey, error)
	Replenish(ctx context.Context) ([]domaintypes.OneTimePreKey, error)

	// Sessions
	LoadSession(ctx context.Context, addr domaintypes.Address) (*domaintypes.SessionRecord, bool, error)
	// CommitSession stores rec, records the peer identity on first use and
	// deletes the consumed one-time pre-key, all in one batch.
	CommitSession(ctx context.Context, addr domaintypes.Address, rec *domaintypes.SessionRecord, consumed *domaintypes.PreKeyID) error
	DeleteSession(ctx context.Context, addr domaintypes.Address) error

	// Identity trust
	IsTrustedIdentity(ctx context.Context, name string, key domaintypes.PublicKey) (bool, error)
}
