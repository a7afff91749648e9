package interfaces

import (
	"context"

	domaintypes "whisper/internal/domain/types"
)

// Transport delivers opaque envelopes. It may duplicate and reorder them.
type Transport interface {
	Send(ctx context.Context, env domaintypes.Envelope) error
	Fetch(ctx context.Context, me domaintypes.Address, limit int) ([]domaintypes.Envelope, error)
	Ack(ctx context.Context, me domaintypes.Address, id string) error
}

// BundleFetcher resolves a peer device's published pre-key bundle.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, peer domaintypes.Address) (domaintypes.PreKeyBundle, error)
}

// KeyDirectory accepts our published keys.
type KeyDirectory interface {
	PublishKeys(ctx context.Context, keys domaintypes.PublishedKeys) error
}
