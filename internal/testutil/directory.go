package testutil

import (
	"context"
	"fmt"
	"sync"

	"whisper/internal/domain"
)

// Directory is an in-process key directory. PublishKeys replaces whatever
// was published before; FetchBundle hands out each one-time pre-key at most
// once, oldest first.
type Directory struct {
	mu   sync.Mutex
	keys map[domain.Address]domain.PublishedKeys

	// Fetches counts FetchBundle calls per address.
	Fetches map[domain.Address]int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		keys:    map[domain.Address]domain.PublishedKeys{},
		Fetches: map[domain.Address]int{},
	}
}

func (d *Directory) PublishKeys(ctx context.Context, keys domain.PublishedKeys) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys.PreKeys = append([]domain.PreKeyPublic(nil), keys.PreKeys...)
	d.keys[keys.Address] = keys
	return nil
}

func (d *Directory) FetchBundle(ctx context.Context, peer domain.Address) (domain.PreKeyBundle, error) {
	if err := ctx.Err(); err != nil {
		return domain.PreKeyBundle{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fetches[peer]++

	keys, ok := d.keys[peer]
	if !ok {
		return domain.PreKeyBundle{}, fmt.Errorf("no keys published for %s", peer)
	}
	b := domain.PreKeyBundle{
		Address:               peer,
		RegistrationID:        keys.RegistrationID,
		IdentityKey:           keys.IdentityKey,
		SignedPreKeyID:        keys.SignedPreKeyID,
		SignedPreKey:          keys.SignedPreKey,
		SignedPreKeySignature: keys.SignedPreKeySignature,
	}
	if len(keys.PreKeys) > 0 {
		pk := keys.PreKeys[0]
		b.PreKey = &pk
		keys.PreKeys = keys.PreKeys[1:]
		d.keys[peer] = keys
	}
	return b, nil
}

// Remaining returns how many one-time pre-keys are still published for peer.
func (d *Directory) Remaining(peer domain.Address) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys[peer].PreKeys)
}

var (
	_ domain.BundleFetcher = (*Directory)(nil)
	_ domain.KeyDirectory  = (*Directory)(nil)
)
