package prekey

import (
	"context"

	"gopkg.in/op/go-logging.v1"

	"whisper/internal/domain"
	"whisper/internal/log"
)

// Service publishes our pre-keys to the key directory and keeps them fresh.
type Service struct {
	local domain.Address
	keys  domain.KeyStore
	dir   domain.KeyDirectory
	log   *logging.Logger
}

// New returns a pre-key Service for the local device.
func New(local domain.Address, keys domain.KeyStore, dir domain.KeyDirectory, l *logging.Logger) *Service {
	if l == nil {
		l = log.Discard("prekey")
	}
	return &Service{local: local, keys: keys, dir: dir, log: l}
}

// Register publishes the identity, current signed pre-key and every held
// one-time pre-key.
func (s *Service) Register(ctx context.Context) error {
	keys, err := s.Published(ctx)
	if err != nil {
		return err
	}
	if err := s.dir.PublishKeys(ctx, keys); err != nil {
		return err
	}
	s.log.Infof("Published signed pre-key %d and %d one-time pre-keys for %s",
		keys.SignedPreKeyID, len(keys.PreKeys), s.local)
	return nil
}

// Rotate issues a new signed pre-key and republishes.
func (s *Service) Rotate(ctx context.Context) (domain.SignedPreKeyID, error) {
	spk, err := s.keys.RotateSignedPreKey(ctx)
	if err != nil {
		return 0, err
	}
	return spk.ID, s.Register(ctx)
}

// Replenish tops up the one-time pool when it ran low and republishes. It
// returns the number of keys generated.
func (s *Service) Replenish(ctx context.Context) (int, error) {
	fresh, err := s.keys.Replenish(ctx)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	return len(fresh), s.Register(ctx)
}

// Published assembles what Register uploads.
func (s *Service) Published(ctx context.Context) (domain.PublishedKeys, error) {
	id, err := s.keys.IdentityKeyPair(ctx)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	reg, err := s.keys.LocalRegistrationID(ctx)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	spk, err := s.keys.CurrentSignedPreKey(ctx)
	if err != nil {
		return domain.PublishedKeys{}, err
	}
	held, err := s.keys.PreKeys(ctx)
	if err != nil {
		return domain.PublishedKeys{}, err
	}

	pub := domain.PublishedKeys{
		Address:               s.local,
		RegistrationID:        reg,
		IdentityKey:           id.Public,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.KeyPair.Public,
		SignedPreKeySignature: spk.Signature,
		PreKeys:               make([]domain.PreKeyPublic, 0, len(held)),
	}
	for _, k := range held {
		pub.PreKeys = append(pub.PreKeys, domain.PreKeyPublic{ID: k.ID, PublicKey: k.KeyPair.Public})
	}
	return pub, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
