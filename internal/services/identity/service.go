package identity

import (
	"context"
	"fmt"
	"unicode"

	"gopkg.in/op/go-logging.v1"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/log"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service bootstraps the local installation and reports fingerprints.
//
// The identity key pair is a single X25519 key pair. It is used directly for
// the handshake and, through XEdDSA, to sign the signed pre-key.
type Service struct {
	keys domain.KeyStore
	log  *logging.Logger
}

// New returns an identity service backed by the given KeyStore.
func New(keys domain.KeyStore, l *logging.Logger) *Service {
	if l == nil {
		l = log.Discard("identity")
	}
	return &Service{keys: keys, log: l}
}

// Init creates the identity, registration id and first pre-keys if they do
// not exist yet, and returns the identity fingerprint. created is false when
// an existing identity was kept.
func (s *Service) Init(ctx context.Context) (domain.Fingerprint, bool, error) {
	created, err := s.keys.Init(ctx)
	if err != nil {
		return "", false, err
	}
	fp, err := s.Fingerprint(ctx)
	if err != nil {
		return "", false, err
	}
	if created {
		s.log.Noticef("New identity %s", fp)
	} else {
		s.log.Infof("Keeping existing identity %s", fp)
	}
	return fp, created, nil
}

// Fingerprint returns a short fingerprint of the local identity public key.
func (s *Service) Fingerprint(ctx context.Context) (domain.Fingerprint, error) {
	id, err := s.keys.IdentityKeyPair(ctx)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.Public), nil
}

// PeerFingerprint returns the fingerprint of a peer identity key.
func (s *Service) PeerFingerprint(_ context.Context, key domain.PublicKey) domain.Fingerprint {
	return crypto.Fingerprint(key)
}

// CheckPassphrase enforces a basic strength policy for new keystores.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
