package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"gopkg.in/op/go-logging.v1"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/log"
	"whisper/internal/protocol/ratchet"
	"whisper/internal/protocol/wire"
	"whisper/internal/protocol/x3dh"
	"whisper/internal/util/lockmap"
	"whisper/internal/util/memzero"
)

// Service is the session engine: it establishes sessions from pre-key
// bundles and handshake messages and runs the double ratchet over the
// records held by the KeyStore.
//
// Every mutating call works on a clone of the stored record and commits it
// only after the message has authenticated and decrypted, so a rejected or
// cancelled call leaves the stored record as it was. Calls for the same
// peer address are serialized.
type Service struct {
	keys  domain.KeyStore
	local domain.Address
	rand  io.Reader
	now   func() time.Time
	log   *logging.Logger
	locks *lockmap.Map[domain.Address]
}

// Option configures a Service.
type Option func(*Service)

// WithRand sets the randomness source for base and ratchet keys.
func WithRand(r io.Reader) Option { return func(s *Service) { s.rand = r } }

// WithClock sets the clock used to stamp envelopes.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.log = l } }

// New constructs a session Service for the local device address.
func New(keys domain.KeyStore, local domain.Address, opts ...Option) *Service {
	s := &Service{
		keys:  keys,
		local: local,
		rand:  rand.Reader,
		now:   time.Now,
		locks: lockmap.New[domain.Address](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Discard("session")
	}
	return s
}

// Status reports the lifecycle state of the session with peer.
func (s *Service) Status(ctx context.Context, peer domain.Address) (domain.SessionStatus, error) {
	rec, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return domain.StatusUninitialized, err
	}
	if !ok {
		return domain.StatusUninitialized, nil
	}
	return rec.Status, nil
}

// EstablishOutgoing runs the initiator side of the handshake against bundle
// and stores the new session, replacing any previous one for that address.
//
// Steps:
//  1. Verify the signed pre-key signature with the bundle identity key.
//  2. Check the identity key against the one trusted for the peer name.
//  3. Generate a base key and derive the root and chain keys.
//  4. Seed the ratchet and remember the handshake so outgoing messages carry
//     it until the peer replies.
func (s *Service) EstablishOutgoing(ctx context.Context, bundle domain.PreKeyBundle) error {
	peer := bundle.Address
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return err
	}
	defer unlock()

	if err := x3dh.VerifySignedPreKey(bundle.IdentityKey, bundle.SignedPreKey, bundle.SignedPreKeySignature); err != nil {
		return fmt.Errorf("session: bundle for %s: %w", peer, err)
	}
	if err := s.checkTrusted(ctx, peer.Name, bundle.IdentityKey); err != nil {
		return err
	}

	identity, err := s.keys.IdentityKeyPair(ctx)
	if err != nil {
		return err
	}
	regID, err := s.keys.LocalRegistrationID(ctx)
	if err != nil {
		return err
	}

	base, err := crypto.GenerateKeyPair(s.rand)
	if err != nil {
		return fmt.Errorf("session: generate base key: %w", err)
	}
	defer memzero.Zero(base.Private[:])

	var opk *domain.PublicKey
	if bundle.PreKey != nil {
		opk = &bundle.PreKey.PublicKey
	}
	secrets, err := x3dh.Initiator(identity, base, bundle.IdentityKey, bundle.SignedPreKey, opk)
	if err != nil {
		return fmt.Errorf("session: handshake with %s: %w", peer, err)
	}

	rec := &domain.SessionRecord{
		Version:              wire.CurrentVersion,
		Status:               domain.StatusEstablished,
		LocalIdentity:        identity.Public,
		RemoteIdentity:       bundle.IdentityKey,
		LocalRegistrationID:  regID,
		RemoteRegistrationID: bundle.RegistrationID,
		BaseKey:              base.Public,
	}
	if err := ratchet.InitAsInitiator(rec, secrets.RootKey, secrets.ChainKey, bundle.SignedPreKey, s.rand); err != nil {
		return err
	}
	rec.Pending = &domain.PendingPreKey{
		HasPreKey:      bundle.PreKey != nil,
		SignedPreKeyID: bundle.SignedPreKeyID,
		BaseKey:        base.Public,
	}
	if bundle.PreKey != nil {
		rec.Pending.PreKeyID = bundle.PreKey.ID
	}

	if err := s.keys.CommitSession(ctx, peer, rec, nil); err != nil {
		return err
	}
	s.log.Infof("Session established with %s as initiator (peer %s)", peer, crypto.Fingerprint(bundle.IdentityKey))
	return nil
}

// Encrypt advances the sending chain by one message and seals content for
// peer. The envelope is a handshake message until the peer has replied.
func (s *Service) Encrypt(ctx context.Context, peer domain.Address, content []byte) (domain.Envelope, error) {
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer unlock()

	rec, err := s.established(ctx, peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	next := rec.Clone()

	keys, h, err := ratchet.NextSendingKeys(next)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer ratchet.Wipe(&keys)

	ct, err := crypto.EncryptCBC(keys.CipherKey, keys.IV, content)
	if err != nil {
		return domain.Envelope{}, err
	}
	msg := &wire.RatchetMessage{
		RatchetKey:      h.RatchetKey,
		Counter:         h.Counter,
		PreviousCounter: h.PreviousCounter,
		Ciphertext:      ct,
	}
	body := msg.Seal(keys.MacKey, next.LocalIdentity, next.RemoteIdentity)

	env := domain.Envelope{
		Type:        domain.EnvelopeCiphertext,
		Source:      s.local,
		Destination: peer,
		Body:        body,
		Timestamp:   s.now().UnixMilli(),
	}
	if p := next.Pending; p != nil {
		pkm := &wire.PreKeyMessage{
			RegistrationID: next.LocalRegistrationID,
			HasPreKey:      p.HasPreKey,
			PreKeyID:       p.PreKeyID,
			SignedPreKeyID: p.SignedPreKeyID,
			BaseKey:        p.BaseKey,
			IdentityKey:    next.LocalIdentity,
			Message:        body,
		}
		env.Type = domain.EnvelopePreKey
		env.Body = pkm.Marshal()
	}

	if err := s.keys.CommitSession(ctx, peer, next, nil); err != nil {
		return domain.Envelope{}, err
	}
	s.log.Debugf("Encrypted %s message %d for %s", env.Type, h.Counter, peer)
	return env, nil
}

// Decrypt authenticates and decrypts env. consumed reports whether a
// one-time pre-key was used up establishing a new session.
//
// Steps:
//  1. A ratchet message needs an established session with the sender.
//  2. A handshake message whose base key matches the stored session is
//     decrypted against it; otherwise it establishes a new session as
//     responder from the referenced pre-keys.
//  3. The updated record, trusted identity and pre-key deletion are committed
//     together, and only after the MAC verified and the body decrypted.
func (s *Service) Decrypt(ctx context.Context, env domain.Envelope) ([]byte, bool, error) {
	peer := env.Source
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	switch env.Type {
	case domain.EnvelopeCiphertext:
		rec, err := s.established(ctx, peer)
		if err != nil {
			return nil, false, err
		}
		content, next, err := s.decryptWith(rec, env.Body)
		if err != nil {
			return nil, false, err
		}
		if next.Pending != nil {
			s.log.Debugf("Handshake with %s acknowledged", peer)
			next.Pending = nil
		}
		if err := s.keys.CommitSession(ctx, peer, next, nil); err != nil {
			return nil, false, err
		}
		return content, false, nil

	case domain.EnvelopePreKey:
		return s.decryptPreKey(ctx, peer, env.Body)

	default:
		return nil, false, fmt.Errorf("%w: envelope type %d", domain.ErrInvalidMessage, env.Type)
	}
}

func (s *Service) decryptPreKey(ctx context.Context, peer domain.Address, body []byte) ([]byte, bool, error) {
	pkm, err := wire.ParsePreKeyMessage(body)
	if err != nil {
		return nil, false, err
	}

	rec, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return nil, false, err
	}
	if ok && rec.Status == domain.StatusEstablished && rec.BaseKey == pkm.BaseKey && rec.RemoteIdentity == pkm.IdentityKey {
		content, next, err := s.decryptWith(rec, pkm.Message)
		if err != nil {
			return nil, false, err
		}
		if err := s.keys.CommitSession(ctx, peer, next, nil); err != nil {
			return nil, false, err
		}
		return content, false, nil
	}

	if err := s.checkTrusted(ctx, peer.Name, pkm.IdentityKey); err != nil {
		return nil, false, err
	}
	identity, err := s.keys.IdentityKeyPair(ctx)
	if err != nil {
		return nil, false, err
	}
	regID, err := s.keys.LocalRegistrationID(ctx)
	if err != nil {
		return nil, false, err
	}
	spk, err := s.keys.SignedPreKey(ctx, pkm.SignedPreKeyID)
	if err != nil {
		return nil, false, fmt.Errorf("session: handshake from %s: %w", peer, err)
	}
	var (
		opk      *domain.KeyPair
		consumed *domain.PreKeyID
	)
	if pkm.HasPreKey {
		k, err := s.keys.PreKey(ctx, pkm.PreKeyID)
		if err != nil {
			return nil, false, fmt.Errorf("session: handshake from %s: %w", peer, err)
		}
		opk = &k.KeyPair
		consumed = &k.ID
	}

	secrets, err := x3dh.Responder(identity, spk.KeyPair, opk, pkm.IdentityKey, pkm.BaseKey)
	if err != nil {
		return nil, false, fmt.Errorf("session: handshake from %s: %w", peer, err)
	}
	fresh := &domain.SessionRecord{
		Version:              wire.CurrentVersion,
		Status:               domain.StatusEstablished,
		LocalIdentity:        identity.Public,
		RemoteIdentity:       pkm.IdentityKey,
		LocalRegistrationID:  regID,
		RemoteRegistrationID: pkm.RegistrationID,
		BaseKey:              pkm.BaseKey,
	}
	ratchet.InitAsResponder(fresh, secrets.RootKey, secrets.ChainKey, spk.KeyPair)

	content, next, err := s.decryptWith(fresh, pkm.Message)
	if err != nil {
		return nil, false, err
	}
	if err := s.keys.CommitSession(ctx, peer, next, consumed); err != nil {
		return nil, false, err
	}
	if ok {
		s.log.Infof("Session with %s replaced by a new handshake", peer)
	}
	s.log.Infof("Session established with %s as responder (peer %s)", peer, crypto.Fingerprint(pkm.IdentityKey))
	return content, consumed != nil, nil
}

// decryptWith opens a sealed ratchet message against a clone of rec and
// returns the clone for the caller to commit.
func (s *Service) decryptWith(rec *domain.SessionRecord, body []byte) ([]byte, *domain.SessionRecord, error) {
	msg, err := wire.ParseRatchetMessage(body)
	if err != nil {
		return nil, nil, err
	}
	next := rec.Clone()
	h := ratchet.Header{
		RatchetKey:      msg.RatchetKey,
		Counter:         msg.Counter,
		PreviousCounter: msg.PreviousCounter,
	}
	keys, err := ratchet.ReceivingKeys(next, h, s.rand)
	if err != nil {
		return nil, nil, err
	}
	defer ratchet.Wipe(&keys)

	if err := msg.Verify(keys.MacKey, next.RemoteIdentity, next.LocalIdentity); err != nil {
		return nil, nil, err
	}
	pt, err := crypto.DecryptCBC(keys.CipherKey, keys.IV, msg.Ciphertext)
	if err != nil {
		return nil, nil, err
	}
	return pt, next, nil
}

// Close marks the session with peer closed. The next Encrypt needs a fresh
// handshake.
func (s *Service) Close(ctx context.Context, peer domain.Address) error {
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: close %s: %w", peer, domain.ErrNoSession)
	}
	if rec.Status == domain.StatusClosed {
		return nil
	}
	next := rec.Clone()
	next.Status = domain.StatusClosed
	next.Pending = nil
	if err := s.keys.CommitSession(ctx, peer, next, nil); err != nil {
		return err
	}
	s.log.Infof("Session with %s closed", peer)
	return nil
}

func (s *Service) established(ctx context.Context, peer domain.Address) (*domain.SessionRecord, error) {
	rec, ok, err := s.keys.LoadSession(ctx, peer)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Status != domain.StatusEstablished {
		return nil, fmt.Errorf("session: %s: %w", peer, domain.ErrNoSession)
	}
	return rec, nil
}

func (s *Service) checkTrusted(ctx context.Context, name string, key domain.PublicKey) error {
	ok, err := s.keys.IsTrustedIdentity(ctx, name, key)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warningf("Identity %s presented for %s does not match the trusted key", crypto.Fingerprint(key), name)
		return fmt.Errorf("session: %s: %w", name, domain.ErrUntrustedIdentity)
	}
	return nil
}

var _ domain.SessionEngine = (*Service)(nil)
