package keystore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/log"
)

// Storage keys. Encrypted entries hold key material; unencrypted entries hold
// ids and trusted remote identities.
const (
	identityKeyName     = "25519KeyidentityKey"
	signedPreKeyPrefix  = "25519KeysignedKey"
	preKeyPrefix        = "25519KeypreKey"
	sessionPrefix       = "session"
	registrationIDName  = "registrationId"
	signedKeyIDName     = "signedKeyId"
	nextSignedKeyIDName = "nextSignedKeyId"
	nextPreKeyIDName    = "nextPreKeyId"
	trustedPrefix       = "identityKey"
)

const (
	// DefaultBatchSize is the number of one-time pre-keys kept on hand.
	DefaultBatchSize = 100
	// DefaultLowWater triggers replenishment when fewer keys remain.
	DefaultLowWater = 10

	// signedPreKeyGenerations is how many signed pre-keys stay retrievable.
	signedPreKeyGenerations = 2
)

// ErrNotInitialized is returned before Init has created an identity.
var ErrNotInitialized = errors.New("keystore: not initialized")

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// Store implements domain.KeyStore on top of a domain.KeyValueStore.
type Store struct {
	kv       domain.KeyValueStore
	rand     io.Reader
	batch    int
	lowWater int
	now      func() time.Time
	log      *logging.Logger

	// mu serializes id bookkeeping and pre-key consumption.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithRand sets the randomness source for every generated key and id.
func WithRand(r io.Reader) Option { return func(s *Store) { s.rand = r } }

// WithBatchSize sets how many one-time pre-keys Init and Replenish provide.
func WithBatchSize(n int) Option { return func(s *Store) { s.batch = n } }

// WithLowWater sets the replenishment threshold.
func WithLowWater(n int) Option { return func(s *Store) { s.lowWater = n } }

// WithClock sets the clock used to stamp signed pre-keys.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Store) { s.log = l } }

// New returns a Store over kv.
func New(kv domain.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		rand:     rand.Reader,
		batch:    DefaultBatchSize,
		lowWater: DefaultLowWater,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Discard("keystore")
	}
	if s.lowWater > s.batch {
		s.lowWater = s.batch
	}
	return s
}

// Init creates whatever part of the local key material is missing. An
// existing identity key pair is never replaced.
func (s *Store) Init(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	if _, ok, err := s.kv.GetEncrypted(ctx, identityKeyName); err != nil {
		return false, err
	} else if !ok {
		id, err := crypto.GenerateKeyPair(s.rand)
		if err != nil {
			return false, fmt.Errorf("keystore: generate identity: %w", err)
		}
		if err := s.putEncrypted(ctx, identityKeyName, id); err != nil {
			return false, err
		}
		created = true
		s.log.Noticef("Created identity %s", crypto.Fingerprint(id.Public))
	}

	if _, ok, err := s.kv.GetUnencrypted(ctx, registrationIDName); err != nil {
		return false, err
	} else if !ok {
		var b [2]byte
		if _, err := io.ReadFull(s.rand, b[:]); err != nil {
			return false, fmt.Errorf("keystore: generate registration id: %w", err)
		}
		regID := domain.RegistrationID(binary.LittleEndian.Uint16(b[:]) & 0x3fff)
		if err := s.putUnencrypted(ctx, registrationIDName, uint32(regID)); err != nil {
			return false, err
		}
	}

	if _, ok, err := s.getID(ctx, signedKeyIDName); err != nil {
		return false, err
	} else if !ok {
		if _, err := s.rotateLocked(ctx); err != nil {
			return false, err
		}
	}

	if _, ok, err := s.getID(ctx, nextPreKeyIDName); err != nil {
		return false, err
	} else if !ok {
		if _, err := s.generateLocked(ctx, s.batch); err != nil {
			return false, err
		}
	}
	return created, nil
}

func (s *Store) IdentityKeyPair(ctx context.Context) (domain.IdentityKeyPair, error) {
	var id domain.IdentityKeyPair
	ok, err := s.getEncrypted(ctx, identityKeyName, &id)
	if err != nil {
		return id, err
	}
	if !ok {
		return id, ErrNotInitialized
	}
	return id, nil
}

func (s *Store) LocalRegistrationID(ctx context.Context) (domain.RegistrationID, error) {
	id, ok, err := s.getID(ctx, registrationIDName)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	return domain.RegistrationID(id), nil
}

// RotateSignedPreKey issues the next signed pre-key and deletes every
// generation older than the previous one.
func (s *Store) RotateSignedPreKey(ctx context.Context) (domain.SignedPreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked(ctx)
}

func (s *Store) rotateLocked(ctx context.Context) (domain.SignedPreKey, error) {
	identity, err := s.IdentityKeyPair(ctx)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	next, _, err := s.getID(ctx, nextSignedKeyIDName)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	if next == 0 {
		next = 1
	}

	kp, err := crypto.GenerateKeyPair(s.rand)
	if err != nil {
		return domain.SignedPreKey{}, fmt.Errorf("keystore: generate signed pre-key: %w", err)
	}
	sig, err := crypto.Sign(identity.Private, kp.Public.Serialize())
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	spk := domain.SignedPreKey{
		ID:        domain.SignedPreKeyID(next),
		KeyPair:   kp,
		Signature: sig,
		Created:   s.now().Unix(),
	}

	var b domain.Batch
	if err := putEncrypted(&b, signedPreKeyPrefix+strconv.FormatUint(uint64(next), 10), spk); err != nil {
		return domain.SignedPreKey{}, err
	}
	if err := putUnencrypted(&b, signedKeyIDName, next); err != nil {
		return domain.SignedPreKey{}, err
	}
	if err := putUnencrypted(&b, nextSignedKeyIDName, next+1); err != nil {
		return domain.SignedPreKey{}, err
	}
	held, err := s.heldIDs(ctx, signedPreKeyPrefix)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	for _, id := range held {
		if id+signedPreKeyGenerations <= next {
			b.Remove(domain.NamespaceEncrypted, signedPreKeyPrefix+strconv.FormatUint(uint64(id), 10))
		}
	}
	if err := s.kv.Apply(ctx, &b); err != nil {
		return domain.SignedPreKey{}, err
	}
	s.log.Infof("Rotated signed pre-key to %d", next)
	return spk, nil
}

func (s *Store) CurrentSignedPreKey(ctx context.Context) (domain.SignedPreKey, error) {
	id, ok, err := s.getID(ctx, signedKeyIDName)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	if !ok {
		return domain.SignedPreKey{}, ErrNotInitialized
	}
	return s.SignedPreKey(ctx, domain.SignedPreKeyID(id))
}

func (s *Store) SignedPreKey(ctx context.Context, id domain.SignedPreKeyID) (domain.SignedPreKey, error) {
	var spk domain.SignedPreKey
	ok, err := s.getEncrypted(ctx, signedPreKeyPrefix+strconv.FormatUint(uint64(id), 10), &spk)
	if err != nil {
		return spk, err
	}
	if !ok {
		return spk, s.missing(ctx, domain.KindSignedPreKey, uint32(id), nextSignedKeyIDName)
	}
	return spk, nil
}

// GeneratePreKeys issues n one-time pre-keys with consecutive fresh ids.
func (s *Store) GeneratePreKeys(ctx context.Context, n int) ([]domain.OneTimePreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateLocked(ctx, n)
}

func (s *Store) generateLocked(ctx context.Context, n int) ([]domain.OneTimePreKey, error) {
	if n <= 0 {
		return nil, nil
	}
	start, _, err := s.getID(ctx, nextPreKeyIDName)
	if err != nil {
		return nil, err
	}
	if start == 0 {
		start = 1
	}

	var b domain.Batch
	keys := make([]domain.OneTimePreKey, 0, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair(s.rand)
		if err != nil {
			return nil, fmt.Errorf("keystore: generate pre-key: %w", err)
		}
		k := domain.OneTimePreKey{ID: domain.PreKeyID(start + uint32(i)), KeyPair: kp}
		if err := putEncrypted(&b, preKeyPrefix+strconv.FormatUint(uint64(k.ID), 10), k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := putUnencrypted(&b, nextPreKeyIDName, start+uint32(n)); err != nil {
		return nil, err
	}
	if err := s.kv.Apply(ctx, &b); err != nil {
		return nil, err
	}
	s.log.Debugf("Generated one-time pre-keys %d..%d", start, start+uint32(n)-1)
	return keys, nil
}

func (s *Store) PreKey(ctx context.Context, id domain.PreKeyID) (domain.OneTimePreKey, error) {
	var k domain.OneTimePreKey
	ok, err := s.getEncrypted(ctx, preKeyPrefix+strconv.FormatUint(uint64(id), 10), &k)
	if err != nil {
		return k, err
	}
	if !ok {
		return k, s.missing(ctx, domain.KindOneTimePreKey, uint32(id), nextPreKeyIDName)
	}
	return k, nil
}

// PreKeys returns every held one-time pre-key ordered by id.
func (s *Store) PreKeys(ctx context.Context) ([]domain.OneTimePreKey, error) {
	ids, err := s.heldIDs(ctx, preKeyPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.OneTimePreKey, 0, len(ids))
	for _, id := range ids {
		k, err := s.PreKey(ctx, domain.PreKeyID(id))
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Replenish tops the one-time pool back up to the batch size once it has
// dropped below the low-water mark. It returns the new keys, if any.
func (s *Store) Replenish(ctx context.Context) ([]domain.OneTimePreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.heldIDs(ctx, preKeyPrefix)
	if err != nil {
		return nil, err
	}
	if len(held) >= s.lowWater {
		return nil, nil
	}
	keys, err := s.generateLocked(ctx, s.batch-len(held))
	if err != nil {
		return nil, err
	}
	s.log.Infof("Replenished %d one-time pre-keys", len(keys))
	return keys, nil
}

func (s *Store) LoadSession(ctx context.Context, addr domain.Address) (*domain.SessionRecord, bool, error) {
	rec := new(domain.SessionRecord)
	ok, err := s.getEncrypted(ctx, sessionPrefix+addr.String(), rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// CommitSession writes rec, trusts the remote identity on first use and
// removes the consumed one-time pre-key in a single batch. If the pre-key is
// already gone nothing is written.
func (s *Store) CommitSession(ctx context.Context, addr domain.Address, rec *domain.SessionRecord, consumed *domain.PreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b domain.Batch
	if consumed != nil {
		name := preKeyPrefix + strconv.FormatUint(uint64(*consumed), 10)
		if _, ok, err := s.kv.GetEncrypted(ctx, name); err != nil {
			return err
		} else if !ok {
			return s.missing(ctx, domain.KindOneTimePreKey, uint32(*consumed), nextPreKeyIDName)
		}
		b.Remove(domain.NamespaceEncrypted, name)
	}

	trusted, known, err := s.trusted(ctx, addr.Name)
	if err != nil {
		return err
	}
	switch {
	case !known:
		if err := putUnencrypted(&b, trustedPrefix+addr.Name, rec.RemoteIdentity); err != nil {
			return err
		}
	case trusted != rec.RemoteIdentity:
		return fmt.Errorf("keystore: %s: %w", addr.Name, domain.ErrUntrustedIdentity)
	}

	if err := putEncrypted(&b, sessionPrefix+addr.String(), rec); err != nil {
		return err
	}
	if err := s.kv.Apply(ctx, &b); err != nil {
		return fmt.Errorf("keystore: commit session %s: %w", addr, err)
	}
	if consumed != nil {
		s.log.Debugf("Consumed one-time pre-key %d for %s", *consumed, addr)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, addr domain.Address) error {
	return s.kv.Remove(ctx, domain.NamespaceEncrypted, sessionPrefix+addr.String())
}

// IsTrustedIdentity reports whether key may be used for name: either nothing
// is on record yet or the recorded key matches.
func (s *Store) IsTrustedIdentity(ctx context.Context, name string, key domain.PublicKey) (bool, error) {
	trusted, known, err := s.trusted(ctx, name)
	if err != nil {
		return false, err
	}
	return !known || trusted == key, nil
}

func (s *Store) trusted(ctx context.Context, name string) (domain.PublicKey, bool, error) {
	raw, ok, err := s.kv.GetUnencrypted(ctx, trustedPrefix+name)
	if err != nil || !ok {
		return domain.PublicKey{}, false, err
	}
	var key domain.PublicKey
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return domain.PublicKey{}, false, fmt.Errorf("keystore: trusted identity for %s: %w", name, err)
	}
	return key, true, nil
}

// missing distinguishes an id this installation never issued (stale peer
// state) from one that was issued and has since been consumed or rotated out.
func (s *Store) missing(ctx context.Context, kind domain.PreKeyKind, id uint32, nextName string) error {
	next, _, err := s.getID(ctx, nextName)
	if err != nil {
		return err
	}
	if id == 0 || id >= max(next, 1) {
		return fmt.Errorf("%s %d was never issued: %w", kind, id, domain.ErrStaleSession)
	}
	return &domain.PreKeyNotFoundError{Kind: kind, ID: id}
}

// heldIDs lists the numeric suffixes of keys under prefix, ascending.
func (s *Store) heldIDs(ctx context.Context, prefix string) ([]uint32, error) {
	names, err := s.kv.Keys(ctx, domain.NamespaceEncrypted, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(names))
	for _, name := range names {
		id, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 32)
		if err != nil {
			s.log.Warningf("Ignoring malformed key %q", name)
			continue
		}
		ids = append(ids, uint32(id))
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) getID(ctx context.Context, name string) (uint32, bool, error) {
	raw, ok, err := s.kv.GetUnencrypted(ctx, name)
	if err != nil || !ok {
		return 0, false, err
	}
	var id uint32
	if err := cbor.Unmarshal(raw, &id); err != nil {
		return 0, false, fmt.Errorf("keystore: decode %s: %w", name, err)
	}
	return id, true, nil
}

func (s *Store) getEncrypted(ctx context.Context, name string, out any) (bool, error) {
	raw, ok, err := s.kv.GetEncrypted(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := cbor.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("keystore: decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) putEncrypted(ctx context.Context, name string, v any) error {
	var b domain.Batch
	if err := putEncrypted(&b, name, v); err != nil {
		return err
	}
	return s.kv.Apply(ctx, &b)
}

func (s *Store) putUnencrypted(ctx context.Context, name string, v any) error {
	var b domain.Batch
	if err := putUnencrypted(&b, name, v); err != nil {
		return err
	}
	return s.kv.Apply(ctx, &b)
}

func putEncrypted(b *domain.Batch, name string, v any) error {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("keystore: encode %s: %w", name, err)
	}
	b.PutEncrypted(name, raw)
	return nil
}

func putUnencrypted(b *domain.Batch, name string, v any) error {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("keystore: encode %s: %w", name, err)
	}
	b.PutUnencrypted(name, raw)
	return nil
}

var _ domain.KeyStore = (*Store)(nil)
