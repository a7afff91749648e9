package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/keystore"
	"whisper/internal/services/session"
	"whisper/internal/store"
	"whisper/internal/testutil"
)

var (
	errInjected = errors.New("injected storage failure")
	deviceSeq   atomic.Int64
)

// flakyKV fails Apply while fail is set.
type flakyKV struct {
	*store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyKV) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyKV) Apply(ctx context.Context, b *domain.Batch) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Memory.Apply(ctx, b)
}

type device struct {
	addr domain.Address
	kv   *flakyKV
	keys *keystore.Store
	svc  *session.Service
}

func newDevice(t *testing.T, name string) *device {
	t.Helper()
	addr := domain.Address{Name: name, DeviceID: 1}
	kv := &flakyKV{Memory: store.NewMemory()}
	rnd := testutil.NewSeeded(fmt.Sprintf("%s/%s/%d", t.Name(), name, deviceSeq.Add(1)))
	ks := keystore.New(kv, keystore.WithRand(rnd), keystore.WithBatchSize(4))
	_, err := ks.Init(context.Background())
	require.NoError(t, err)
	return &device{
		addr: addr,
		kv:   kv,
		keys: ks,
		svc:  session.New(ks, addr, session.WithRand(rnd)),
	}
}

// bundle builds what a directory would hand out for d, using the one-time
// pre-key with id opk, or none when opk is zero.
func (d *device) bundle(t *testing.T, opk domain.PreKeyID) domain.PreKeyBundle {
	t.Helper()
	ctx := context.Background()
	id, err := d.keys.IdentityKeyPair(ctx)
	require.NoError(t, err)
	reg, err := d.keys.LocalRegistrationID(ctx)
	require.NoError(t, err)
	spk, err := d.keys.CurrentSignedPreKey(ctx)
	require.NoError(t, err)
	b := domain.PreKeyBundle{
		Address:               d.addr,
		RegistrationID:        reg,
		IdentityKey:           id.Public,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.KeyPair.Public,
		SignedPreKeySignature: spk.Signature,
	}
	if opk != 0 {
		k, err := d.keys.PreKey(ctx, opk)
		require.NoError(t, err)
		b.PreKey = &domain.PreKeyPublic{ID: k.ID, PublicKey: k.KeyPair.Public}
	}
	return b
}

func (d *device) send(t *testing.T, to *device, msg string) domain.Envelope {
	t.Helper()
	env, err := d.svc.Encrypt(context.Background(), to.addr, []byte(msg))
	require.NoError(t, err)
	return env
}

func (d *device) open(t *testing.T, env domain.Envelope) string {
	t.Helper()
	pt, _, err := d.svc.Decrypt(context.Background(), env)
	require.NoError(t, err)
	return string(pt)
}

func pair(t *testing.T) (alice, bob *device) {
	t.Helper()
	alice, bob = newDevice(t, "alice"), newDevice(t, "bob")
	require.NoError(t, alice.svc.EstablishOutgoing(context.Background(), bob.bundle(t, 1)))
	return alice, bob
}

func TestEstablish_FirstMessageConsumesPreKey(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)

	st, err := alice.svc.Status(ctx, bob.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEstablished, st)

	env := alice.send(t, bob, "hello bob")
	require.Equal(t, domain.EnvelopePreKey, env.Type)
	require.Equal(t, alice.addr, env.Source)
	require.Equal(t, bob.addr, env.Destination)

	pt, consumed, err := bob.svc.Decrypt(ctx, env)
	require.NoError(t, err)
	require.True(t, consumed)
	require.Equal(t, "hello bob", string(pt))

	_, err = bob.keys.PreKey(ctx, 1)
	require.ErrorIs(t, err, domain.ErrPreKeyNotFound)

	st, err = bob.svc.Status(ctx, alice.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEstablished, st)
}

func TestEstablish_WithoutOneTimePreKey(t *testing.T) {
	ctx := context.Background()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	require.NoError(t, alice.svc.EstablishOutgoing(ctx, bob.bundle(t, 0)))

	pt, consumed, err := bob.svc.Decrypt(ctx, alice.send(t, bob, "no opk"))
	require.NoError(t, err)
	require.False(t, consumed)
	require.Equal(t, "no opk", string(pt))

	held, err := bob.keys.PreKeys(ctx)
	require.NoError(t, err)
	require.Len(t, held, 4)
}

func TestHandshakeUntilFirstReply(t *testing.T) {
	alice, bob := pair(t)

	for i := 0; i < 3; i++ {
		env := alice.send(t, bob, fmt.Sprintf("m%d", i))
		require.Equal(t, domain.EnvelopePreKey, env.Type)
		require.Equal(t, fmt.Sprintf("m%d", i), bob.open(t, env))
	}

	reply := bob.send(t, alice, "ack")
	require.Equal(t, domain.EnvelopeCiphertext, reply.Type)
	require.Equal(t, "ack", alice.open(t, reply))

	env := alice.send(t, bob, "after ack")
	require.Equal(t, domain.EnvelopeCiphertext, env.Type)
	require.Equal(t, "after ack", bob.open(t, env))
}

func TestConversation(t *testing.T) {
	alice, bob := pair(t)
	require.Equal(t, "hi", bob.open(t, alice.send(t, bob, "hi")))

	for round := 0; round < 5; round++ {
		for i := 0; i <= round; i++ {
			msg := fmt.Sprintf("bob %d.%d", round, i)
			require.Equal(t, msg, alice.open(t, bob.send(t, alice, msg)))
		}
		msg := fmt.Sprintf("alice %d", round)
		require.Equal(t, msg, bob.open(t, alice.send(t, bob, msg)))
	}
}

func TestReorderAndDuplicate(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))
	require.Equal(t, "ack", alice.open(t, bob.send(t, alice, "ack")))

	envs := make([]domain.Envelope, 3)
	for i := range envs {
		envs[i] = alice.send(t, bob, fmt.Sprintf("msg %d", i))
	}

	for _, i := range []int{0, 2, 1} {
		require.Equal(t, fmt.Sprintf("msg %d", i), bob.open(t, envs[i]))
	}

	_, _, err := bob.svc.Decrypt(ctx, envs[1])
	require.ErrorIs(t, err, domain.ErrDuplicateMessage)

	// The session keeps working after the rejection.
	require.Equal(t, "msg 3", bob.open(t, alice.send(t, bob, "msg 3")))
}

func TestTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))
	require.Equal(t, "ack", alice.open(t, bob.send(t, alice, "ack")))

	env := alice.send(t, bob, "attack at dawn")
	for _, pos := range []int{1, len(env.Body) / 2, len(env.Body) - 9, len(env.Body) - 1} {
		bad := env
		bad.Body = append([]byte(nil), env.Body...)
		bad.Body[pos] ^= 0x01
		_, _, err := bob.svc.Decrypt(ctx, bad)
		require.Error(t, err, "byte %d", pos)
		require.NotErrorIs(t, err, domain.ErrDuplicateMessage)
	}

	// Flipping a ciphertext bit is caught by the MAC.
	bad := env
	bad.Body = append([]byte(nil), env.Body...)
	bad.Body[len(bad.Body)-crypto.MACSize-1] ^= 0x80
	_, _, err := bob.svc.Decrypt(ctx, bad)
	require.ErrorIs(t, err, domain.ErrAuthentication)

	// The untouched message still decrypts: rejected attempts changed nothing.
	require.Equal(t, "attack at dawn", bob.open(t, env))
}

func TestNoSession(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	carol := newDevice(t, "carol")
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))

	reply := bob.send(t, alice, "ack")
	_, _, err := carol.svc.Decrypt(ctx, domain.Envelope{Type: domain.EnvelopeCiphertext, Source: bob.addr, Body: reply.Body})
	require.ErrorIs(t, err, domain.ErrNoSession)

	_, err = carol.svc.Encrypt(ctx, bob.addr, []byte("x"))
	require.ErrorIs(t, err, domain.ErrNoSession)
}

func TestEstablish_InvalidSignature(t *testing.T) {
	ctx := context.Background()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	b := bob.bundle(t, 1)
	b.SignedPreKeySignature = append([]byte(nil), b.SignedPreKeySignature...)
	b.SignedPreKeySignature[0] ^= 0x01

	err := alice.svc.EstablishOutgoing(ctx, b)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	st, err := alice.svc.Status(ctx, bob.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusUninitialized, st)
}

func TestEstablish_UntrustedIdentity(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))

	impostor := newDevice(t, "bob")
	err := alice.svc.EstablishOutgoing(ctx, impostor.bundle(t, 1))
	require.ErrorIs(t, err, domain.ErrUntrustedIdentity)

	// The same holds on the responder side.
	mallory := newDevice(t, "alice")
	require.NoError(t, mallory.svc.EstablishOutgoing(ctx, bob.bundle(t, 2)))
	_, _, err = bob.svc.Decrypt(ctx, mallory.send(t, bob, "it's me"))
	require.ErrorIs(t, err, domain.ErrUntrustedIdentity)
}

func TestPreKeyReuseRejected(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	carol := newDevice(t, "carol")
	require.NoError(t, carol.svc.EstablishOutgoing(ctx, bob.bundle(t, 1)))

	require.Equal(t, "from alice", bob.open(t, alice.send(t, bob, "from alice")))

	_, _, err := bob.svc.Decrypt(ctx, carol.send(t, bob, "from carol"))
	require.ErrorIs(t, err, domain.ErrPreKeyNotFound)
	var nf *domain.PreKeyNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, domain.KindOneTimePreKey, nf.Kind)
	require.Equal(t, uint32(1), nf.ID)

	st, err := bob.svc.Status(ctx, carol.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusUninitialized, st)
}

func TestStaleSession(t *testing.T) {
	ctx := context.Background()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")

	// Signed pre-key id the responder never issued.
	b := bob.bundle(t, 0)
	b.SignedPreKeyID = 99
	require.NoError(t, alice.svc.EstablishOutgoing(ctx, b))
	_, _, err := bob.svc.Decrypt(ctx, alice.send(t, bob, "hello"))
	require.ErrorIs(t, err, domain.ErrStaleSession)

	// One-time pre-key id the responder never issued.
	b = bob.bundle(t, 2)
	b.PreKey.ID = 500
	require.NoError(t, alice.svc.EstablishOutgoing(ctx, b))
	_, _, err = bob.svc.Decrypt(ctx, alice.send(t, bob, "hello"))
	require.ErrorIs(t, err, domain.ErrStaleSession)
	require.NotErrorIs(t, err, domain.ErrPreKeyNotFound)
}

func TestRedeliveredHandshakeIsDuplicate(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	env := alice.send(t, bob, "once")
	require.Equal(t, "once", bob.open(t, env))

	_, consumed, err := bob.svc.Decrypt(ctx, env)
	require.ErrorIs(t, err, domain.ErrDuplicateMessage)
	require.False(t, consumed)
}

func TestHandshakeOutOfOrder(t *testing.T) {
	alice, bob := pair(t)
	first := alice.send(t, bob, "first")
	second := alice.send(t, bob, "second")

	require.Equal(t, "second", bob.open(t, second))
	require.Equal(t, "first", bob.open(t, first))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))
	pending := bob.send(t, alice, "in flight")

	require.NoError(t, alice.svc.Close(ctx, bob.addr))
	require.NoError(t, alice.svc.Close(ctx, bob.addr))
	st, err := alice.svc.Status(ctx, bob.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, st)

	_, err = alice.svc.Encrypt(ctx, bob.addr, []byte("x"))
	require.ErrorIs(t, err, domain.ErrNoSession)
	_, _, err = alice.svc.Decrypt(ctx, pending)
	require.ErrorIs(t, err, domain.ErrNoSession)

	carol := newDevice(t, "carol")
	require.ErrorIs(t, carol.svc.Close(ctx, bob.addr), domain.ErrNoSession)

	// A fresh handshake re-establishes.
	require.NoError(t, alice.svc.EstablishOutgoing(ctx, bob.bundle(t, 2)))
	env := alice.send(t, bob, "again")
	require.Equal(t, domain.EnvelopePreKey, env.Type)
	require.Equal(t, "again", bob.open(t, env))
}

func TestFailedCommitLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	env := alice.send(t, bob, "hello")

	bob.kv.setFail(true)
	_, _, err := bob.svc.Decrypt(ctx, env)
	require.ErrorIs(t, err, errInjected)
	bob.kv.setFail(false)

	// Neither the session nor the pre-key deletion became visible.
	st, err := bob.svc.Status(ctx, alice.addr)
	require.NoError(t, err)
	require.Equal(t, domain.StatusUninitialized, st)
	_, err = bob.keys.PreKey(ctx, 1)
	require.NoError(t, err)

	require.Equal(t, "hello", bob.open(t, env))

	// Same on the sending side: a failed commit does not burn a counter.
	alice.kv.setFail(true)
	_, err = alice.svc.Encrypt(ctx, bob.addr, []byte("lost"))
	require.ErrorIs(t, err, errInjected)
	alice.kv.setFail(false)
	require.Equal(t, "kept", bob.open(t, alice.send(t, bob, "kept")))
}

func TestCancelledContext(t *testing.T) {
	alice, bob := pair(t)
	env := alice.send(t, bob, "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := bob.svc.Decrypt(ctx, env)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, "hello", bob.open(t, env))
}

func TestConcurrentEncryptSerializes(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	require.Equal(t, "open", bob.open(t, alice.send(t, bob, "open")))
	require.Equal(t, "ack", alice.open(t, bob.send(t, alice, "ack")))

	const n = 32
	envs := make([]domain.Envelope, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			env, err := alice.svc.Encrypt(ctx, bob.addr, []byte(fmt.Sprintf("c%d", i)))
			envs[i] = env
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	for _, env := range envs {
		pt, _, err := bob.svc.Decrypt(ctx, env)
		require.NoError(t, err)
		seen[string(pt)] = true
	}
	require.Len(t, seen, n)
}

func TestUnknownEnvelopeType(t *testing.T) {
	_, bob := pair(t)
	_, _, err := bob.svc.Decrypt(context.Background(), domain.Envelope{Type: 7, Body: []byte{0x33}})
	require.ErrorIs(t, err, domain.ErrInvalidMessage)
}
