package message_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whisper/internal/domain"
	"whisper/internal/keystore"
	"whisper/internal/services/message"
	"whisper/internal/services/prekey"
	"whisper/internal/services/session"
	"whisper/internal/store"
	"whisper/internal/testutil"
)

func seq(from byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = from + byte(i)
	}
	return b
}

// fixedDevice registers a device whose keystore replays keys (identity,
// registration id, signed pre-key, one-time pre-keys) and whose engine
// replays engineKeys.
func (n *network) fixedDevice(t *testing.T, name string, keys [][]byte, engineKeys ...[]byte) *device {
	t.Helper()
	ctx := context.Background()
	addr := domain.Address{Name: name, DeviceID: 1}
	kv := &flakyKV{Memory: store.NewMemory()}
	ks := keystore.New(kv,
		keystore.WithRand(testutil.NewKeyQueue(name+"/keystore", keys...)),
		keystore.WithClock(func() time.Time { return epoch }),
		keystore.WithBatchSize(1),
	)
	_, err := ks.Init(ctx)
	require.NoError(t, err)

	engine := session.New(ks, addr, session.WithRand(testutil.NewKeyQueue(name+"/engine", engineKeys...)))
	pre := prekey.New(addr, ks, n.dir, nil)
	require.NoError(t, pre.Register(ctx))
	return &device{
		addr:   addr,
		kv:     kv,
		keys:   ks,
		engine: engine,
		drv:    message.New(addr, engine, n.dir, n.transport, pre),
	}
}

func TestReferenceVector(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	alice := net.fixedDevice(t, "alice",
		[][]byte{seq(0x00), {0x34, 0x12}, testutil.Bytes(0xa1, 32), testutil.Bytes(0xa2, 32)},
		testutil.Bytes(0xc1, 32), testutil.Bytes(0xc2, 32))
	// bob's last keystore key tops the pool back up after the handshake
	bob := net.fixedDevice(t, "bob",
		[][]byte{seq(0x20), {0x78, 0x06}, testutil.Bytes(0xb1, 32), testutil.Bytes(0xb2, 32), testutil.Bytes(0xb3, 32)},
		testutil.Bytes(0xd1, 32))

	env, err := alice.drv.EncryptOutgoing(ctx, bob.addr, []byte("hello, bob"))
	require.NoError(t, err)
	require.Equal(t, domain.EnvelopePreKey, env.Type)

	const want = "33080112210542575d5c8a93833255e09f04054a4f6246d36ed163c1c7f80c1fc9a58a0e912d1a21058f40c5" +
		"adb68f25624ae5b214ea767a6ec94d829d3d7b5e1ad1ba6f3e2138285f2242330a2105b63d05558f21e85cf2" +
		"e5721509301077a508733b05dff3e6f518ea04aec42c65100018002210bafee3b73db971baa8b0450d95ba2b" +
		"5db60acd25711e6d6b28b4243001"
	require.Equal(t, want, hex.EncodeToString(env.Body))

	msg, err := bob.drv.DecryptIncoming(ctx, env)
	require.NoError(t, err)
	require.Equal(t, alice.addr, msg.From)
	require.Equal(t, "hello, bob", string(msg.Body))
	require.False(t, msg.EndSession)

	// the consumed pre-key was replaced and republished
	require.Equal(t, 1, net.dir.Remaining(bob.addr))
}
