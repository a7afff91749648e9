package session_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"whisper/internal/domain"
	"whisper/internal/keystore"
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

// fixedDevice loads every key the keystore and engine will generate up front:
// identity, registration id, signed pre-key, one pre-key, then engineKeys.
func fixedDevice(t *testing.T, name string, keys [][]byte, engineKeys ...[]byte) *device {
	t.Helper()
	addr := domain.Address{Name: name, DeviceID: 1}
	kv := &flakyKV{Memory: store.NewMemory()}
	ks := keystore.New(kv, keystore.WithRand(testutil.NewKeyQueue(name+"/keystore", keys...)), keystore.WithBatchSize(1))
	_, err := ks.Init(context.Background())
	require.NoError(t, err)
	return &device{
		addr: addr,
		kv:   kv,
		keys: ks,
		svc:  session.New(ks, addr, session.WithRand(testutil.NewKeyQueue(name+"/engine", engineKeys...))),
	}
}

func TestReferenceVector(t *testing.T) {
	ctx := context.Background()
	alice := fixedDevice(t, "alice",
		[][]byte{seq(0x00), {0x34, 0x12}, testutil.Bytes(0xa1, 32), testutil.Bytes(0xa2, 32)},
		testutil.Bytes(0xc1, 32), testutil.Bytes(0xc2, 32))
	bob := fixedDevice(t, "bob",
		[][]byte{seq(0x20), {0x78, 0x06}, testutil.Bytes(0xb1, 32), testutil.Bytes(0xb2, 32)},
		testutil.Bytes(0xd1, 32))

	aliceID, err := alice.keys.IdentityKeyPair(ctx)
	require.NoError(t, err)
	require.Equal(t, "8f40c5adb68f25624ae5b214ea767a6ec94d829d3d7b5e1ad1ba6f3e2138285f", hex.EncodeToString(aliceID.Public[:]))
	bobID, err := bob.keys.IdentityKeyPair(ctx)
	require.NoError(t, err)
	require.Equal(t, "358072d6365880d1aeea329adf9121383851ed21a28e3b75e965d0d2cd166254", hex.EncodeToString(bobID.Public[:]))

	require.NoError(t, alice.svc.EstablishOutgoing(ctx, bob.bundle(t, 1)))
	env := alice.send(t, bob, "hello, bob")
	require.Equal(t, domain.EnvelopePreKey, env.Type)

	const want = "33080112210542575d5c8a93833255e09f04054a4f6246d36ed163c1c7f80c1fc9a58a0e912d1a2105" +
		"8f40c5adb68f25624ae5b214ea767a6ec94d829d3d7b5e1ad1ba6f3e2138285f2242330a2105b63d05558f21e8" +
		"5cf2e5721509301077a508733b05dff3e6f518ea04aec42c651000180022101c28abe490002654745a95475f10" +
		"ae455530fe813e83b7df28b4243001"
	require.Equal(t, want, hex.EncodeToString(env.Body))

	pt, consumed, err := bob.svc.Decrypt(ctx, env)
	require.NoError(t, err)
	require.True(t, consumed)
	require.Equal(t, "hello, bob", string(pt))
}
