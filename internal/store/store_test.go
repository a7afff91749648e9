package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"whisper/internal/domain"
	"whisper/internal/store"
)

// Cheap scrypt cost keeps the persistent backends fast under test.
var fastKDF = store.WithScrypt(1<<10, 8, 1)

type backend struct {
	name string
	open func(t *testing.T) domain.KeyValueStore
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) domain.KeyValueStore { return store.NewMemory() }},
		{"bolt", func(t *testing.T) domain.KeyValueStore {
			s, err := store.OpenBolt(filepath.Join(t.TempDir(), "keys.db"), "pass", fastKDF)
			require.NoError(t, err)
			return s
		}},
		{"file", func(t *testing.T) domain.KeyValueStore {
			s, err := store.OpenFile(filepath.Join(t.TempDir(), "keys.json"), "pass", fastKDF)
			require.NoError(t, err)
			return s
		}},
	}
}

func TestBackends_GetPut(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			defer kv.Close()

			_, ok, err := kv.GetEncrypted(ctx, "25519KeyidentityKey")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, kv.PutEncrypted(ctx, "25519KeyidentityKey", []byte("secret")))
			require.NoError(t, kv.PutUnencrypted(ctx, "registrationId", []byte{1, 2}))

			v, ok, err := kv.GetEncrypted(ctx, "25519KeyidentityKey")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("secret"), v)

			v, ok, err = kv.GetUnencrypted(ctx, "registrationId")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte{1, 2}, v)

			// Namespaces are disjoint.
			_, ok, err = kv.GetUnencrypted(ctx, "25519KeyidentityKey")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, kv.PutEncrypted(ctx, "25519KeyidentityKey", []byte("rotated")))
			v, _, err = kv.GetEncrypted(ctx, "25519KeyidentityKey")
			require.NoError(t, err)
			require.Equal(t, []byte("rotated"), v)
		})
	}
}

func TestBackends_RemoveAndKeys(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			defer kv.Close()

			for _, k := range []string{"25519KeypreKey3", "25519KeypreKey1", "25519KeypreKey2", "25519KeysignedKey1"} {
				require.NoError(t, kv.PutEncrypted(ctx, k, []byte(k)))
			}

			keys, err := kv.Keys(ctx, domain.NamespaceEncrypted, "25519KeypreKey")
			require.NoError(t, err)
			require.Equal(t, []string{"25519KeypreKey1", "25519KeypreKey2", "25519KeypreKey3"}, keys)

			require.NoError(t, kv.Remove(ctx, domain.NamespaceEncrypted, "25519KeypreKey2"))
			require.NoError(t, kv.Remove(ctx, domain.NamespaceEncrypted, "absent"))

			keys, err = kv.Keys(ctx, domain.NamespaceEncrypted, "25519KeypreKey")
			require.NoError(t, err)
			require.Equal(t, []string{"25519KeypreKey1", "25519KeypreKey3"}, keys)

			keys, err = kv.Keys(ctx, domain.NamespaceUnencrypted, "")
			require.NoError(t, err)
			require.Empty(t, keys)
		})
	}
}

func TestBackends_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			defer kv.Close()

			require.NoError(t, kv.PutEncrypted(ctx, "25519KeypreKey7", []byte("opk")))

			var batch domain.Batch
			batch.PutEncrypted("sessionbob.1", []byte("record"))
			batch.PutUnencrypted("identityKeybob", []byte("key"))
			batch.Remove(domain.NamespaceEncrypted, "25519KeypreKey7")
			require.NoError(t, kv.Apply(ctx, &batch))

			v, ok, err := kv.GetEncrypted(ctx, "sessionbob.1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("record"), v)

			_, ok, err = kv.GetUnencrypted(ctx, "identityKeybob")
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = kv.GetEncrypted(ctx, "25519KeypreKey7")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBackends_CancelledContextWritesNothing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			defer kv.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			var batch domain.Batch
			batch.PutEncrypted("sessionbob.1", []byte("record"))
			require.ErrorIs(t, kv.Apply(ctx, &batch), context.Canceled)

			_, ok, err := kv.GetEncrypted(context.Background(), "sessionbob.1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBackends_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			defer kv.Close()

			in := []byte("chain")
			require.NoError(t, kv.PutEncrypted(ctx, "k", in))
			in[0] = 'X'

			out, _, err := kv.GetEncrypted(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, []byte("chain"), out)
			out[0] = 'Y'

			again, _, err := kv.GetEncrypted(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, []byte("chain"), again)
		})
	}
}

func TestBolt_ReopenAndWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")

	s, err := store.OpenBolt(path, "correct", fastKDF)
	require.NoError(t, err)
	require.NoError(t, s.PutEncrypted(ctx, "25519KeyidentityKey", []byte("id")))
	require.NoError(t, s.Close())

	_, err = store.OpenBolt(path, "wrong", fastKDF)
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	s, err = store.OpenBolt(path, "correct")
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetEncrypted(ctx, "25519KeyidentityKey")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("id"), v)
}

func TestFile_ReopenAndWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")

	s, err := store.OpenFile(path, "correct", fastKDF)
	require.NoError(t, err)
	require.NoError(t, s.PutEncrypted(ctx, "25519KeyidentityKey", []byte("id")))
	require.NoError(t, s.PutUnencrypted(ctx, "registrationId", []byte{7}))
	require.NoError(t, s.Close())

	_, err = store.OpenFile(path, "wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	s, err = store.OpenFile(path, "correct")
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetEncrypted(ctx, "25519KeyidentityKey")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("id"), v)
}

func TestFile_SecretsNotInPlaintext(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.json")

	s, err := store.OpenFile(path, "pass", fastKDF)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.PutEncrypted(ctx, "k", []byte("very-secret-material")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "very-secret-material")
	// base64 of the plaintext must not appear either
	require.NotContains(t, string(raw), "dmVyeS1zZWNyZXQtbWF0ZXJpYWw")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestBackends_ClosedStore(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		if b.name == "bolt" {
			continue // bbolt reports its own closed-database error
		}
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			require.NoError(t, kv.Close())
			_, _, err := kv.GetEncrypted(ctx, "k")
			require.ErrorIs(t, err, store.ErrClosed)
			require.ErrorIs(t, kv.PutUnencrypted(ctx, "k", []byte{1}), store.ErrClosed)
		})
	}
}
