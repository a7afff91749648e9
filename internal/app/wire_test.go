package app_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"whisper/internal/app"
	"whisper/internal/relay"
	"whisper/internal/store"
)

func newConfig(t *testing.T, name, backend, relayURL string) *app.Config {
	t.Helper()
	cfg := &app.Config{
		Home:     t.TempDir(),
		Account:  &app.Account{Name: name},
		Keystore: &app.Keystore{Backend: backend, PreKeyBatch: 5, PreKeyLowWater: 2},
		Relay:    &app.Relay{URL: relayURL},
		Logging:  &app.Logging{Disable: true},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func newRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(relay.NewServer().Router(nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestNewWire_Conversation(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t)

	var wires []*app.Wire
	for _, name := range []string{"alice", "bob"} {
		w, err := app.NewWire(newConfig(t, name, "memory", url), "", nil)
		require.NoError(t, err)
		t.Cleanup(func() { w.Close() })
		_, created, err := w.Identity.Init(ctx)
		require.NoError(t, err)
		require.True(t, created)
		require.NoError(t, w.Prekey.Register(ctx))
		wires = append(wires, w)
	}
	alice, bob := wires[0], wires[1]

	_, err := alice.Messages.Send(ctx, bob.Config.Address(), []byte("wired up"))
	require.NoError(t, err)
	msgs, err := bob.Messages.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "wired up", string(msgs[0].Body))

	families, err := alice.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewWire_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t)
	cfg := newConfig(t, "carol", "bolt", url)

	w, err := app.NewWire(cfg, "correct horse battery staple", nil)
	require.NoError(t, err)
	_, _, err = w.Identity.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = app.NewWire(cfg, "wrong passphrase entirely", nil)
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	w, err = app.NewWire(cfg, "correct horse battery staple", nil)
	require.NoError(t, err)
	_, created, err := w.Identity.Init(ctx)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, w.Close())
}

func TestNewWire_RequiresAccount(t *testing.T) {
	cfg := newConfig(t, "", "memory", "http://127.0.0.1:1")
	_, err := app.NewWire(cfg, "", nil)
	require.ErrorIs(t, err, app.ErrNoAccount)
}
