package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"whisper/internal/domain"
	"whisper/internal/keystore"
	"whisper/internal/log"
	"whisper/internal/metrics"
	"whisper/internal/relay"
	identitysvc "whisper/internal/services/identity"
	messagesvc "whisper/internal/services/message"
	prekeysvc "whisper/internal/services/prekey"
	sessionsvc "whisper/internal/services/session"
	"whisper/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   *Config
	Log      *log.Backend
	Registry *prometheus.Registry

	Store    domain.KeyValueStore
	Keys     *keystore.Store
	Relay    *relay.HTTP
	Identity *identitysvc.Service
	Prekey   *prekeysvc.Service
	Sessions *sessionsvc.Service
	Messages *messagesvc.Service
}

// DefaultHome returns $HOME/.whisper.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".whisper"), nil
}

// Address is the local device address.
func (c *Config) Address() domain.Address {
	return domain.Address{Name: c.Account.Name, DeviceID: c.Account.DeviceID}
}

func openStore(cfg *Keystore, passphrase string) (domain.KeyValueStore, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.OpenFile(cfg.Path, passphrase)
	case "bolt":
		return store.OpenBolt(cfg.Path, passphrase)
	default:
		return nil, fmt.Errorf("config: unknown keystore backend %q", cfg.Backend)
	}
}

// NewWire constructs the dependency graph from cfg, which must have been
// through FixupAndValidate. hc may be nil.
func NewWire(cfg *Config, passphrase string, hc *http.Client) (*Wire, error) {
	if cfg.Account.Name == "" {
		return nil, ErrNoAccount
	}
	if cfg.Home != "" {
		if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
			return nil, err
		}
	}
	lb, err := cfg.InitLogBackend()
	if err != nil {
		return nil, err
	}

	kv, err := openStore(cfg.Keystore, passphrase)
	if err != nil {
		lb.Close()
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	if hc == nil {
		hc = &http.Client{Timeout: cfg.Relay.Timeout}
	}
	rc := relay.NewHTTP(cfg.Relay.URL, hc)

	addr := cfg.Address()
	reg := prometheus.NewRegistry()
	keys := keystore.New(kv,
		keystore.WithBatchSize(cfg.Keystore.PreKeyBatch),
		keystore.WithLowWater(cfg.Keystore.PreKeyLowWater),
		keystore.WithLogger(lb.GetLogger("keystore")),
	)
	prekeys := prekeysvc.New(addr, keys, rc, lb.GetLogger("prekey"))
	sessions := sessionsvc.New(keys, addr, sessionsvc.WithLogger(lb.GetLogger("session")))
	messages := messagesvc.New(addr, sessions, rc, rc, prekeys,
		messagesvc.WithMetrics(metrics.NewDriver(reg)),
		messagesvc.WithLogger(lb.GetLogger("driver")),
	)

	return &Wire{
		Config:   cfg,
		Log:      lb,
		Registry: reg,
		Store:    kv,
		Keys:     keys,
		Relay:    rc,
		Identity: identitysvc.New(keys, lb.GetLogger("identity")),
		Prekey:   prekeys,
		Sessions: sessions,
		Messages: messages,
	}, nil
}

// Close releases the key-value store and the log backend.
func (w *Wire) Close() error {
	return errors.Join(w.Store.Close(), w.Log.Close())
}
