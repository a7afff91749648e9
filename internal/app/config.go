package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"whisper/internal/keystore"
	"whisper/internal/log"
)

const (
	defaultBackend  = "bolt"
	defaultRelayURL = "http://127.0.0.1:8080"
	defaultTimeout  = 10 * time.Second
	defaultLogLevel = "NOTICE"
	defaultListen   = ":8080"
)

// Account names the local device.
type Account struct {
	Name     string
	DeviceID uint32 `validate:"gte=1"`
}

// Keystore selects the key-value backend and the pre-key policy.
type Keystore struct {
	// Backend is one of bolt, file or memory.
	Backend string `validate:"oneof=bolt file memory"`
	// Path of the database or document; relative paths are under Home.
	Path           string
	PreKeyBatch    int `validate:"gte=1"`
	PreKeyLowWater int `validate:"gte=0,ltefield=PreKeyBatch"`
}

// Relay is where envelopes and bundles are exchanged.
type Relay struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gte=0"`
}

// Server configures the relay daemon.
type Server struct {
	Listen string `validate:"required"`
}

// Logging configures the log backend.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool
	// File specifies the log file, if omitted stderr will be used.
	File string
	// Level specifies the log level.
	Level string `validate:"oneof=ERROR WARNING NOTICE INFO DEBUG"`
}

// Config is the top level configuration.
type Config struct {
	// Home is the state directory, e.g. $HOME/.whisper.
	Home     string `toml:"-"`
	Account  *Account
	Keystore *Keystore
	Relay    *Relay
	Server   *Server
	Logging  *Logging
}

// FixupAndValidate applies defaults to unset fields and validates the result.
func (c *Config) FixupAndValidate() error {
	if c.Account == nil {
		c.Account = &Account{}
	}
	if c.Account.DeviceID == 0 {
		c.Account.DeviceID = 1
	}
	if c.Keystore == nil {
		c.Keystore = &Keystore{}
	}
	ks := c.Keystore
	if ks.Backend == "" {
		ks.Backend = defaultBackend
	}
	if ks.Path == "" {
		ks.Path = "keystore." + ks.Backend
	}
	if !filepath.IsAbs(ks.Path) && c.Home != "" {
		ks.Path = filepath.Join(c.Home, ks.Path)
	}
	if ks.PreKeyBatch == 0 {
		ks.PreKeyBatch = keystore.DefaultBatchSize
	}
	if ks.PreKeyLowWater == 0 {
		ks.PreKeyLowWater = min(keystore.DefaultLowWater, ks.PreKeyBatch)
	}
	if c.Relay == nil {
		c.Relay = &Relay{}
	}
	if c.Relay.URL == "" {
		c.Relay.URL = defaultRelayURL
	}
	c.Relay.URL = strings.TrimRight(c.Relay.URL, "/")
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = defaultTimeout
	}
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Level = strings.ToUpper(c.Logging.Level)

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ErrNoAccount is returned when a device command runs without Account.Name.
var ErrNoAccount = errors.New("config: Account.Name is required")

// InitLogBackend builds the log backend described by the Logging section.
func (c *Config) InitLogBackend() (*log.Backend, error) {
	f := c.Logging.File
	if !c.Logging.Disable && f != "" && !filepath.IsAbs(f) {
		return nil, errors.New("config: log file path must be absolute path")
	}
	return log.New(f, c.Logging.Level, c.Logging.Disable)
}

// Load parses b as a config file body. Unknown keys are an error. Defaults
// are not applied.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	return cfg, nil
}

// LoadFile loads f. A missing file yields an empty Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if errors.Is(err, os.ErrNotExist) {
		return new(Config), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(b)
}
