package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"whisper/internal/app"
	"whisper/internal/domain"
)

var (
	home       string
	configPath string
	passphrase string
	relayURL   string
	account    string

	wire *app.Wire
)

const passphraseEnv = "WHISPER_PASSPHRASE"

func loadConfig() (*app.Config, error) {
	if home == "" {
		dir, err := app.DefaultHome()
		if err != nil {
			return nil, err
		}
		home = dir
	}
	if configPath == "" {
		configPath = filepath.Join(home, "whisper.toml")
	}
	cfg, err := app.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Home = home
	if cfg.Account == nil {
		cfg.Account = &app.Account{}
	}
	if account != "" {
		cfg.Account.Name = account
	}
	if relayURL != "" {
		if cfg.Relay == nil {
			cfg.Relay = &app.Relay{}
		}
		cfg.Relay.URL = relayURL
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the CLI until ctx is cancelled or the command returns.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:          "whisper",
		Short:        "End-to-end encrypted messaging over a store-and-forward relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = os.Getenv(passphraseEnv)
			}
			if passphrase == "" && cfg.Keystore.Backend != "memory" {
				return fmt.Errorf("passphrase required (-p or $%s)", passphraseEnv)
			}
			wire, err = app.NewWire(cfg, passphrase, nil)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.whisper)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/whisper.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the key store")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&account, "name", "", "account name, overrides [Account] Name")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		rotateCmd(),
		sendCmd(),
		recvCmd(),
		endCmd(),
	)
	return root.ExecuteContext(ctx)
}

func parsePeer(s string) (domain.Address, error) {
	addr, err := domain.ParseAddress(s)
	if err != nil {
		return domain.Address{}, fmt.Errorf("peer: %w", err)
	}
	return addr, nil
}
