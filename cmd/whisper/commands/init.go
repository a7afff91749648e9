package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"whisper/internal/services/identity"
)

func initCmd() *cobra.Command {
	var register bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity and pre-keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wire.Config.Keystore.Backend != "memory" {
				if err := identity.CheckPassphrase(passphrase); err != nil {
					return err
				}
			}
			fp, created, err := wire.Identity.Init(cmd.Context())
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Identity created.\nFingerprint: %s\n", fp)
			} else {
				fmt.Printf("Identity already exists.\nFingerprint: %s\n", fp)
			}
			if register {
				if err := wire.Prekey.Register(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Registered with", wire.Config.Relay.URL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&register, "register", false, "publish the pre-key bundle right away")
	return cmd
}
