package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// register: publish identity, signed pre-key and one-time pre-keys.
func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your pre-key bundle to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Prekey.Register(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Registered %s with %s\n", wire.Config.Address(), wire.Config.Relay.URL)
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signed pre-key and republish",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.Prekey.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Signed pre-key %d published\n", id)
			return nil
		},
	}
}
