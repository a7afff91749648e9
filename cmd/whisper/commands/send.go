package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <peer> <message>: encrypt and send a message to <peer>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			env, err := wire.Messages.Send(cmd.Context(), peer, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("sent (%s)\n", env.Type)
			return nil
		},
	}
}

// end <peer>: close the session and tell the peer.
func endCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <peer>",
		Short: "End the session with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			if err := wire.Messages.End(cmd.Context(), peer); err != nil {
				return err
			}
			fmt.Println("session ended")
			return nil
		},
	}
}
