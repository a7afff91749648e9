package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// recv: fetch, decrypt and acknowledge queued messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := wire.Messages.Receive(cmd.Context(), limit)
			for _, m := range msgs {
				ts := time.UnixMilli(m.Timestamp).Format(time.DateTime)
				if m.EndSession {
					fmt.Printf("%s [%s] ended the session\n", ts, m.From)
					continue
				}
				fmt.Printf("%s [%s] %s\n", ts, m.From, string(m.Body))
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "some messages could not be read:")
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of envelopes to fetch (0 = relay default)")
	return cmd
}
