package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newPeersCommand(opts *peerOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List peers currently joined to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := opts.start(cmd, nil)
			if err != nil {
				return err
			}
			defer ps.Close()

			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-ps.node.Directory().Synced():
			case <-timer.C:
				ps.logger.Warn("Relay did not send a peer list in time")
			case <-ps.ctx.Done():
				return ps.runErr()
			}

			printPeers(cmd.OutOrStdout(), ps.node.Directory().List())
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the relay's peer list")
	return cmd
}
