package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nearsend/nearsend/internal/transfer"
)

func newReceiveCommand(opts *peerOptions) *cobra.Command {
	var (
		dir  string
		once bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for peers to send files",
		Long: `Join the relay and accept incoming connections. Every received file is
written into --dir; existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := opts.start(cmd, transfer.DirectorySink{Dir: dir})
			if err != nil {
				return err
			}
			defer ps.Close()

			ps.logger.WithField("dir", dir).Infof("Waiting for files as %q", opts.name)
			for {
				select {
				case rf := <-ps.node.Received():
					if rf.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Failed to save %s from %s: %v\n", rf.Metadata.Name, rf.PeerName, rf.Err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Received %s (%s) from %s -> %s\n",
						rf.Metadata.Name, humanize.IBytes(uint64(rf.Metadata.Size)), rf.PeerName, rf.Location)
					if once {
						return nil
					}
				case <-ps.ctx.Done():
					return ps.runErr()
				}
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory received files are written to")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first received file")
	return cmd
}
