package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nearsend/nearsend/internal/transfer"
)

func newSendCommand(opts *peerOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send --to NAME FILE",
		Short: "Send a file to a peer",
		Long: `Join the relay, wait for the peer called NAME, connect to it and send
FILE over the data channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := transfer.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			ps, err := opts.start(cmd, nil)
			if err != nil {
				return err
			}
			defer ps.Close()

			bar := newProgressBar(cmd.ErrOrStderr(), f.Size, f.Name)
			err = ps.node.SendFile(ps.ctx, to, f, func(p transfer.Progress) {
				_ = bar.Set64(p.Current)
			})
			if err != nil {
				return ps.fail(err)
			}
			_ = bar.Finish()

			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s (%s) to %s\n", f.Name, humanize.IBytes(uint64(f.Size)), to)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "display name of the receiving peer")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newProgressBar(w io.Writer, size int64, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}
