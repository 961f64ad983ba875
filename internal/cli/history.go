package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/store"
)

func newHistoryCommand(opts *peerOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := store.Open(opts.dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = ledger.Close() }()

			transfers, err := ledger.ListTransfers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), transfers)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of transfers to show, 0 for all")
	return cmd
}

func printHistory(w io.Writer, transfers []store.Transfer) {
	if len(transfers) == 0 {
		fmt.Fprintln(w, "No transfers yet")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDIRECTION\tPEER\tFILE\tSIZE\tSTATUS")
	for _, t := range transfers {
		status := string(t.Status)
		if t.Status != store.StatusCompleted {
			status = fmt.Sprintf("%s (%s of %s)", t.Status, humanize.IBytes(uint64(t.Bytes)), humanize.IBytes(uint64(t.Size)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(t.CreatedAt), t.Direction, t.PeerName, t.FileName, humanize.IBytes(uint64(t.Size)), status)
	}
	_ = tw.Flush()
}

func printPeers(w io.Writer, peers []protocol.PeerInfo) {
	if len(peers) == 0 {
		fmt.Fprintln(w, "No other peers online")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.ID)
	}
	_ = tw.Flush()
}
