// Package cli holds the cobra commands behind the nearsend and
// nearsend-relay binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nearsend/nearsend/internal/session"
	"github.com/nearsend/nearsend/internal/transfer"
	"github.com/nearsend/nearsend/internal/transport/webrtc"
)

const (
	defaultRelayURL = "ws://localhost:3000/ws"
	defaultDBPath   = "nearsend.db"
)

// peerOptions are the flags shared by every peer command.
type peerOptions struct {
	relayURL         string
	name             string
	stunServers      []string
	dbPath           string
	handshakeTimeout time.Duration
	stallTimeout     time.Duration
	logLevel         string
}

// NewRootCommand builds the nearsend peer command tree.
func NewRootCommand() *cobra.Command {
	opts := &peerOptions{}

	cmd := &cobra.Command{
		Use:   "nearsend",
		Short: "Send files directly to a nearby peer",
		Long: `nearsend finds peers through a relay and sends files to them over a
direct WebRTC data channel.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.relayURL, "relay", defaultRelayURL, "relay websocket URL")
	flags.StringVar(&opts.name, "name", defaultName(), "display name announced to other peers")
	flags.StringSliceVar(&opts.stunServers, "stun", webrtc.DefaultSTUNServers, "STUN server URL (repeatable)")
	flags.StringVar(&opts.dbPath, "db", defaultDBPath, "transfer history database")
	flags.DurationVar(&opts.handshakeTimeout, "handshake-timeout", session.DefaultHandshakeTimeout, "give up on a connection that does not come up in time")
	flags.DurationVar(&opts.stallTimeout, "stall-timeout", transfer.DefaultStallTimeout, "abandon a transfer that makes no progress in time")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSendCommand(opts),
		newReceiveCommand(opts),
		newHistoryCommand(opts),
		newPeersCommand(opts),
	)
	return cmd
}

func defaultName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "nearsend"
}

// Execute runs cmd until it finishes or the process is interrupted.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
