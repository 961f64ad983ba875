package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/relay"
)

// NewRelayCommand builds the nearsend-relay root command.
func NewRelayCommand() *cobra.Command {
	var (
		addr     string
		origins  []string
		rps      float64
		burst    int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "nearsend-relay",
		Short: "Run the nearsend signaling relay",
		Long: `nearsend-relay tracks connected peers and forwards handshake
messages between them. File bytes never pass through it.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(cmd.ErrOrStderr(), logger.ParseLevel(logLevel))

			srv, err := relay.NewServer(relay.Config{
				Addr:           addr,
				AllowedOrigins: origins,
				SignalRate:     rate.Limit(rps),
				SignalBurst:    burst,
				Logger:         log,
			})
			if err != nil {
				return err
			}

			err = srv.Start(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", defaultRelayAddr(), "listen address (env PORT sets :PORT)")
	flags.StringSliceVar(&origins, "cors-origin", defaultOrigins(), "allowed browser origins, * for any (env CORS_ORIGIN)")
	flags.Float64Var(&rps, "signal-rate", float64(relay.DefaultSignalRate), "signals per second allowed per connection")
	flags.IntVar(&burst, "signal-burst", relay.DefaultSignalBurst, "signal burst allowed per connection")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func defaultRelayAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return relay.DefaultAddr
}

func defaultOrigins() []string {
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		return []string{origin}
	}
	return []string{"*"}
}
