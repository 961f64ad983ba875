package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/node"
	"github.com/nearsend/nearsend/internal/signaling"
	"github.com/nearsend/nearsend/internal/store"
	"github.com/nearsend/nearsend/internal/transfer"
	"github.com/nearsend/nearsend/internal/transport/webrtc"
)

// peerSession is a running node joined to the relay. Its ctx is cancelled
// when the node stops for any reason.
type peerSession struct {
	node   *node.Node
	ctx    context.Context
	logger logrus.FieldLogger

	client *signaling.Client
	ledger *store.Store
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (o *peerOptions) logger(cmd *cobra.Command) *logrus.Logger {
	return logger.New(cmd.ErrOrStderr(), logger.ParseLevel(o.logLevel))
}

func (o *peerOptions) start(cmd *cobra.Command, sink transfer.Sink) (*peerSession, error) {
	ctx := cmd.Context()
	log := o.logger(cmd)

	ledger, err := store.Open(o.dbPath)
	if err != nil {
		return nil, err
	}

	client := signaling.NewClient(signaling.Config{URL: o.relayURL, Logger: log})
	if err := client.Connect(ctx); err != nil {
		_ = ledger.Close()
		return nil, err
	}

	n, err := node.New(node.Config{
		Name:             o.name,
		Relay:            client,
		Factory:          webrtc.NewFactory(webrtc.Config{STUNServers: o.stunServers}, log),
		Sink:             sink,
		Ledger:           ledger,
		HandshakeTimeout: o.handshakeTimeout,
		StallTimeout:     o.stallTimeout,
		Logger:           log,
	})
	if err != nil {
		_ = client.Close()
		_ = ledger.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	ps := &peerSession{
		node:   n,
		ctx:    runCtx,
		logger: log,
		client: client,
		ledger: ledger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(ps.done)
		err := n.Run(runCtx)
		if !errors.Is(err, context.Canceled) {
			ps.err = err
		}
		cancel()
	}()
	return ps, nil
}

// runErr is the reason the node stopped, once ctx is done. It is nil for
// an ordinary shutdown.
func (ps *peerSession) runErr() error {
	<-ps.done
	return ps.err
}

// fail prefers the node's own failure over the error it caused.
func (ps *peerSession) fail(err error) error {
	if ps.ctx.Err() != nil {
		if runErr := ps.runErr(); runErr != nil {
			return fmt.Errorf("relay: %w", runErr)
		}
	}
	return err
}

func (ps *peerSession) Close() {
	ps.cancel()
	<-ps.done
	_ = ps.client.Close()
	_ = ps.ledger.Close()
}
