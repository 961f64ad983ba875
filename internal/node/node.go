// Package node is a complete peer: it joins the relay, answers and places
// calls through a session manager, and sends or receives one file at a
// time over each established data channel.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/session"
	"github.com/nearsend/nearsend/internal/transfer"
)

// ReceivedFile is a completed incoming transfer.
type ReceivedFile struct {
	PeerID   string
	PeerName string
	transfer.Completed
}

type Node struct {
	config    Config
	logger    logrus.FieldLogger
	manager   *session.Manager
	directory *Directory
	received  chan ReceivedFile

	mu    sync.Mutex
	links map[string]*link
	calls map[string]chan *link
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	n := &Node{
		config:    cfg,
		logger:    cfg.Logger,
		directory: NewDirectory(),
		received:  make(chan ReceivedFile, receivedBuffer),
		links:     make(map[string]*link),
		calls:     make(map[string]chan *link),
	}
	n.manager = session.NewManager(session.Config{
		Factory:          cfg.Factory,
		Signaler:         cfg.Relay,
		Observer:         (*observer)(n),
		Clock:            cfg.Clock,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           cfg.Logger,
	})
	return n, nil
}

func (n *Node) Directory() *Directory {
	return n.directory
}

// Received delivers every file this node finished receiving. Files are
// dropped from the channel, not from disk, when nobody reads it.
func (n *Node) Received() <-chan ReceivedFile {
	return n.received
}

// Run joins the relay and processes relay messages, connection events and
// stall checks until ctx is done or the relay connection ends.
func (n *Node) Run(ctx context.Context) error {
	if err := n.config.Relay.Join(n.config.Name); err != nil {
		return fmt.Errorf("failed to join relay: %w", err)
	}
	n.logger.WithField("name", n.config.Name).Info("Joined relay")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.manager.Run(gctx) })
	g.Go(func() error { return n.relayLoop(gctx) })
	g.Go(func() error {
		n.expireLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (n *Node) relayLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-n.config.Relay.Messages():
			if !ok {
				return ErrRelayClosed
			}
			n.handleRelayMessage(msg)
		}
	}
}

func (n *Node) handleRelayMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SocketID:
		n.logger.WithField("id", m.ID).Debug("Relay assigned id")
	case *protocol.PeerList:
		n.directory.Replace(*m)
		n.logger.Infof("%d peer(s) online", len(*m))
	case *protocol.PeerJoined:
		n.directory.Add(protocol.PeerInfo(*m))
		n.logger.WithFields(logrus.Fields{"peer": m.ID, "name": m.Name}).Info("Peer joined")
	case *protocol.PeerLeft:
		if p, ok := n.directory.Remove(m.ID); ok {
			n.logger.WithFields(logrus.Fields{"peer": p.ID, "name": p.Name}).Info("Peer left")
		}
		n.manager.Disconnect(m.ID)
	case *protocol.Signal:
		n.manager.HandleSignal(m)
	case *protocol.ErrorMessage:
		n.logger.Warnf("Relay error: %s", m.Message)
	default:
		n.logger.Debugf("Ignoring relay message %s", msg.Type())
	}
}

func (n *Node) expireLoop(ctx context.Context) {
	ticker := n.config.Clock.Ticker(n.config.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, l := range n.snapshot() {
				l.receiver.Expire(now)
			}
		}
	}
}

func (n *Node) snapshot() []*link {
	n.mu.Lock()
	defer n.mu.Unlock()
	links := make([]*link, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	return links
}

// SendFile waits for a peer called name, connects to it and sends f. It
// returns once the whole file has left the local buffer. progress, when
// set, is called periodically and once at the end.
func (n *Node) SendFile(ctx context.Context, name string, f *transfer.File, progress func(transfer.Progress)) error {
	peer, err := n.directory.Wait(ctx, name)
	if err != nil {
		return fmt.Errorf("waiting for peer %q: %w", name, err)
	}
	log := n.logger.WithFields(logrus.Fields{"peer": peer.ID, "name": peer.Name})

	log.Info("Connecting to peer")
	l, err := n.connect(ctx, peer.ID)
	if err != nil {
		return err
	}

	stop := n.watchProgress(l.sender, progress)
	err = l.sender.SendFile(ctx, f)
	if err == nil {
		err = l.sender.Drain(ctx)
	}
	stop()

	n.recordSent(peer, f, l.sender.Status(), err)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", f.Name, peer.Name, err)
	}
	return nil
}

// connect starts a call to peerID and waits for its data channel.
func (n *Node) connect(ctx context.Context, peerID string) (*link, error) {
	pending := make(chan *link, 1)
	n.mu.Lock()
	n.calls[peerID] = pending
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		if n.calls[peerID] == pending {
			delete(n.calls, peerID)
		}
		n.mu.Unlock()
	}()

	n.manager.StartCall(peerID)

	var l *link
	select {
	case l = <-pending:
	case <-ctx.Done():
		n.manager.Disconnect(peerID)
		return nil, ctx.Err()
	}

	select {
	case <-l.ready:
		return l, nil
	case <-l.done:
		return nil, ErrConnectionFailed
	case <-ctx.Done():
		n.manager.Disconnect(peerID)
		return nil, ctx.Err()
	}
}

// Disconnect closes the connection to peerID, if any.
func (n *Node) Disconnect(peerID string) {
	n.manager.Disconnect(peerID)
}

func (n *Node) watchProgress(s *transfer.Sender, fn func(transfer.Progress)) func() {
	if fn == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := n.config.Clock.Ticker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fn(s.Status().Progress)
				return
			case <-ticker.C:
				if st := s.Status(); st.Sending {
					fn(st.Progress)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
