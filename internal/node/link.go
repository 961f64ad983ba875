package node

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/session"
	"github.com/nearsend/nearsend/internal/store"
	"github.com/nearsend/nearsend/internal/transfer"
	"github.com/nearsend/nearsend/internal/transport"
)

// link is the per-peer transfer state for one connection attempt.
type link struct {
	peerID   string
	sender   *transfer.Sender
	receiver *transfer.Receiver

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

func (n *Node) newLink(peerID string) *link {
	log := n.logger.WithField("peer", peerID)
	l := &link{
		peerID: peerID,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.sender = transfer.NewSender(transfer.SenderConfig{
		StallTimeout: n.config.StallTimeout,
		Clock:        n.config.Clock,
		Logger:       log,
	})
	l.receiver = transfer.NewReceiver(transfer.ReceiverConfig{
		Sink:         n.config.Sink,
		StallTimeout: n.config.StallTimeout,
		Clock:        n.config.Clock,
		Logger:       log,
		OnComplete: func(c transfer.Completed) {
			n.fileReceived(peerID, c)
		},
		OnAbandon: func(meta protocol.FileMetadata, received int64) {
			n.recordReceived(peerID, meta, received, store.StatusAbandoned, "", transfer.ErrTransferStalled)
		},
	})
	return l
}

// observer receives session callbacks on the manager's goroutine.
type observer Node

func (o *observer) OnStateChange(peerID string, state session.State) {
	n := (*Node)(o)
	n.logger.WithFields(logrus.Fields{"peer": peerID, "state": state}).Debug("Connection state changed")

	switch {
	case state == session.StateNew:
		l := n.newLink(peerID)
		n.mu.Lock()
		old := n.links[peerID]
		n.links[peerID] = l
		if pending, ok := n.calls[peerID]; ok {
			pending <- l
			delete(n.calls, peerID)
		}
		n.mu.Unlock()
		if old != nil {
			n.endLink(old)
		}
	case state == session.StateConnected:
		n.logger.WithFields(logrus.Fields{"peer": peerID, "name": n.directory.Name(peerID)}).Info("Connected to peer")
	case state.Terminal():
		n.mu.Lock()
		l := n.links[peerID]
		delete(n.links, peerID)
		n.mu.Unlock()
		if l != nil {
			n.endLink(l)
		}
		if state == session.StateFailed {
			n.logger.WithField("peer", peerID).Warn("Connection to peer failed")
		}
	}
}

func (o *observer) OnChannelOpen(peerID string, ch transport.Channel) {
	n := (*Node)(o)
	n.mu.Lock()
	l := n.links[peerID]
	n.mu.Unlock()
	if l == nil {
		n.logger.WithField("peer", peerID).Warn("Data channel opened without a connection")
		return
	}

	l.sender.SetChannel(ch)
	l.readyOnce.Do(func() { close(l.ready) })
	n.logger.WithFields(logrus.Fields{"peer": peerID, "label": ch.Label()}).Info("Data channel open")
}

func (o *observer) OnMessage(peerID string, msg transport.Message) {
	n := (*Node)(o)
	n.mu.Lock()
	l := n.links[peerID]
	n.mu.Unlock()
	if l == nil {
		return
	}
	l.receiver.HandleMessage(msg)
}

func (n *Node) endLink(l *link) {
	l.sender.SetChannel(nil)
	close(l.done)
}

func (n *Node) fileReceived(peerID string, c transfer.Completed) {
	status := store.StatusCompleted
	if c.Err != nil {
		status = store.StatusFailed
	}
	n.recordReceived(peerID, c.Metadata, c.Metadata.Size, status, c.Location, c.Err)

	rf := ReceivedFile{PeerID: peerID, PeerName: n.directory.Name(peerID), Completed: c}
	select {
	case n.received <- rf:
	default:
		n.logger.WithField("file", c.Metadata.Name).Debug("Received queue full, not reporting file")
	}
}

func (n *Node) recordReceived(peerID string, meta protocol.FileMetadata, received int64, status store.Status, location string, err error) {
	t := &store.Transfer{
		Direction: store.DirectionReceived,
		PeerID:    peerID,
		PeerName:  n.directory.Name(peerID),
		FileName:  meta.Name,
		Size:      meta.Size,
		MimeType:  meta.MimeType,
		Bytes:     received,
		Status:    status,
		Location:  location,
	}
	if err != nil {
		t.Error = err.Error()
	}
	n.record(t)
}

func (n *Node) recordSent(peer protocol.PeerInfo, f *transfer.File, st transfer.SendStatus, err error) {
	t := &store.Transfer{
		Direction: store.DirectionSent,
		PeerID:    peer.ID,
		PeerName:  peer.Name,
		FileName:  f.Name,
		Size:      f.Size,
		MimeType:  f.MimeType,
		Bytes:     st.Progress.Current,
		Status:    store.StatusCompleted,
	}
	if err != nil {
		t.Status = store.StatusFailed
		t.Error = err.Error()
	}
	n.record(t)
}

func (n *Node) record(t *store.Transfer) {
	if n.config.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := n.config.Ledger.RecordTransfer(ctx, t); err != nil {
		n.logger.WithError(err).WithField("file", t.FileName).Error("Failed to record transfer")
	}
}
