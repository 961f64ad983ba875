package node

import (
	"context"
	"strings"
	"sync"

	"github.com/nearsend/nearsend/internal/protocol"
)

// Directory mirrors the relay's view of the other named peers, built from
// peer-list, peer-joined and peer-left messages.
type Directory struct {
	mu         sync.Mutex
	peers      []protocol.PeerInfo
	changed    chan struct{}
	synced     chan struct{}
	syncedOnce sync.Once
}

func NewDirectory() *Directory {
	return &Directory{
		changed: make(chan struct{}),
		synced:  make(chan struct{}),
	}
}

// Replace swaps the whole directory for list.
func (d *Directory) Replace(list protocol.PeerList) {
	d.mu.Lock()
	d.peers = append([]protocol.PeerInfo(nil), list...)
	d.notifyLocked()
	d.mu.Unlock()
	d.syncedOnce.Do(func() { close(d.synced) })
}

// Synced is closed once the first full peer list has arrived.
func (d *Directory) Synced() <-chan struct{} {
	return d.synced
}

// Add records a peer. A known id is renamed in place.
func (d *Directory) Add(p protocol.PeerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.peers {
		if d.peers[i].ID == p.ID {
			d.peers[i].Name = p.Name
			d.notifyLocked()
			return
		}
	}
	d.peers = append(d.peers, p)
	d.notifyLocked()
}

func (d *Directory) Remove(id string) (protocol.PeerInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, p := range d.peers {
		if p.ID == id {
			d.peers = append(d.peers[:i], d.peers[i+1:]...)
			d.notifyLocked()
			return p, true
		}
	}
	return protocol.PeerInfo{}, false
}

// List returns the peers in the order they became known.
func (d *Directory) List() []protocol.PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.PeerInfo{}, d.peers...)
}

// Name returns the display name of id, or id itself when unknown.
func (d *Directory) Name(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

// Lookup finds a peer by display name, ignoring case and surrounding
// whitespace. The earliest peer wins when names collide.
func (d *Directory) Lookup(name string) (protocol.PeerInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(name)
}

func (d *Directory) lookupLocked(name string) (protocol.PeerInfo, bool) {
	name = strings.TrimSpace(name)
	for _, p := range d.peers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return protocol.PeerInfo{}, false
}

// Wait blocks until a peer named name is present or ctx is done.
func (d *Directory) Wait(ctx context.Context, name string) (protocol.PeerInfo, error) {
	for {
		d.mu.Lock()
		p, ok := d.lookupLocked(name)
		changed := d.changed
		d.mu.Unlock()
		if ok {
			return p, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return protocol.PeerInfo{}, ctx.Err()
		}
	}
}

func (d *Directory) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
