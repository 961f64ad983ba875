package relay

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nearsend/nearsend/internal/protocol"
)

type member struct {
	id   string
	name string
	// seq orders the peer list by join time.
	seq uint64
	out Outbox
}

// Registry tracks connected peers and routes relay messages between them.
// All outbox sends happen under mu so every peer observes registry events
// in the same order.
type Registry struct {
	mu      sync.Mutex
	members map[string]*member
	seq     uint64
	newID   func() string
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*member),
		newID:   uuid.NewString,
	}
}

// ValidName reports whether name can be registered by a join.
func ValidName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && utf8.RuneCountInString(trimmed) <= protocol.MaxNameLength
}

// Connect registers a new connection and tells it its id.
func (r *Registry) Connect(out Outbox) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	r.members[id] = &member{id: id, out: out}
	out.Send(&protocol.SocketID{ID: id})
	return id
}

// Join names the peer, announces it to everyone else and replies with the
// named peers already present. Invalid names are ignored and false is
// returned. Joining again renames the peer and announces it again.
func (r *Registry) Join(id, name string) bool {
	if !ValidName(name) {
		return false
	}
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return false
	}
	if m.name == "" {
		r.seq++
		m.seq = r.seq
	}
	m.name = name

	joined := &protocol.PeerJoined{ID: id, Name: name}
	others := make([]*member, 0, len(r.members))
	for _, other := range r.members {
		if other.id == id {
			continue
		}
		other.out.Send(joined)
		if other.name != "" {
			others = append(others, other)
		}
	}

	slices.SortFunc(others, func(a, b *member) int {
		return cmp.Compare(a.seq, b.seq)
	})
	list := make(protocol.PeerList, 0, len(others))
	for _, other := range others {
		list = append(list, protocol.PeerInfo{ID: other.id, Name: other.name})
	}
	m.out.Send(list)
	return true
}

// Relay forwards payload untouched from one peer to another. When the
// target is not connected the sender gets an error message and false is
// returned.
func (r *Registry) Relay(from, target string, payload json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.members[target]
	if !ok {
		if sender, ok := r.members[from]; ok {
			sender.out.Send(&protocol.ErrorMessage{
				Message: fmt.Sprintf("User %s not found or disconnected.", target),
			})
		}
		return false
	}

	t.out.Send(&protocol.Signal{From: from, Target: target, Payload: payload})
	return true
}

// Disconnect removes the peer. Other peers are told it left only if it had
// joined. It reports whether the peer had joined.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return false
	}
	delete(r.members, id)

	if m.name == "" {
		return false
	}
	left := &protocol.PeerLeft{ID: id}
	for _, other := range r.members {
		other.out.Send(left)
	}
	return true
}

// Counts returns the number of connected and joined peers.
func (r *Registry) Counts() (connected, joined int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if m.name != "" {
			joined++
		}
	}
	return len(r.members), joined
}
