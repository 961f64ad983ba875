package session

import (
	"github.com/benbjohnson/clock"

	"github.com/nearsend/nearsend/internal/transport"
)

// Handle addresses one record in the arena. A handle outlives its record:
// once the slot is reused the generation differs and lookups fail.
type Handle struct {
	index      int
	generation uint32
}

type record struct {
	peerID  string
	state   State
	pc      transport.PeerConnection
	channel transport.Channel
	timer   *clock.Timer
}

type slot struct {
	generation uint32
	rec        *record
}

type arena struct {
	slots  []slot
	free   []int
	byPeer map[string]Handle
}

func newArena() *arena {
	return &arena{byPeer: make(map[string]Handle)}
}

// insert stores rec and indexes it by peer id. The caller removes any
// previous record for the peer first.
func (a *arena) insert(rec *record) Handle {
	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = len(a.slots)
		a.slots = append(a.slots, slot{})
	}

	a.slots[idx].generation++
	a.slots[idx].rec = rec
	h := Handle{index: idx, generation: a.slots[idx].generation}
	a.byPeer[rec.peerID] = h
	return h
}

func (a *arena) get(h Handle) *record {
	if h.index < 0 || h.index >= len(a.slots) {
		return nil
	}
	s := a.slots[h.index]
	if s.generation != h.generation {
		return nil
	}
	return s.rec
}

func (a *arena) lookup(peerID string) (Handle, *record) {
	h, ok := a.byPeer[peerID]
	if !ok {
		return Handle{}, nil
	}
	return h, a.get(h)
}

func (a *arena) remove(h Handle) {
	rec := a.get(h)
	if rec == nil {
		return
	}
	if cur, ok := a.byPeer[rec.peerID]; ok && cur == h {
		delete(a.byPeer, rec.peerID)
	}
	a.slots[h.index].rec = nil
	a.slots[h.index].generation++
	a.free = append(a.free, h.index)
}

func (a *arena) handles() []Handle {
	hs := make([]Handle, 0, len(a.byPeer))
	for _, h := range a.byPeer {
		hs = append(hs, h)
	}
	return hs
}
