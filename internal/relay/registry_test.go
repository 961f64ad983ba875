package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearsend/nearsend/internal/protocol"
)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Send(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) take() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.msgs
	r.msgs = nil
	return msgs
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("peer-%d", n)
	}
	return r
}

func connect(t *testing.T, r *Registry) (string, *recorder) {
	t.Helper()
	out := &recorder{}
	id := r.Connect(out)
	msgs := out.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, &protocol.SocketID{ID: id}, msgs[0])
	return id, out
}

func TestRegistryJoinAnnouncesAndListsPeers(t *testing.T) {
	r := newTestRegistry()
	a, outA := connect(t, r)
	b, outB := connect(t, r)

	require.True(t, r.Join(a, "Alice"))
	assert.Equal(t, []protocol.Message{protocol.PeerList{}}, outA.take())
	assert.Equal(t, []protocol.Message{&protocol.PeerJoined{ID: a, Name: "Alice"}}, outB.take())

	require.True(t, r.Join(b, "Bob"))
	assert.Equal(t, []protocol.Message{&protocol.PeerJoined{ID: b, Name: "Bob"}}, outA.take())
	assert.Equal(t, []protocol.Message{protocol.PeerList{{ID: a, Name: "Alice"}}}, outB.take())
}

func TestRegistryPeerListExcludesUnnamedAndKeepsJoinOrder(t *testing.T) {
	r := newTestRegistry()
	a, _ := connect(t, r)
	b, _ := connect(t, r)
	_, _ = connect(t, r)
	d, outD := connect(t, r)

	require.True(t, r.Join(b, "Bob"))
	require.True(t, r.Join(a, "Alice"))
	require.True(t, r.Join(d, "Dave"))

	msgs := outD.take()
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.PeerList{{ID: b, Name: "Bob"}, {ID: a, Name: "Alice"}}, msgs[len(msgs)-1])
}

func TestRegistryIgnoresInvalidNames(t *testing.T) {
	r := newTestRegistry()
	a, outA := connect(t, r)
	_, outB := connect(t, r)

	for _, name := range []string{"", "   ", strings.Repeat("x", protocol.MaxNameLength+1)} {
		assert.False(t, r.Join(a, name), "name %q", name)
	}
	assert.Empty(t, outA.take())
	assert.Empty(t, outB.take())

	assert.True(t, r.Join(a, strings.Repeat("x", protocol.MaxNameLength)))
}

func TestRegistryRejoinRenames(t *testing.T) {
	r := newTestRegistry()
	a, _ := connect(t, r)
	_, outB := connect(t, r)

	require.True(t, r.Join(a, "Alice"))
	require.True(t, r.Join(a, "Alicia"))

	assert.Equal(t, []protocol.Message{
		&protocol.PeerJoined{ID: a, Name: "Alice"},
		&protocol.PeerJoined{ID: a, Name: "Alicia"},
	}, outB.take())

	_, joined := r.Counts()
	assert.Equal(t, 1, joined)
}

func TestRegistryRelayForwardsPayloadUnchanged(t *testing.T) {
	r := newTestRegistry()
	a, outA := connect(t, r)
	b, outB := connect(t, r)

	payload := json.RawMessage(`{"kind":"offer","sdp":{"kind":"offer","description":"v=0"}}`)
	require.True(t, r.Relay(a, b, payload))

	assert.Empty(t, outA.take())
	assert.Equal(t, []protocol.Message{&protocol.Signal{From: a, Target: b, Payload: payload}}, outB.take())
}

func TestRegistryRelayUnknownTarget(t *testing.T) {
	r := newTestRegistry()
	a, outA := connect(t, r)

	assert.False(t, r.Relay(a, "ghost123", json.RawMessage(`{}`)))
	assert.Equal(t, []protocol.Message{
		&protocol.ErrorMessage{Message: "User ghost123 not found or disconnected."},
	}, outA.take())
}

func TestRegistryDisconnect(t *testing.T) {
	r := newTestRegistry()
	a, _ := connect(t, r)
	_, outB := connect(t, r)
	c, _ := connect(t, r)

	require.True(t, r.Join(a, "Alice"))
	outB.take()

	assert.True(t, r.Disconnect(a))
	assert.Equal(t, []protocol.Message{&protocol.PeerLeft{ID: a}}, outB.take())

	// A peer that never joined leaves silently.
	assert.False(t, r.Disconnect(c))
	assert.Empty(t, outB.take())

	assert.False(t, r.Disconnect(a))

	connected, joined := r.Counts()
	assert.Equal(t, 1, connected)
	assert.Equal(t, 0, joined)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("Alice"))
	assert.True(t, ValidName("  Bob  "))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("\t\n"))
	assert.True(t, ValidName(strings.Repeat("é", protocol.MaxNameLength)))
	assert.False(t, ValidName(strings.Repeat("é", protocol.MaxNameLength+1)))
}
