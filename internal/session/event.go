package session

import (
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

// Event is one input to the manager's state machine. Events that originate
// from a peer connection carry the handle of the record that produced them,
// so events from a replaced connection are recognised and dropped.
type Event interface {
	isEvent()
}

// CallRequested starts an outgoing handshake.
type CallRequested struct {
	PeerID string
}

// SignalReceived is a handshake payload relayed from another peer.
type SignalReceived struct {
	From    string
	Payload protocol.SignalPayload
}

// DisconnectRequested tears down the connection to a peer.
type DisconnectRequested struct {
	PeerID string
}

type StateChanged struct {
	Handle Handle
	State  transport.ConnectionState
}

type CandidateGathered struct {
	Handle    Handle
	Candidate protocol.ICECandidate
}

type ChannelOpened struct {
	Handle  Handle
	Channel transport.Channel
}

type MessageReceived struct {
	Handle  Handle
	Message transport.Message
}

type HandshakeExpired struct {
	Handle Handle
}

func (CallRequested) isEvent()       {}
func (SignalReceived) isEvent()      {}
func (DisconnectRequested) isEvent() {}
func (StateChanged) isEvent()        {}
func (CandidateGathered) isEvent()   {}
func (ChannelOpened) isEvent()       {}
func (MessageReceived) isEvent()     {}
func (HandshakeExpired) isEvent()    {}
