// Package transport defines the ordered, reliable peer-to-peer channel that
// file bytes travel over once a handshake has completed.
package transport

import (
	"context"
	"errors"

	"github.com/nearsend/nearsend/internal/protocol"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrWaiterPending = errors.New("buffered amount waiter already registered")
)

// Message is one inbound frame. Text frames carry control data, binary
// frames carry file chunks.
type Message struct {
	IsText bool
	Data   []byte
}

type MessageHandler func(Message)

// Channel is an established data channel. Sends never block on the
// buffered amount; callers consult BufferedAmount and WaitBufferedAmountLow
// before sending more.
type Channel interface {
	Label() string
	IsOpen() bool
	SendText(text string) error
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	// WaitBufferedAmountLow blocks until the buffered amount falls to the
	// low threshold. Only one waiter may be pending at a time.
	WaitBufferedAmountLow(ctx context.Context) error
	Close() error
}

type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the connection.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionStateDisconnected || s == ConnectionStateFailed || s == ConnectionStateClosed
}

// PeerHooks are invoked by a PeerConnection from its own goroutines.
type PeerHooks struct {
	OnStateChange func(ConnectionState)
	OnCandidate   func(protocol.ICECandidate)
	// OnChannel fires once a data channel, local or remote, is open.
	OnChannel func(Channel)
	OnMessage MessageHandler
}

// PeerConnection is one side of a handshake with a single remote peer.
type PeerConnection interface {
	OpenChannel(label string) error
	CreateOffer() (string, error)
	AcceptOffer(sdp string) (string, error)
	AcceptAnswer(sdp string) error
	AddICECandidate(candidate protocol.ICECandidate) error
	Close() error
}

type Factory interface {
	NewPeerConnection(hooks PeerHooks) (PeerConnection, error)
}
