package session

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultChannelLabel     = "nearsend"
)

// Signaler delivers handshake payloads to a remote peer through the relay.
type Signaler interface {
	SendSignal(target string, payload protocol.SignalPayload) error
}

// Observer is notified from the manager's goroutine. Implementations must
// not block.
type Observer interface {
	OnStateChange(peerID string, state State)
	OnChannelOpen(peerID string, ch transport.Channel)
	OnMessage(peerID string, msg transport.Message)
}

type Config struct {
	Factory          transport.Factory
	Signaler         Signaler
	Observer         Observer
	Clock            clock.Clock
	HandshakeTimeout time.Duration
	ChannelLabel     string
	Logger           logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ChannelLabel == "" {
		c.ChannelLabel = DefaultChannelLabel
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	return c
}

type nopObserver struct{}

func (nopObserver) OnStateChange(string, State)             {}
func (nopObserver) OnChannelOpen(string, transport.Channel) {}
func (nopObserver) OnMessage(string, transport.Message)     {}
