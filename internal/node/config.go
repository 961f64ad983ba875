package node

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/store"
	"github.com/nearsend/nearsend/internal/transfer"
	"github.com/nearsend/nearsend/internal/transport"
)

const (
	DefaultExpireInterval = 5 * time.Second

	progressInterval = 100 * time.Millisecond
	receivedBuffer   = 16
	ledgerTimeout    = 5 * time.Second
)

var (
	ErrRelayClosed      = errors.New("relay connection closed")
	ErrConnectionFailed = errors.New("peer connection ended before the data channel opened")
)

// Relay is the node's link to the signaling relay. *signaling.Client
// satisfies it once connected.
type Relay interface {
	Join(name string) error
	SendSignal(target string, payload protocol.SignalPayload) error
	Messages() <-chan protocol.Message
}

type Config struct {
	Name    string
	Relay   Relay
	Factory transport.Factory
	Sink    transfer.Sink
	// Ledger is optional; transfers are not recorded without it.
	Ledger store.Ledger

	HandshakeTimeout time.Duration
	StallTimeout     time.Duration
	// ExpireInterval is how often receivers are checked for stalls.
	ExpireInterval time.Duration

	Clock  clock.Clock
	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.Relay == nil {
		return errors.New("node: relay is required")
	}
	if c.Factory == nil {
		return errors.New("node: peer connection factory is required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Sink == nil {
		c.Sink = transfer.NewMemorySink()
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = transfer.DefaultStallTimeout
	}
	if c.ExpireInterval <= 0 {
		c.ExpireInterval = DefaultExpireInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	return c
}
