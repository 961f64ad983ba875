// Package signaling is the peer side of the relay protocol: it keeps one
// websocket to the relay, joins under a display name and exchanges
// handshake signals with other peers.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
)

var ErrNotConnected = errors.New("not connected to relay")

const (
	writeWait      = 10 * time.Second
	incomingBuffer = 64
)

type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:3000/ws.
	URL    string
	Logger logrus.FieldLogger
	Dialer *websocket.Dialer
}

type Client struct {
	config Config
	logger logrus.FieldLogger
	codec  *protocol.Codec

	conn    *websocket.Conn
	writeMu sync.Mutex

	incoming chan protocol.Message
	idOnce   sync.Once
	idReady  chan struct{}
	id       string
	done     chan struct{}

	closing   chan struct{}
	closeOnce sync.Once
}

func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &Client{
		config:   cfg,
		logger:   cfg.Logger,
		codec:    protocol.NewCodec(),
		incoming: make(chan protocol.Message, incomingBuffer),
		idReady:  make(chan struct{}),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.logger.WithField("relay", c.config.URL).Info("Connecting to relay")

	conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	c.conn = conn

	go c.readLoop()

	c.logger.WithField("relay", c.config.URL).Info("Connected to relay")
	return nil
}

// Messages delivers every message received from the relay, in order. It is
// closed when the connection ends.
func (c *Client) Messages() <-chan protocol.Message {
	return c.incoming
}

// ID waits for the id the relay assigned to this connection.
func (c *Client) ID(ctx context.Context) (string, error) {
	select {
	case <-c.idReady:
		return c.id, nil
	case <-c.done:
		return "", ErrNotConnected
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) Join(name string) error {
	return c.send(&protocol.Join{Name: name})
}

// SendSignal wraps payload in a signal envelope addressed to target.
func (c *Client) SendSignal(target string, payload protocol.SignalPayload) error {
	sig, err := protocol.NewSignal(target, payload)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	return c.send(sig)
}

func (c *Client) send(msg protocol.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type(), err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("Relay connection lost")
			}
			return
		}

		msg, err := c.codec.DecodeFromBytes(data)
		if err != nil {
			c.logger.WithError(err).Debug("Dropping malformed relay message")
			continue
		}

		if sid, ok := msg.(*protocol.SocketID); ok {
			c.idOnce.Do(func() {
				c.id = sid.ID
				close(c.idReady)
			})
		}

		select {
		case c.incoming <- msg:
		case <-c.closing:
			return
		}
	}
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	return c.conn.Close()
}
