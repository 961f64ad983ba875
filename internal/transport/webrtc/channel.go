package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/nearsend/nearsend/internal/transport"
)

// channel adapts a pion data channel to transport.Channel.
type channel struct {
	dc        *webrtc.DataChannel
	threshold atomic.Uint64

	mu     sync.Mutex
	waiter chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// newChannel wraps dc and routes its inbound frames to onMessage. It must be
// called before dc opens so no frame is missed.
func newChannel(dc *webrtc.DataChannel, onMessage transport.MessageHandler) *channel {
	c := &channel{
		dc:     dc,
		closed: make(chan struct{}),
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if onMessage != nil {
			onMessage(transport.Message{IsText: msg.IsString, Data: msg.Data})
		}
	})
	dc.OnBufferedAmountLow(c.releaseWaiter)
	dc.OnClose(func() {
		c.closeOnce.Do(func() { close(c.closed) })
	})

	return c
}

func (c *channel) releaseWaiter() {
	c.mu.Lock()
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()

	if w != nil {
		close(w)
	}
}

func (c *channel) Label() string {
	return c.dc.Label()
}

func (c *channel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *channel) SendText(text string) error {
	if err := c.dc.SendText(text); err != nil {
		return fmt.Errorf("failed to send text frame: %w", err)
	}
	return nil
}

func (c *channel) Send(data []byte) error {
	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("failed to send binary frame: %w", err)
	}
	return nil
}

func (c *channel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *channel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.threshold.Store(threshold)
	c.dc.SetBufferedAmountLowThreshold(threshold)
}

// WaitBufferedAmountLow registers the waiter before reading the buffered
// amount, so a notification racing with the check is never lost. The pion
// callback is never invoked while c.mu is held.
func (c *channel) WaitBufferedAmountLow(ctx context.Context) error {
	c.mu.Lock()
	if c.waiter != nil {
		c.mu.Unlock()
		return transport.ErrWaiterPending
	}
	w := make(chan struct{})
	c.waiter = w
	c.mu.Unlock()

	if c.dc.BufferedAmount() <= c.threshold.Load() {
		c.clearWaiter(w)
		return nil
	}

	select {
	case <-w:
		return nil
	case <-c.closed:
		c.clearWaiter(w)
		return transport.ErrChannelClosed
	case <-ctx.Done():
		c.clearWaiter(w)
		return ctx.Err()
	}
}

func (c *channel) clearWaiter(w chan struct{}) {
	c.mu.Lock()
	if c.waiter == w {
		c.waiter = nil
	}
	c.mu.Unlock()
}

func (c *channel) Close() error {
	return c.dc.Close()
}
