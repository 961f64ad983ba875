// Package transfer moves one file at a time over a transport.Channel: a
// metadata text frame followed by fixed size binary chunks, paced by the
// channel's buffered amount.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

var (
	ErrChannelNotReady = errors.New("data channel not ready")
	ErrSendInProgress  = errors.New("a transfer is already in progress")
	ErrTransferStalled = errors.New("transfer stalled: buffered amount did not drain within timeout")
)

const DefaultStallTimeout = 30 * time.Second

type SenderConfig struct {
	ChunkSize     int
	HighWaterMark uint64
	// StallTimeout bounds each wait for the buffered amount to drain.
	StallTimeout time.Duration
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = protocol.ChunkSize
	}
	if c.HighWaterMark == 0 {
		c.HighWaterMark = protocol.HighWaterMark
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	return c
}

// SendStatus is a snapshot for progress displays.
type SendStatus struct {
	Name     string
	Progress Progress
	Sending  bool
	Sent     bool
}

type Sender struct {
	config SenderConfig
	logger logrus.FieldLogger
	busy   atomic.Bool

	mu      sync.Mutex
	channel transport.Channel
	status  SendStatus
}

func NewSender(cfg SenderConfig) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{config: cfg, logger: cfg.Logger}
}

// SetChannel attaches the channel future sends use. nil detaches it.
func (s *Sender) SetChannel(ch transport.Channel) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
}

func (s *Sender) Status() SendStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SendFile sends the metadata frame and then every byte of f. It only
// blocks while the channel's buffered amount is at or above the high
// watermark.
func (s *Sender) SendFile(ctx context.Context, f *File) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil || !ch.IsOpen() {
		return ErrChannelNotReady
	}

	if !s.busy.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	defer s.busy.Store(false)

	log := s.logger.WithFields(logrus.Fields{"file": f.Name, "size": f.Size})

	meta, err := protocol.EncodeMetadata(protocol.FileMetadata{
		Name:     f.Name,
		Size:     f.Size,
		MimeType: f.MimeType,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := ch.SendText(meta); err != nil {
		return fmt.Errorf("failed to send metadata: %w", err)
	}

	s.setStatus(SendStatus{Name: f.Name, Progress: NewProgress(0, f.Size), Sending: true})
	ch.SetBufferedAmountLowThreshold(s.config.HighWaterMark / 2)
	log.Info("Sending file")

	buf := make([]byte, s.config.ChunkSize)
	var offset int64
	for offset < f.Size {
		n := int64(len(buf))
		if remaining := f.Size - offset; remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(f.Reader, buf[:n])
		if err != nil {
			s.finish(false)
			return fmt.Errorf("failed to read %s at offset %d: %w", f.Name, offset, err)
		}

		for ch.BufferedAmount() >= s.config.HighWaterMark {
			if err := s.waitLow(ctx, ch); err != nil {
				s.finish(false)
				return err
			}
		}

		if err := ch.Send(buf[:read]); err != nil {
			s.finish(false)
			return fmt.Errorf("failed to send chunk at offset %d: %w", offset, err)
		}
		offset += int64(read)
		s.advance(offset, f.Size)
	}

	s.finish(true)
	log.Info("File sent")
	return nil
}

func (s *Sender) waitLow(ctx context.Context, ch transport.Channel) error {
	waitCtx, cancel := s.config.Clock.WithTimeout(ctx, s.config.StallTimeout)
	defer cancel()

	err := ch.WaitBufferedAmountLow(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrTransferStalled
	}
	return err
}

// Drain waits until the channel has flushed everything sent so far, so the
// connection can be closed without losing the tail of the file.
func (s *Sender) Drain(ctx context.Context) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return ErrChannelNotReady
	}

	ch.SetBufferedAmountLowThreshold(0)
	for ch.BufferedAmount() > 0 {
		if err := s.waitLow(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) setStatus(st SendStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Sender) advance(current, total int64) {
	s.mu.Lock()
	s.status.Progress = NewProgress(current, total)
	s.mu.Unlock()
}

func (s *Sender) finish(ok bool) {
	s.mu.Lock()
	s.status.Sending = false
	s.status.Sent = ok
	s.mu.Unlock()
}
