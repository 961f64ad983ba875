package transfer

import (
	"bytes"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

// Completed describes a file handed to the sink.
type Completed struct {
	Metadata protocol.FileMetadata
	Location string
	Err      error
}

type ReceiverConfig struct {
	Sink Sink
	// StallTimeout is how long a transfer may go without a chunk before
	// Expire abandons it.
	StallTimeout time.Duration
	Clock        clock.Clock
	Logger       logrus.FieldLogger
	// OnComplete and OnAbandon are called without the receiver lock held.
	OnComplete func(Completed)
	OnAbandon  func(meta protocol.FileMetadata, received int64)
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.Sink == nil {
		c.Sink = NewMemorySink()
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

type ReceiveStatus struct {
	Name      string
	MimeType  string
	Progress  Progress
	Receiving bool
	Received  bool
}

type Receiver struct {
	config ReceiverConfig
	logger logrus.FieldLogger

	mu        sync.Mutex
	meta      protocol.FileMetadata
	chunks    [][]byte
	current   int64
	receiving bool
	received  bool
	lastFrame time.Time
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	cfg = cfg.withDefaults()
	return &Receiver{config: cfg, logger: cfg.Logger}
}

func (r *Receiver) Status() ReceiveStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReceiveStatus{
		Name:      r.meta.Name,
		MimeType:  r.meta.MimeType,
		Progress:  NewProgress(r.current, r.meta.Size),
		Receiving: r.receiving,
		Received:  r.received,
	}
}

// HandleMessage consumes one frame from the data channel. Text frames start
// a transfer, binary frames extend it.
func (r *Receiver) HandleMessage(msg transport.Message) {
	if msg.IsText {
		r.handleMetadata(string(msg.Data))
		return
	}
	r.handleChunk(msg.Data)
}

func (r *Receiver) handleMetadata(text string) {
	meta, err := protocol.DecodeMetadata(text)
	if err != nil {
		r.logger.WithError(err).Warn("Dropping malformed metadata frame")
		return
	}

	r.mu.Lock()
	if r.receiving {
		r.logger.WithFields(logrus.Fields{
			"file":     r.meta.Name,
			"received": r.current,
		}).Warn("New transfer started, discarding partial file")
	}
	r.meta = meta
	r.chunks = nil
	r.current = 0
	r.receiving = true
	r.received = false
	r.lastFrame = r.config.Clock.Now()
	r.logger.WithFields(logrus.Fields{"file": meta.Name, "size": meta.Size}).Info("Receiving file")

	if meta.Size == 0 {
		done := r.assembleLocked()
		r.mu.Unlock()
		r.complete(done)
		return
	}
	r.mu.Unlock()
}

func (r *Receiver) handleChunk(data []byte) {
	r.mu.Lock()
	if !r.receiving {
		r.mu.Unlock()
		r.logger.WithField("bytes", len(data)).Warn("Dropping chunk received outside a transfer")
		return
	}

	if remaining := r.meta.Size - r.current; int64(len(data)) > remaining {
		r.logger.WithFields(logrus.Fields{
			"file":     r.meta.Name,
			"overflow": int64(len(data)) - remaining,
		}).Warn("Chunk exceeds declared size, truncating")
		data = data[:remaining]
	}

	r.chunks = append(r.chunks, data)
	r.current += int64(len(data))
	r.lastFrame = r.config.Clock.Now()

	if r.current < r.meta.Size {
		r.mu.Unlock()
		return
	}

	done := r.assembleLocked()
	r.mu.Unlock()
	r.complete(done)
}

// assembleLocked joins the chunks in arrival order and ends the transfer.
func (r *Receiver) assembleLocked() pendingDelivery {
	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.receiving = false
	r.received = true
	return pendingDelivery{meta: r.meta, data: data}
}

type pendingDelivery struct {
	meta protocol.FileMetadata
	data []byte
}

func (r *Receiver) complete(p pendingDelivery) {
	location, err := r.config.Sink.Deliver(p.meta, p.data)
	log := r.logger.WithFields(logrus.Fields{"file": p.meta.Name, "size": len(p.data)})
	if err != nil {
		log.WithError(err).Error("Failed to store received file")
	} else {
		log.WithField("location", location).Info("File received")
	}

	if r.config.OnComplete != nil {
		r.config.OnComplete(Completed{Metadata: p.meta, Location: location, Err: err})
	}
}

// Expire abandons the current transfer if no frame arrived within the stall
// timeout before now. It reports whether a transfer was abandoned.
func (r *Receiver) Expire(now time.Time) bool {
	r.mu.Lock()
	if !r.receiving || now.Sub(r.lastFrame) < r.config.StallTimeout {
		r.mu.Unlock()
		return false
	}

	meta, received := r.meta, r.current
	r.chunks = nil
	r.receiving = false
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"file":     meta.Name,
		"received": received,
		"size":     meta.Size,
	}).Warn("Transfer stalled, abandoning")
	if r.config.OnAbandon != nil {
		r.config.OnAbandon(meta, received)
	}
	return true
}
