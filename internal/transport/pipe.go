package transport

import (
	"context"
	"math"
	"sync"
)

// Pipe is an in-memory ordered, reliable channel pair. Frames sent on one
// end wait in that end's outbound buffer until they are drained to the
// other end, which makes the buffered amount observable and controllable.
type Pipe struct {
	A *PipeEnd
	B *PipeEnd
}

func NewPipe(label string) *Pipe {
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &PipeEnd{label: label, open: true, closed: closed, closeOnce: once, pending: make(chan struct{}, 1)}
	b := &PipeEnd{label: label, open: true, closed: closed, closeOnce: once, pending: make(chan struct{}, 1)}
	a.peer, b.peer = b, a
	return &Pipe{A: a, B: b}
}

type PipeEnd struct {
	label string
	peer  *PipeEnd

	mu        sync.Mutex
	handler   MessageHandler
	onSend    func(buffered uint64, n int)
	queue     []Message
	buffered  uint64
	threshold uint64
	open      bool
	waiter    chan struct{}

	deliverMu sync.Mutex
	pending   chan struct{}
	closed    chan struct{}
	closeOnce *sync.Once
}

// SetHandler installs the handler that receives frames sent by the other end.
func (e *PipeEnd) SetHandler(h MessageHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// OnSend registers a hook called for every accepted send with the buffered
// amount observed just before the frame was queued.
func (e *PipeEnd) OnSend(fn func(buffered uint64, n int)) {
	e.mu.Lock()
	e.onSend = fn
	e.mu.Unlock()
}

func (e *PipeEnd) Label() string {
	return e.label
}

func (e *PipeEnd) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *PipeEnd) SendText(text string) error {
	return e.enqueue(Message{IsText: true, Data: []byte(text)})
}

func (e *PipeEnd) Send(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return e.enqueue(Message{Data: buf})
}

func (e *PipeEnd) enqueue(msg Message) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrChannelClosed
	}
	onSend := e.onSend
	before := e.buffered
	e.queue = append(e.queue, msg)
	e.buffered += uint64(len(msg.Data))
	e.mu.Unlock()

	if onSend != nil {
		onSend(before, len(msg.Data))
	}
	select {
	case e.pending <- struct{}{}:
	default:
	}
	return nil
}

func (e *PipeEnd) BufferedAmount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *PipeEnd) SetBufferedAmountLowThreshold(threshold uint64) {
	e.mu.Lock()
	e.threshold = threshold
	e.mu.Unlock()
}

func (e *PipeEnd) WaitBufferedAmountLow(ctx context.Context) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrChannelClosed
	}
	if e.buffered <= e.threshold {
		e.mu.Unlock()
		return nil
	}
	if e.waiter != nil {
		e.mu.Unlock()
		return ErrWaiterPending
	}
	w := make(chan struct{})
	e.waiter = w
	e.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-e.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		e.mu.Lock()
		if e.waiter == w {
			e.waiter = nil
		}
		e.mu.Unlock()
		return ctx.Err()
	}
}

// Drain delivers queued frames to the other end until roughly max bytes
// have moved. At least one frame is delivered when any is queued.
// It returns the number of bytes delivered.
func (e *PipeEnd) Drain(max uint64) uint64 {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	var moved uint64
	n := 0
	for n < len(e.queue) {
		size := uint64(len(e.queue[n].Data))
		if n > 0 && moved+size > max {
			break
		}
		moved += size
		n++
	}
	frames := e.queue[:n]
	e.queue = append([]Message(nil), e.queue[n:]...)
	e.buffered -= moved

	var release chan struct{}
	if e.waiter != nil && e.buffered <= e.threshold {
		release = e.waiter
		e.waiter = nil
	}
	e.mu.Unlock()

	if release != nil {
		close(release)
	}

	e.peer.mu.Lock()
	handler := e.peer.handler
	e.peer.mu.Unlock()
	if handler != nil {
		for _, msg := range frames {
			handler(msg)
		}
	}
	return moved
}

// Flush delivers everything currently queued.
func (e *PipeEnd) Flush() uint64 {
	return e.Drain(math.MaxUint64)
}

// Pump flushes this end whenever something is sent, until ctx is done.
func (e *PipeEnd) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closed:
			return
		case <-e.pending:
			e.Flush()
		}
	}
}

// Close closes both ends. Pending waiters are released with ErrChannelClosed.
func (e *PipeEnd) Close() error {
	e.mu.Lock()
	e.open = false
	e.mu.Unlock()

	e.peer.mu.Lock()
	e.peer.open = false
	e.peer.mu.Unlock()

	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}
