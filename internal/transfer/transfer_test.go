package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearsend/nearsend/internal/logger"
	"github.com/nearsend/nearsend/internal/protocol"
	"github.com/nearsend/nearsend/internal/transport"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func metadataFrame(t *testing.T, name string, size int64) transport.Message {
	t.Helper()
	text, err := protocol.EncodeMetadata(protocol.FileMetadata{Name: name, Size: size, MimeType: "application/octet-stream"})
	require.NoError(t, err)
	return transport.Message{IsText: true, Data: []byte(text)}
}

func newTestReceiver(sink Sink, completed *[]Completed) *Receiver {
	var mu sync.Mutex
	return NewReceiver(ReceiverConfig{
		Sink:   sink,
		Logger: logger.Discard(),
		OnComplete: func(c Completed) {
			mu.Lock()
			defer mu.Unlock()
			*completed = append(*completed, c)
		},
	})
}

func TestReceiverReassemblesInOrder(t *testing.T) {
	sink := NewMemorySink()
	var completed []Completed
	r := newTestReceiver(sink, &completed)

	data := randomBytes(t, 40000)
	r.HandleMessage(metadataFrame(t, "a.bin", int64(len(data))))
	for off := 0; off < len(data); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(data))
		r.HandleMessage(transport.Message{Data: data[off:end]})
	}

	got, ok := sink.File("a.bin")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, got))
	require.Len(t, completed, 1)
	assert.NoError(t, completed[0].Err)

	st := r.Status()
	assert.False(t, st.Receiving)
	assert.True(t, st.Received)
	assert.Equal(t, 100, st.Progress.Percentage)
}

func TestReceiverNewMetadataDiscardsPartial(t *testing.T) {
	sink := NewMemorySink()
	var completed []Completed
	r := newTestReceiver(sink, &completed)

	r.HandleMessage(metadataFrame(t, "first.bin", 100))
	r.HandleMessage(transport.Message{Data: bytes.Repeat([]byte{1}, 60)})

	r.HandleMessage(metadataFrame(t, "second.bin", 50))
	st := r.Status()
	assert.Equal(t, "second.bin", st.Name)
	assert.Equal(t, int64(0), st.Progress.Current)
	assert.True(t, st.Receiving)

	r.HandleMessage(transport.Message{Data: bytes.Repeat([]byte{2}, 50)})

	_, ok := sink.File("first.bin")
	assert.False(t, ok)
	got, ok := sink.File("second.bin")
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{2}, 50), got)
}

func TestReceiverProgressIsMonotonicAndFloored(t *testing.T) {
	var completed []Completed
	r := newTestReceiver(NewMemorySink(), &completed)

	r.HandleMessage(metadataFrame(t, "p.bin", 1000))

	var last int64
	for i := 0; i < 999; i++ {
		r.HandleMessage(transport.Message{Data: []byte{byte(i)}})
		cur := r.Status().Progress.Current
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
	assert.Equal(t, 99, r.Status().Progress.Percentage)

	r.HandleMessage(transport.Message{Data: []byte{0}})
	assert.Equal(t, 100, r.Status().Progress.Percentage)
	assert.Len(t, completed, 1)
}

func TestReceiverDropsChunkOutsideTransfer(t *testing.T) {
	var completed []Completed
	r := newTestReceiver(NewMemorySink(), &completed)

	r.HandleMessage(transport.Message{Data: []byte("stray")})

	st := r.Status()
	assert.False(t, st.Receiving)
	assert.Equal(t, int64(0), st.Progress.Current)
	assert.Empty(t, completed)
}

func TestReceiverIgnoresMalformedMetadata(t *testing.T) {
	var completed []Completed
	r := newTestReceiver(NewMemorySink(), &completed)

	r.HandleMessage(metadataFrame(t, "ok.bin", 10))
	r.HandleMessage(transport.Message{Data: []byte("12345")})

	for _, text := range []string{`{nope`, `{"kind":"other","name":"x","size":1}`, `{"kind":"metadata","name":"x","size":-5}`} {
		r.HandleMessage(transport.Message{IsText: true, Data: []byte(text)})
	}

	st := r.Status()
	assert.Equal(t, "ok.bin", st.Name)
	assert.Equal(t, int64(5), st.Progress.Current)
	assert.True(t, st.Receiving)
}

func TestReceiverTruncatesOverflow(t *testing.T) {
	sink := NewMemorySink()
	var completed []Completed
	r := newTestReceiver(sink, &completed)

	r.HandleMessage(metadataFrame(t, "o.bin", 10))
	r.HandleMessage(transport.Message{Data: []byte("0123456789ABCDEF")})

	got, ok := sink.File("o.bin")
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789"), got)
	assert.Equal(t, int64(10), r.Status().Progress.Current)
}

func TestReceiverZeroByteFile(t *testing.T) {
	sink := NewMemorySink()
	var completed []Completed
	r := newTestReceiver(sink, &completed)

	r.HandleMessage(metadataFrame(t, "empty.txt", 0))

	got, ok := sink.File("empty.txt")
	require.True(t, ok)
	assert.Empty(t, got)
	assert.True(t, r.Status().Received)
	assert.Len(t, completed, 1)
}

func TestReceiverExpire(t *testing.T) {
	mock := clock.NewMock()
	var abandoned int64 = -1
	r := NewReceiver(ReceiverConfig{
		Clock:        mock,
		StallTimeout: 30 * time.Second,
		Logger:       logger.Discard(),
		OnAbandon: func(_ protocol.FileMetadata, received int64) {
			abandoned = received
		},
	})

	assert.False(t, r.Expire(mock.Now().Add(time.Hour)), "nothing to expire")

	r.HandleMessage(metadataFrame(t, "slow.bin", 100))
	r.HandleMessage(transport.Message{Data: make([]byte, 40)})

	mock.Add(20 * time.Second)
	assert.False(t, r.Expire(mock.Now()))

	mock.Add(15 * time.Second)
	assert.True(t, r.Expire(mock.Now()))
	assert.Equal(t, int64(40), abandoned)
	assert.False(t, r.Status().Receiving)

	// Late chunks of the abandoned transfer are dropped.
	r.HandleMessage(transport.Message{Data: make([]byte, 60)})
	assert.False(t, r.Status().Received)
}

func TestSenderRequiresOpenChannel(t *testing.T) {
	s := NewSender(SenderConfig{Logger: logger.Discard()})
	assert.ErrorIs(t, s.SendFile(context.Background(), NewBytesFile("a", []byte("x"))), ErrChannelNotReady)

	p := transport.NewPipe("t")
	_ = p.A.Close()
	s.SetChannel(p.A)
	assert.ErrorIs(t, s.SendFile(context.Background(), NewBytesFile("a", []byte("x"))), ErrChannelNotReady)
	assert.Equal(t, uint64(0), p.A.BufferedAmount())
}

func TestSenderRejectsConcurrentSend(t *testing.T) {
	p := transport.NewPipe("t")
	s := NewSender(SenderConfig{Logger: logger.Discard()})
	s.SetChannel(p.A)

	data := randomBytes(t, 4*protocol.HighWaterMark)
	errCh := make(chan error, 1)
	go func() { errCh <- s.SendFile(context.Background(), NewBytesFile("big.bin", data)) }()

	require.Eventually(t, func() bool {
		return p.A.BufferedAmount() >= protocol.HighWaterMark
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.SendFile(context.Background(), NewBytesFile("other.bin", []byte("x"))), ErrSendInProgress)
	assert.True(t, s.Status().Sending)

	go p.A.Pump(context.Background())
	p.A.Flush()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
	}
	_ = p.A.Close()
}

func TestSenderBackpressure(t *testing.T) {
	p := transport.NewPipe("t")

	var sendsAtOrAboveHigh, sends atomic.Int64
	p.A.OnSend(func(before uint64, _ int) {
		sends.Add(1)
		if before >= protocol.HighWaterMark {
			sendsAtOrAboveHigh.Add(1)
		}
	})

	var receivedMu sync.Mutex
	var received bytes.Buffer
	p.B.SetHandler(func(m transport.Message) {
		if !m.IsText {
			receivedMu.Lock()
			received.Write(m.Data)
			receivedMu.Unlock()
		}
	})

	s := NewSender(SenderConfig{Logger: logger.Discard()})
	s.SetChannel(p.A)

	data := randomBytes(t, 1<<20)
	errCh := make(chan error, 1)
	go func() { errCh <- s.SendFile(context.Background(), NewBytesFile("bp.bin", data)) }()

	require.Eventually(t, func() bool {
		return p.A.BufferedAmount() >= protocol.HighWaterMark
	}, time.Second, time.Millisecond)

	// Above the low watermark the sender stays parked.
	time.Sleep(20 * time.Millisecond)
	blockedAt := sends.Load()
	p.A.Drain(64 * 1024)
	require.Greater(t, p.A.BufferedAmount(), uint64(protocol.LowWaterMark))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, blockedAt, sends.Load(), "sender resumed above the low watermark")

	// Dropping to the low watermark releases it.
	for p.A.BufferedAmount() > protocol.LowWaterMark {
		p.A.Drain(protocol.ChunkSize)
	}
	require.Eventually(t, func() bool { return sends.Load() > blockedAt }, time.Second, time.Millisecond)

	for done := false; !done; {
		select {
		case err := <-errCh:
			require.NoError(t, err)
			done = true
		default:
			p.A.Flush()
			time.Sleep(time.Millisecond)
		}
	}
	p.A.Flush()

	assert.Zero(t, sendsAtOrAboveHigh.Load())
	receivedMu.Lock()
	assert.True(t, bytes.Equal(data, received.Bytes()))
	receivedMu.Unlock()

	st := s.Status()
	assert.True(t, st.Sent)
	assert.False(t, st.Sending)
	assert.Equal(t, 100, st.Progress.Percentage)
}

func TestSenderStalls(t *testing.T) {
	mock := clock.NewMock()
	p := transport.NewPipe("t")
	s := NewSender(SenderConfig{Clock: mock, StallTimeout: 30 * time.Second, Logger: logger.Discard()})
	s.SetChannel(p.A)

	data := randomBytes(t, 2*protocol.HighWaterMark)
	errCh := make(chan error, 1)
	go func() { errCh <- s.SendFile(context.Background(), NewBytesFile("stall.bin", data)) }()

	require.Eventually(t, func() bool {
		return p.A.BufferedAmount() >= protocol.HighWaterMark
	}, time.Second, time.Millisecond)

	var err error
	require.Eventually(t, func() bool {
		mock.Add(31 * time.Second)
		select {
		case err = <-errCh:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, err, ErrTransferStalled)
	st := s.Status()
	assert.False(t, st.Sending)
	assert.False(t, st.Sent)
}

func TestSenderZeroByteFile(t *testing.T) {
	p := transport.NewPipe("t")
	var completed []Completed
	r := newTestReceiver(NewMemorySink(), &completed)
	p.B.SetHandler(r.HandleMessage)

	s := NewSender(SenderConfig{Logger: logger.Discard()})
	s.SetChannel(p.A)

	require.NoError(t, s.SendFile(context.Background(), NewBytesFile("empty.txt", nil)))
	p.A.Flush()

	assert.True(t, s.Status().Sent)
	require.Len(t, completed, 1)
	assert.Equal(t, "empty.txt", completed[0].Metadata.Name)
}

func TestEndToEndTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := transport.NewPipe("t")
	sink := NewMemorySink()
	var completed []Completed
	r := newTestReceiver(sink, &completed)
	p.B.SetHandler(r.HandleMessage)
	go p.A.Pump(ctx)

	s := NewSender(SenderConfig{Logger: logger.Discard()})
	s.SetChannel(p.A)

	data := randomBytes(t, 32768)
	require.NoError(t, s.SendFile(ctx, NewBytesFile("e2e.bin", data)))
	require.NoError(t, s.Drain(ctx))

	require.Eventually(t, func() bool { return r.Status().Received }, time.Second, time.Millisecond)
	got, ok := sink.File("e2e.bin")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, got))

	assert.Equal(t, Progress{Current: 32768, Total: 32768, Percentage: 100}, s.Status().Progress)
	assert.Equal(t, Progress{Current: 32768, Total: 32768, Percentage: 100}, r.Status().Progress)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 99, NewProgress(999, 1000).Percentage)
	assert.Equal(t, 0, NewProgress(0, 1000).Percentage)
	assert.Equal(t, 100, NewProgress(0, 0).Percentage)
	assert.Equal(t, "16 KiB / 32 KiB (50%)", NewProgress(16384, 32768).String())
}

func TestDirectorySink(t *testing.T) {
	dir := t.TempDir()
	sink := DirectorySink{Dir: dir}

	first, err := sink.Deliver(protocol.FileMetadata{Name: "../../etc/report.txt"}, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.txt"), first)

	second, err := sink.Deliver(protocol.FileMetadata{Name: "report.txt"}, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report (1).txt"), second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":             "photo.jpg",
		"../secret":             "secret",
		`C:\Users\me\notes.txt`: "notes.txt",
		"":                      fallbackName,
		"..":                    fallbackName,
		"/":                     fallbackName,
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), "input %q", in)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "notes.txt", f.Name)
	assert.Equal(t, int64(5), f.Size)
	assert.Contains(t, f.MimeType, "text/plain")

	_, err = OpenFile(t.TempDir())
	assert.Error(t, err)
}
