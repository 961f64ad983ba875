package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func collect(end *PipeEnd) (*[]Message, *sync.Mutex) {
	var mu sync.Mutex
	got := []Message{}
	end.SetHandler(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	return &got, &mu
}

func TestPipeOrderAndBufferedAmount(t *testing.T) {
	p := NewPipe("data")
	got, _ := collect(p.B)

	if err := p.A.SendText("hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := p.A.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.A.BufferedAmount() != 8 {
		t.Errorf("Expected buffered 8, got %d", p.A.BufferedAmount())
	}

	if moved := p.A.Flush(); moved != 8 {
		t.Errorf("Expected 8 bytes moved, got %d", moved)
	}
	if p.A.BufferedAmount() != 0 {
		t.Errorf("Expected buffered 0, got %d", p.A.BufferedAmount())
	}

	if len(*got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(*got))
	}
	if !(*got)[0].IsText || string((*got)[0].Data) != "hello" {
		t.Errorf("Unexpected first message: %+v", (*got)[0])
	}
	if (*got)[1].IsText || len((*got)[1].Data) != 3 {
		t.Errorf("Unexpected second message: %+v", (*got)[1])
	}
}

func TestPipeDrainPartial(t *testing.T) {
	p := NewPipe("data")
	got, _ := collect(p.B)

	for i := 0; i < 4; i++ {
		_ = p.A.Send(make([]byte, 10))
	}

	if moved := p.A.Drain(25); moved != 20 {
		t.Errorf("Expected 20 bytes moved, got %d", moved)
	}
	if len(*got) != 2 {
		t.Errorf("Expected 2 messages delivered, got %d", len(*got))
	}
	if p.A.BufferedAmount() != 20 {
		t.Errorf("Expected buffered 20, got %d", p.A.BufferedAmount())
	}
}

func TestPipeWaitReturnsImmediatelyWhenLow(t *testing.T) {
	p := NewPipe("data")
	p.A.SetBufferedAmountLowThreshold(100)
	_ = p.A.Send(make([]byte, 50))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.A.WaitBufferedAmountLow(ctx); err != nil {
		t.Errorf("Expected immediate return, got %v", err)
	}
}

func TestPipeWaitReleasedByDrain(t *testing.T) {
	p := NewPipe("data")
	p.A.SetBufferedAmountLowThreshold(10)
	for i := 0; i < 3; i++ {
		_ = p.A.Send(make([]byte, 10))
	}

	done := make(chan error, 1)
	go func() {
		for {
			err := p.A.WaitBufferedAmountLow(context.Background())
			if !errors.Is(err, ErrWaiterPending) {
				done <- err
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// Let the waiter register, then check a second one is refused.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	deadline := time.Now().Add(time.Second)
	for {
		err := p.A.WaitBufferedAmountLow(cancelled)
		if errors.Is(err, ErrWaiterPending) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected ErrWaiterPending, got %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	p.A.Drain(10)
	select {
	case err := <-done:
		t.Fatalf("Waiter released too early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	p.A.Drain(10)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter was not released")
	}
}

func TestPipeCloseReleasesWaiter(t *testing.T) {
	p := NewPipe("data")
	_ = p.A.Send(make([]byte, 10))

	done := make(chan error, 1)
	go func() {
		done <- p.A.WaitBufferedAmountLow(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	_ = p.B.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrChannelClosed) {
			t.Errorf("Expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter was not released")
	}

	if p.A.IsOpen() {
		t.Error("Expected A to be closed")
	}
	if err := p.A.SendText("x"); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestPipeWaitContextCancelled(t *testing.T) {
	p := NewPipe("data")
	_ = p.A.Send(make([]byte, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.A.WaitBufferedAmountLow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	// The cancelled waiter must not block a new one.
	p.A.Flush()
	if err := p.A.WaitBufferedAmountLow(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}
