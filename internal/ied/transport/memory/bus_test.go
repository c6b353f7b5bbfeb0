package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ied-sentinel/internal/ied/transport"
	"ied-sentinel/internal/logging"
)

// collector records frames delivered to a subscriber.
type collector struct {
	mu     sync.Mutex
	frames []transport.Frame
}

func (c *collector) handle(_ context.Context, f transport.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_Broadcast(t *testing.T) {
	bus := NewBus(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := &collector{}, &collector{}
	go func() { _ = bus.Subscribe(ctx, a.handle) }()
	go func() { _ = bus.Subscribe(ctx, b.handle) }()
	waitFor(t, func() bool { return bus.Subscribers() == 2 })

	for i := uint32(1); i <= 3; i++ {
		if err := bus.Publish(ctx, transport.Frame{GoCBRef: "RDSO", StNum: i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, func() bool { return a.count() == 3 && b.count() == 3 })
}

func TestBus_SubscribeReturnsOnCancel(t *testing.T) {
	bus := NewBus(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, func(context.Context, transport.Frame) {}) }()
	waitFor(t, func() bool { return bus.Subscribers() == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", bus.Subscribers())
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(logging.Discard())
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(context.Background(), func(context.Context, transport.Frame) {}) }()
	waitFor(t, func() bool { return bus.Subscribers() == 1 })

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after Close")
	}
	if err := bus.Publish(context.Background(), transport.Frame{GoCBRef: "A"}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := bus.Subscribe(context.Background(), nil); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
