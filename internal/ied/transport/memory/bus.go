// Package memory is an in-process broadcast transport. Every subscriber of a Bus
// sees every frame published on it, including its own; filtering is the caller's job.
package memory

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/ied/transport"
)

const subscriberBuffer = 64

// Bus fans frames out to all current subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan transport.Frame]struct{}
	log    logrus.FieldLogger
	closed bool
}

// NewBus returns an empty bus. log may be nil.
func NewBus(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{subs: make(map[chan transport.Frame]struct{}), log: log}
}

// Publish delivers f to every subscriber without blocking. Slow subscribers miss the frame.
func (b *Bus) Publish(ctx context.Context, f transport.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return transport.ErrClosed
	}
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
			b.log.WithField("goCbRef", f.GoCBRef).Warn("memory bus: subscriber is slow, dropping frame")
		}
	}
	return nil
}

// Subscribe calls h for every frame until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, h transport.Handler) error {
	ch := make(chan transport.Frame, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-ch:
			if !ok {
				return nil
			}
			h(ctx, f)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes fail with transport.ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
