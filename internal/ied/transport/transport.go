// Package transport defines the publish/subscribe boundary between a device
// and the network. Implementations live in the subpackages.
package transport

import (
	"context"
	"errors"
	"time"

	"ied-sentinel/internal/ied/domain"
)

// ErrClosed is returned by Publish after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Frame is one GOOSE-style status notification.
type Frame struct {
	GoCBRef string `cbor:"1,keyasint" json:"goCbRef"`
	GoID    string `cbor:"2,keyasint" json:"goId"`
	DatSet  string `cbor:"3,keyasint" json:"datSet"`
	StNum   uint32 `cbor:"4,keyasint" json:"stNum"`
	SqNum   uint32 `cbor:"5,keyasint" json:"sqNum"`
	// Timestamp is the publish time in Unix milliseconds.
	Timestamp uint64 `cbor:"6,keyasint" json:"t"`
	// TimeAllowedToLive is in milliseconds.
	TimeAllowedToLive uint32 `cbor:"7,keyasint" json:"timeAllowedToLive"`
	ConfRev           uint32 `cbor:"8,keyasint" json:"confRev"`
	Status            bool   `cbor:"9,keyasint" json:"status"`
}

// Observation converts a received frame into the core's view of a peer status.
func (f Frame) Observation(receivedAt time.Time) domain.Observation {
	return domain.Observation{
		SenderID:   f.GoCBRef,
		StNum:      f.StNum,
		Status:     domain.Status(f.Status),
		ObservedAt: receivedAt,
		Timestamp:  f.Timestamp,
	}
}

// Handler receives frames from a Subscriber's dispatch goroutine.
type Handler func(ctx context.Context, f Frame)

// Publisher sends frames. Errors are reported to the caller, who logs them; there is no retry.
type Publisher interface {
	Publish(ctx context.Context, f Frame) error
}

// Subscriber delivers every received frame to h until ctx is done or the transport fails.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
}

// Transport is both ends plus Close.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// Filter wraps h so that only frames whose goCbRef is in refs, and not equal to self, reach it.
// An empty refs list passes every frame except our own.
func Filter(self string, refs []string, h Handler) Handler {
	allowed := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		allowed[r] = struct{}{}
	}
	return func(ctx context.Context, f Frame) {
		if f.GoCBRef == self {
			return
		}
		if len(allowed) > 0 {
			if _, ok := allowed[f.GoCBRef]; !ok {
				return
			}
		}
		h(ctx, f)
	}
}

// UnixMillis converts t into a frame timestamp.
func UnixMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
