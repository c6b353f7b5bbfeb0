package loki

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// PushTimeout bounds a single push.
const PushTimeout = 10 * time.Second

// MessageReader is the part of *kafka.Reader the forwarder uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Forward reads records until ctx is done and pushes each to Loki.
// Read and push failures are logged; the loop keeps going.
func Forward(ctx context.Context, r MessageReader, c *Client, log logrus.FieldLogger) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker: stopped")
				return
			}
			log.WithError(err).Warn("worker: kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, PushTimeout)
		if err := c.PushRecordJSON(pushCtx, msg.Value); err != nil {
			log.WithError(err).WithField("offset", msg.Offset).Warn("worker: loki push failed")
		}
		cancel()
	}
}
