// Package kafkabus carries frames over a Kafka topic shared by all devices.
// Each device consumes with its own group so that every device sees every frame.
package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/ied/transport"
	"ied-sentinel/internal/ied/transport/frame"
)

// Transport writes and reads CBOR frames on one topic.
type Transport struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
	log     logrus.FieldLogger
}

// GroupID is the consumer group of the device identified by goID.
func GroupID(topic, goID string) string {
	return topic + "-" + goID
}

// New returns a transport for topic. brokers and topic must be non-empty.
func New(brokers []string, topic, groupID string, log logrus.FieldLogger) (*Transport, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafkabus: brokers and topic are required")
	}
	if groupID == "" {
		return nil, errors.New("kafkabus: group id is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Transport{writer: writer, brokers: brokers, topic: topic, groupID: groupID, log: log}, nil
}

// Publish writes f keyed by its goCbRef so that one sender's frames stay ordered.
func (t *Transport) Publish(ctx context.Context, f transport.Frame) error {
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, kafka.Message{Key: []byte(f.GoCBRef), Value: b}); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return transport.ErrClosed
		}
		return fmt.Errorf("kafkabus: write: %w", err)
	}
	return nil
}

// Subscribe consumes from the latest offset until ctx is done.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.brokers,
		Topic:          t.topic,
		GroupID:        t.groupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        250 * time.Millisecond,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.WithError(err).Warn("kafkabus: read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		f, err := frame.Decode(msg.Value)
		if err != nil {
			t.log.WithError(err).WithField("offset", msg.Offset).Debug("kafkabus: dropping message")
			continue
		}
		h(ctx, f)
	}
}

// Close flushes and closes the writer.
func (t *Transport) Close() error {
	return t.writer.Close()
}
