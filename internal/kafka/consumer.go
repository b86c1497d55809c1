package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"sterilization-gateway/internal/logging"
)

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

// Handler receives one live event; *events.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, name string, data []byte)
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds cycle events published on the bus into the same dispatcher
// the SSE subscriber uses.
type Consumer struct {
	reader  MessageReader
	handler Handler
	logger  *logging.Logger
}

func NewConsumer(cfg Config, handler Handler, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{cfg.Broker},
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
	})
	return NewConsumerFromReader(r, handler, logger)
}

func NewConsumerFromReader(r MessageReader, handler Handler, logger *logging.Logger) *Consumer {
	return &Consumer{reader: r, handler: handler, logger: logger}
}

// envelope is the message body. The event name may also come from the "event"
// header; when both are absent the message is treated as a cycle event.
type envelope struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			name := eventName(msg)
			c.handler.Handle(ctx, name, msg.Value)
			c.logger.Debugf("Processed Kafka message %s offset %d (%s)", msg.Topic, msg.Offset, name)

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Warnf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func eventName(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event" && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err == nil {
		if env.Type != "" {
			return env.Type
		}
		if env.Event != "" {
			return env.Event
		}
	}
	return "cycle"
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warnf("Closing kafka reader: %v", err)
	}
}
