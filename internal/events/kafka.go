package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/strataforge/strata/pkg/circuit"
	"github.com/strataforge/strata/pkg/errors"
	"github.com/strataforge/strata/pkg/retry"
)

// Client wraps kafka-go with JSON support and connection pooling for the
// engine's streams.
type Client struct {
	brokers        []string
	logger         *slog.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewClient creates a new Kafka client
func NewClient(brokers []string, logger *slog.Logger) *Client {
	cbConfig := &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &Client{
		brokers:        brokers,
		logger:         logger,
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.BrokerConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (c *Client) GetProducer(topic string) *kafka.Writer {
	c.writersMu.RLock()
	if writer, exists := c.writers[topic]; exists {
		c.writersMu.RUnlock()
		return writer
	}
	c.writersMu.RUnlock()

	c.writersMu.Lock()
	defer c.writersMu.Unlock()

	if writer, exists := c.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(c.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	c.writers[topic] = writer
	c.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (c *Client) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	c.readersMu.RLock()
	if reader, exists := c.readers[key]; exists {
		c.readersMu.RUnlock()
		return reader
	}
	c.readersMu.RUnlock()

	c.readersMu.Lock()
	defer c.readersMu.Unlock()

	if reader, exists := c.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
	})

	c.readers[key] = reader
	c.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// PublishJSON publishes a JSON payload to a topic
func (c *Client) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			writer := c.GetProducer(topic)
			msg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeMessaging, "publish_json",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			c.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// PublishRecord publishes a transition record, keyed by kind and entity so
// compaction keeps per-entity history together.
func (c *Client) PublishRecord(ctx context.Context, topic string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "marshal_record",
			"failed to marshal transition record").
			WithContext("kind", string(rec.Kind))
	}

	key := fmt.Sprintf("%s-%d", rec.Kind, rec.EntityID)
	return c.PublishJSON(ctx, topic, key, data)
}

// Close closes all producers and consumers
func (c *Client) Close() error {
	c.writersMu.Lock()
	defer c.writersMu.Unlock()

	c.readersMu.Lock()
	defer c.readersMu.Unlock()

	var lastErr error

	for topic, writer := range c.writers {
		if err := writer.Close(); err != nil {
			c.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	for key, reader := range c.readers {
		if err := reader.Close(); err != nil {
			c.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	c.writers = make(map[string]*kafka.Writer)
	c.readers = make(map[string]*kafka.Reader)
	return lastErr
}

// Publisher adapts the Kafka client to the Sink interface. Appends are
// buffered so the engine's invocation path never blocks on the broker; a
// full buffer drops the record with a warning rather than stalling the
// engine (the archival consumer treats the Postgres history as source of
// truth, not the stream).
type Publisher struct {
	client *Client
	topic  string
	logger *slog.Logger
	buf    chan Record
	done   chan struct{}
}

// NewPublisher creates a Sink that forwards records to a Kafka topic.
func NewPublisher(client *Client, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		logger: logger,
		buf:    make(chan Record, 1024),
		done:   make(chan struct{}),
	}
}

// Append implements Sink.
func (p *Publisher) Append(rec Record) {
	select {
	case p.buf <- rec:
	default:
		p.logger.Warn("event buffer full, dropping record",
			"kind", string(rec.Kind),
			"entity_id", rec.EntityID,
		)
	}
}

// Run drains the buffer into Kafka until the context is cancelled, then
// flushes whatever is still buffered.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case rec := <-p.buf:
			if err := p.client.PublishRecord(ctx, p.topic, rec); err != nil {
				p.logger.Error("failed to publish record",
					"kind", string(rec.Kind),
					"entity_id", rec.EntityID,
					"error", err,
				)
			}
		case <-ctx.Done():
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-p.buf:
			if err := p.client.PublishRecord(flushCtx, p.topic, rec); err != nil {
				p.logger.Error("failed to flush record", "kind", string(rec.Kind), "error", err)
				return
			}
		default:
			return
		}
	}
}

// Wait blocks until Run has exited.
func (p *Publisher) Wait() {
	<-p.done
}
