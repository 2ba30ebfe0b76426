// Package messaging mirrors notification events onto Kafka and ZeroMQ so
// that a collector can watch a decoy without access to the webhook.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/pkg/circuit"
	"github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

// messageWriter is the part of *kafka.Writer the client uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient wraps kafka-go producers with retry and a circuit breaker
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]messageWriter
	writersMu      sync.RWMutex
	newWriter      func(topic string) messageWriter
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	cbConfig := &circuit.Config{
		Name:            "kafka",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	k := &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]messageWriter),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.MirrorConfig(),
	}
	k.newWriter = k.kafkaWriter
	return k
}

func (k *KafkaClient) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Compression:  kafka.Snappy,
	}
}

// producer gets or creates the writer for a topic
func (k *KafkaClient) producer(topic string) messageWriter {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := k.newWriter(topic)
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// Publish writes one message to topic
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, data []byte) error {
	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			msg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := k.producer(topic).WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Close closes all producers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]messageWriter)
	return lastErr
}

// KafkaMirror publishes every event to a topic
type KafkaMirror struct {
	client   *KafkaClient
	topic    string
	source   string
	encoding Encoding
}

// NewKafkaMirror creates a mirror; an empty topic means TopicBeacons
func NewKafkaMirror(client *KafkaClient, topic, source string, enc Encoding) *KafkaMirror {
	if topic == "" {
		topic = TopicBeacons
	}
	return &KafkaMirror{client: client, topic: topic, source: source, encoding: enc}
}

// Notify implements notify.Notifier
func (m *KafkaMirror) Notify(ctx context.Context, ev notify.Event) error {
	msg := NewBeaconMessage(m.source, ev)
	data, err := Encode(msg, m.encoding)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, m.topic, msg.Key(), data)
}

// Close closes the underlying client
func (m *KafkaMirror) Close() error {
	return m.client.Close()
}
