// Package kafka publishes outputs to a Kafka topic, one message per symbol
// keyed by symbol code.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"coinarius-analytics/internal/model"
)

// ProducerConfig holds the writer settings.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// ProducerOption mutates a ProducerConfig.
type ProducerOption func(*ProducerConfig)

func WithBrokers(brokers ...string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

func WithTopic(topic string) ProducerOption {
	return func(c *ProducerConfig) { c.Topic = topic }
}

func WithCompression(name string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = name }
}

func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) { c.WriteTimeout = d }
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the value written for each symbol.
type Message struct {
	Event     string             `json:"event"`
	Version   uint64             `json:"version"`
	CycleID   string             `json:"cycle_id"`
	Mode      model.Mode         `json:"mode"`
	UpdatedAt time.Time          `json:"updated_at"`
	Symbol    string             `json:"symbol"`
	Analytics model.SymbolOutput `json:"analytics"`
}

// Producer is the Kafka output sink.
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a producer. Brokers are required.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		Topic:        "analytics.fresh",
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newProducer(w, cfg.Topic), nil
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic, now: time.Now}
}

func (p *Producer) Name() string { return "kafka" }

// Publish writes one message per symbol in a single batch.
func (p *Producer) Publish(ctx context.Context, out *model.Output) error {
	msgs, err := p.messages(out)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s (version %d): %w", p.topic, out.Version, err)
	}
	return nil
}

func (p *Producer) messages(out *model.Output) ([]kafka.Message, error) {
	at := p.now()
	version := []byte(strconv.FormatUint(out.Version, 10))
	msgs := make([]kafka.Message, 0, len(out.Symbols))
	for _, code := range out.Codes() {
		v, err := json.Marshal(Message{
			Event:     "fresh_analytics",
			Version:   out.Version,
			CycleID:   out.CycleID,
			Mode:      out.Mode,
			UpdatedAt: out.UpdatedAt,
			Symbol:    code,
			Analytics: out.Symbols[code],
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", code, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(code),
			Value: v,
			Time:  at,
			Headers: []kafka.Header{
				{Key: "version", Value: version},
				{Key: "mode", Value: []byte(out.Mode)},
			},
		})
	}
	return msgs, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}
