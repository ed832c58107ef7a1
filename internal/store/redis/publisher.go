package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"coinarius-analytics/internal/model"
)

// EventFreshAnalytics is the event name of every published output.
const EventFreshAnalytics = "fresh_analytics"

const (
	defaultLatestKey     = "analytics:latest"
	defaultChannel       = "fresh_analytics"
	defaultHistoryStream = "analytics:history"
	defaultHistoryMaxLen = 1440
	defaultLatestTTL     = 48 * time.Hour
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestKey     string // key holding the latest output JSON
	Channel       string // PubSub channel for fresh_analytics envelopes
	HistoryStream string // stream of past outputs, trimmed to HistoryMaxLen
	HistoryMaxLen int64
	TTL           time.Duration // expiry of the latest keys
}

func (c *Config) setDefaults() {
	if c.LatestKey == "" {
		c.LatestKey = defaultLatestKey
	}
	if c.Channel == "" {
		c.Channel = defaultChannel
	}
	if c.HistoryStream == "" {
		c.HistoryStream = defaultHistoryStream
	}
	if c.HistoryMaxLen <= 0 {
		c.HistoryMaxLen = defaultHistoryMaxLen
	}
	if c.TTL <= 0 {
		c.TTL = defaultLatestTTL
	}
}

// SymbolKey is the key holding one symbol's latest analytics.
func (c Config) SymbolKey(code string) string {
	return c.LatestKey + ":" + code
}

// Envelope is the message pushed on the PubSub channel and to socket clients.
type Envelope struct {
	Event     string        `json:"event"`
	Analytics *model.Output `json:"analytics"`
}

// EncodeEnvelope wraps out in a fresh_analytics envelope.
func EncodeEnvelope(out *model.Output) ([]byte, error) {
	return json.Marshal(Envelope{Event: EventFreshAnalytics, Analytics: out})
}

// DecodeEnvelope parses a message produced by EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event != EventFreshAnalytics || env.Analytics == nil {
		return Envelope{}, fmt.Errorf("decode envelope: unexpected event %q", env.Event)
	}
	return env, nil
}

// Publisher writes outputs to Redis: the latest output and per-symbol
// slices as keys with TTL, a trimmed history stream, and a PubSub message.
type Publisher struct {
	client *goredis.Client
	cfg    Config
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	cfg.setDefaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{client: client, cfg: cfg}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Config returns the effective configuration.
func (p *Publisher) Config() Config { return p.cfg }

// Write sends out in a single pipeline.
func (p *Publisher) Write(ctx context.Context, out *model.Output) error {
	latest, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	envelope, err := EncodeEnvelope(out)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.cfg.LatestKey, latest, p.cfg.TTL)
	for code, so := range out.Symbols {
		b, err := json.Marshal(so)
		if err != nil {
			return fmt.Errorf("encode %s: %w", code, err)
		}
		pipe.Set(ctx, p.cfg.SymbolKey(code), b, p.cfg.TTL)
	}
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.cfg.HistoryStream,
		MaxLen: p.cfg.HistoryMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"version": out.Version,
			"mode":    string(out.Mode),
			"data":    latest,
		},
	})
	pipe.Publish(ctx, p.cfg.Channel, envelope)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (version %d): %w", out.Version, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
