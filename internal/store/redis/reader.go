package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"coinarius-analytics/internal/model"
)

// Reader reads what Publisher writes.
type Reader struct {
	client *goredis.Client
	cfg    Config
}

// NewReader reads through an existing client.
func NewReader(client *goredis.Client, cfg Config) *Reader {
	cfg.setDefaults()
	return &Reader{client: client, cfg: cfg}
}

// Latest returns the cached output, or nil when the key is absent.
func (r *Reader) Latest(ctx context.Context) (*model.Output, error) {
	b, err := r.client.Get(ctx, r.cfg.LatestKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", r.cfg.LatestKey, err)
	}
	var out model.Output
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode cached output: %w", err)
	}
	return &out, nil
}

// Subscribe delivers every fresh_analytics envelope on the channel to fn
// until ctx is cancelled. Undecodable messages are passed to onError.
func (r *Reader) Subscribe(ctx context.Context, fn func(Envelope, []byte), onError func(error)) error {
	sub := r.client.Subscribe(ctx, r.cfg.Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis SUBSCRIBE %s: %w", r.cfg.Channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			raw := []byte(msg.Payload)
			env, err := DecodeEnvelope(raw)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			fn(env, raw)
		}
	}
}
