// Package streaming implements an append-only bounded stream over the L2
// broker port. The concrete binding is Redis Streams (XADD with an
// approximate MAXLEN trim, XREVRANGE, XREAD) via redis/go-redis/v9.
package streaming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a broker-assigned id plus the flattened scalar fields of
// whatever was published.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Publisher appends to and reads from named streams.
type Publisher struct {
	client *redis.Client
}

// New wraps a Redis client as a stream Publisher.
func New(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish appends fields to the named stream and trims it to
// approximately maxLen entries (trimming is approximate, a length cap
// rather than exact). Publish failure is non-fatal to callers, so callers
// should log-and-continue rather than fail their own operation.
func (p *Publisher) Publish(ctx context.Context, name string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	res, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", err
	}
	return res, nil
}

// Latest returns the most recent count entries, newest first.
func (p *Publisher) Latest(ctx context.Context, name string, count int64) ([]Entry, error) {
	msgs, err := p.client.XRevRangeN(ctx, name, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(msgs), nil
}

// Read reads entries after fromID (use "0" or "$" for the conventions
// go-redis documents), optionally blocking up to blockMs for new entries
// when none are immediately available. blockMs<=0 means non-blocking.
func (p *Publisher) Read(ctx context.Context, name, fromID string, count int64, blockMs int) ([]Entry, error) {
	args := &redis.XReadArgs{
		Streams: []string{name, fromID},
		Count:   count,
	}
	if blockMs > 0 {
		args.Block = time.Duration(blockMs) * time.Millisecond
	}
	res, err := p.client.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		out = append(out, Entry{ID: m.ID, Fields: fields})
	}
	return out
}
