package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors the event feed into a Redis Stream via XADD so
// off-chain indexers and dashboards can tail governance activity.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisPublisher creates a publisher appending to the given stream key.
func NewRedisPublisher(client *redis.Client, stream string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, stream: stream, logger: logger}
}

// Handler returns a Bus handler that appends each event to the stream.
// Publish failures are logged and dropped; the feed is best-effort.
func (p *RedisPublisher) Handler() Handler {
	return func(ev Event) {
		fields, err := json.Marshal(ev.Fields)
		if err != nil {
			p.logger.Warn("event fields not marshalable", "event", ev.Type, "error", err)
			fields = []byte("{}")
		}
		err = p.client.XAdd(context.Background(), &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"id":     ev.ID,
				"type":   string(ev.Type),
				"at":     ev.At.UnixMilli(),
				"actor":  ev.Actor,
				"fields": string(fields),
			},
		}).Err()
		if err != nil {
			p.logger.Warn("event stream append failed", "event", ev.Type, "error", err)
		}
	}
}
