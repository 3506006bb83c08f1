// Package relay publishes every accepted message to Redis so an external
// fanout relay can mirror this node's routing decisions on other nodes. The
// subscriber side lives outside this service; publication is best effort and
// never blocks or fails the local delivery path.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
)

// Channel carries the accepted-message event stream.
const Channel = "chat:events"

// Event is the envelope written to the relay channel.
type Event struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Message   *chat.Message `json:"message"`
}

// Publisher pushes accepted messages onto the relay channel.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher connects to Redis at redisURL and verifies the connection.
func NewPublisher(ctx context.Context, redisURL string) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("[RELAY] Connected to Redis")
	return &Publisher{rdb: rdb}, nil
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Publish writes one accepted message to the relay channel.
func (p *Publisher) Publish(ctx context.Context, m *chat.Message) error {
	event := Event{
		Type:      string(m.Type),
		Timestamp: time.Now().Unix(),
		Message:   m,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish relay event: %w", err)
	}
	return nil
}

// NopPublisher is used when no Redis relay is configured; the service runs
// as a single routing process.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *chat.Message) error { return nil }
