package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNoController is returned when a command reached no subscribed controller.
var ErrNoController = errors.New("no signal controller subscribed")

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher sends commands over Redis pub/sub, one channel per intersection.
type RedisPublisher struct {
	client RedisClient
	prefix string
}

func NewRedisPublisher(client RedisClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel of an intersection.
func (p *RedisPublisher) Channel(intersection string) string {
	return p.prefix + intersection
}

// Publish fails with ErrNoController when nobody listens on the channel.
func (p *RedisPublisher) Publish(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode signal command: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.Channel(cmd.Intersection), payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish signal command: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w on %s", ErrNoController, p.Channel(cmd.Intersection))
	}
	return nil
}
