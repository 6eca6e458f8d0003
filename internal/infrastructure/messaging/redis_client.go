package messaging

import (
	"context"

	redisstore "github.com/classeviva-hub/classeviva-poller/internal/infrastructure/persistence/redis"
)

// CachePubSub adapts the Redis cache to RedisClient. Channel names get the
// cache key prefix, so deployments sharing a server do not hear each other.
type CachePubSub struct {
	cache *redisstore.Cache
}

// NewCachePubSub creates a CachePubSub. The cache stays owned by the
// caller; Close does not close it.
func NewCachePubSub(cache *redisstore.Cache) *CachePubSub {
	return &CachePubSub{cache: cache}
}

// Publish implements RedisClient.
func (c *CachePubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.cache.Publish(ctx, redisstore.PubSubChannel(channel), message)
}

// Subscribe implements RedisClient. The subscription is confirmed before
// returning; the channel closes when ctx is done.
func (c *CachePubSub) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, redisstore.PubSubChannel(ch))
	}

	ps := c.cache.Subscribe(ctx, names...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements RedisClient.
func (c *CachePubSub) Close() error {
	return nil
}
