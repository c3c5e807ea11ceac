package notify

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// RedisPublisher publishes status transitions to a Redis channel so external
// consumers can react without polling the list API. It implements Notifier.
type RedisPublisher struct {
	pool    *redis.Pool
	channel string
}

// NewRedisPublisher creates a publisher for the given Redis address and
// channel. The connection pool dials lazily; an unreachable Redis degrades to
// logged publish failures, never to errors on the reconcile path.
func NewRedisPublisher(addr, channel string) *RedisPublisher {
	pool := &redis.Pool{
		MaxIdle:     2,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisPublisher{pool: pool, channel: channel}
}

// StatusChanged publishes the change as JSON. Failures are logged and dropped.
func (p *RedisPublisher) StatusChanged(change StatusChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal status change for Redis")
		return
	}

	conn := p.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", p.channel, payload); err != nil {
		log.Warn().Err(err).Str("channel", p.channel).Msg("Redis status publish failed")
	}
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.pool.Close()
}
