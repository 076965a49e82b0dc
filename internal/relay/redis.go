package relay

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Channel  string
}

// redisSink publishes on a pub/sub channel. Subscribers that are not
// connected at publish time miss the message.
type redisSink struct {
	client  *redis.Client
	channel string
}

func redisOptions(cfg RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func newRedis(cfg RedisConfig) *redisSink {
	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = DefaultChannel
	}
	return &redisSink{client: redis.NewClient(redisOptions(cfg)), channel: ch}
}

func (s *redisSink) Name() string { return "redis" }

func (s *redisSink) Publish(ctx context.Context, payload []byte) error {
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *redisSink) Close() error { return s.client.Close() }
