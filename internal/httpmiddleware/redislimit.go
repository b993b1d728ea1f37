package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window counter shared by every instance pointing at
// the same redis.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow allows perMinute requests per key and minute.
func NewRedisWindow(client *redis.Client, prefix string, perMinute int) *RedisWindow {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  int64(perMinute),
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().Unix() / int64(l.window.Seconds())
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}
