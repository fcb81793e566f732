// Package journal mirrors emitted events into a capped, TTL-bound redis list
// so operators can inspect recent activity. It is optional and best-effort;
// the pipeline never waits on it and never fails because of it.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haldvik/lookout/internal/logx"
)

const defaultKey = "lookout:events"

// Config tunes the journal.
type Config struct {
	Addr string
	Max  int64
	TTL  time.Duration
}

// Journal appends event batches to redis.
type Journal struct {
	client redis.UniversalClient
	key    string
	max    int64
	ttl    time.Duration
	warn   *logx.Limiter
}

// New connects to redis at cfg.Addr and verifies the connection.
func New(cfg Config, warn *logx.Limiter) (*Journal, error) {
	if cfg.Max <= 0 {
		cfg.Max = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Addr}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Journal{client: client, key: defaultKey, max: cfg.Max, ttl: cfg.TTL, warn: warn}, nil
}

// Append records v in the background and returns immediately.
func (j *Journal) Append(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pipe := j.client.TxPipeline()
		pipe.LPush(ctx, j.key, b)
		pipe.LTrim(ctx, j.key, 0, j.max-1)
		pipe.Expire(ctx, j.key, j.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			if j.warn.Allow("journal") {
				logx.Log.Warn().Err(err).Msg("event journal append failed")
			}
		}
	}()
}

// Recent returns up to n of the most recent entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int64) ([]string, error) {
	return j.client.LRange(ctx, j.key, 0, n-1).Result()
}

// Close releases the redis connection.
func (j *Journal) Close() error { return j.client.Close() }
