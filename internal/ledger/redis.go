package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPending = "pending"
	// Daily keys carry their date in the key, so the TTL only bounds memory.
	dailyKeyTTL = 48 * time.Hour
)

// releaseScript deletes a key only while it still holds the pending marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps ledger entries as SETNX keys. Unlike a best-effort deduper,
// every Redis error is returned so callers fail closed.
type Redis struct {
	rdb           *redis.Client
	prefix        string
	onceRetention time.Duration
	logger        *zap.Logger
}

// NewRedis builds a Redis ledger. onceRetention bounds how long "once" window
// entries are kept.
func NewRedis(rdb *redis.Client, prefix string, onceRetention time.Duration, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "ledger"
	}
	if onceRetention <= 0 {
		onceRetention = 365 * 24 * time.Hour
	}
	return &Redis{
		rdb:           rdb,
		prefix:        prefix,
		onceRetention: onceRetention,
		logger:        logger,
	}
}

func (r *Redis) key(k Key) string {
	return r.prefix + ":" + k.String()
}

func (r *Redis) ttl(k Key) time.Duration {
	if k.Window == onceLabel {
		return r.onceRetention
	}
	return dailyKeyTTL
}

func (r *Redis) WasNotified(ctx context.Context, k Key) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(k)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", k, err)
	}
	return n > 0, nil
}

func (r *Redis) Claim(ctx context.Context, k Key) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(k), redisPending, r.ttl(k)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim %s: %w", k, err)
	}
	if !ok {
		r.logger.Debug("Ledger key already claimed", zap.String("key", r.key(k)))
	}
	return ok, nil
}

func (r *Redis) Record(ctx context.Context, k Key, deliveryID string) error {
	if deliveryID == "" {
		deliveryID = "sent"
	}
	ok, err := r.rdb.SetXX(ctx, r.key(k), deliveryID, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", k, err)
	}
	if ok {
		return nil
	}
	// Claim expired or was never taken.
	if err := r.rdb.Set(ctx, r.key(k), deliveryID, r.ttl(k)).Err(); err != nil {
		return fmt.Errorf("ledger record %s: %w", k, err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, k Key) error {
	err := releaseScript.Run(ctx, r.rdb, []string{r.key(k)}, redisPending).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ledger release %s: %w", k, err)
	}
	return nil
}

func (r *Redis) Check(ctx context.Context) error {
	if r.rdb == nil {
		return ErrNotConfigured
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrNotConfigured, err)
	}
	return nil
}
