package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

const keyPrefix = "chat:member:"

// CachedChecker wraps a Checker with a Redis cache-aside layer. Every
// join authorizes against it, so the hot path dodges the database;
// concurrent misses for the same key collapse into one backing lookup.
// Cache trouble is never fatal: on a Redis error the verdict comes
// from the wrapped checker directly.
type CachedChecker struct {
	next   Checker
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func NewCachedChecker(next Checker, client *redis.Client, ttl time.Duration) *CachedChecker {
	return &CachedChecker{
		next:   next,
		client: client,
		ttl:    ttl,
	}
}

func cacheKey(userID, roomID int) string {
	return fmt.Sprintf("%s%d:%d", keyPrefix, userID, roomID)
}

func (c *CachedChecker) CanAccess(ctx context.Context, userID, roomID int) (bool, error) {
	key := cacheKey(userID, roomID)

	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return val == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		logger.Debug("Membership cache get %s: %v", key, err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		ok, err := c.next.CanAccess(ctx, userID, roomID)
		if err != nil {
			return false, err
		}

		verdict := "0"
		if ok {
			verdict = "1"
		}
		if err := c.client.Set(ctx, key, verdict, c.ttl).Err(); err != nil {
			logger.Debug("Membership cache set %s: %v", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Invalidate drops the cached verdict for one user and room.
func (c *CachedChecker) Invalidate(ctx context.Context, userID, roomID int) error {
	return c.client.Del(ctx, cacheKey(userID, roomID)).Err()
}

// InvalidateRoom drops every cached verdict for the room. Used when a
// room is deleted or flips visibility, where any user's answer may
// have changed.
func (c *CachedChecker) InvalidateRoom(ctx context.Context, roomID int) error {
	pattern := fmt.Sprintf("%s*:%d", keyPrefix, roomID)

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("membership cache scan: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("membership cache delete: %w", err)
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}
