package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store shared by every gateway replica. Each group has a generation
// counter at "<prefix><group>:gen"; entry keys embed the generation, so INCR on
// the counter orphans the whole group and TTLs clean up the leftovers.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "sterilization:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Client exposes the underlying connection for the poller lease.
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

func (r *Redis) genKey(group Group) string {
	return r.prefix + string(group) + ":gen"
}

func (r *Redis) Generation(ctx context.Context, group Group) (int64, error) {
	return r.generation(ctx, r.rdb, group)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) generation(ctx context.Context, c getter, group Group) (int64, error) {
	v, err := c.Get(ctx, r.genKey(group)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation of %s: %w", group, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *Redis) entryKey(group Group, gen int64, key string) string {
	return fmt.Sprintf("%s%s:%d:%s", r.prefix, group, gen, key)
}

func (r *Redis) Get(ctx context.Context, group Group, key string, dest any) (bool, error) {
	gen, err := r.generation(ctx, r.rdb, group)
	if err != nil {
		return false, err
	}
	val, err := r.rdb.Get(ctx, r.entryKey(group, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", group, key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", group, key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, group Group, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", group, key, err)
	}
	gen, err := r.generation(ctx, r.rdb, group)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.entryKey(group, gen, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s/%s: %w", group, key, err)
	}
	return nil
}

// SetAt watches the generation counter so an Invalidate from any replica
// between the check and the write aborts the write.
func (r *Redis) SetAt(ctx context.Context, group Group, gen int64, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", group, key, err)
	}
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.generation(ctx, tx, group)
		if err != nil {
			return err
		}
		if cur != gen {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.entryKey(group, gen, key), data, ttl)
			return nil
		})
		return err
	}, r.genKey(group))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("set %s/%s: %w", group, key, err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, groups ...Group) error {
	if len(groups) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	for _, g := range groups {
		pipe.Incr(ctx, r.genKey(g))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate %v: %w", groups, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
