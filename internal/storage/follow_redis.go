package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFollowList keeps the ids in a redis set so several processes can
// share one follow list.
type RedisFollowList struct {
	rdb *redis.Client
	key string
}

func NewRedisFollowList(ctx context.Context, addr, key string) (*RedisFollowList, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisFollowList{rdb: rdb, key: key}, nil
}

func (r *RedisFollowList) List(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list follow ids: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *RedisFollowList) Add(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("follow list: empty id")
	}
	n, err := r.rdb.SAdd(ctx, r.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add follow id: %w", err)
	}
	return n > 0, nil
}

func (r *RedisFollowList) Remove(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.SRem(ctx, r.key, strings.TrimSpace(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove follow id: %w", err)
	}
	return n > 0, nil
}

func (r *RedisFollowList) Close() error {
	return r.rdb.Close()
}
