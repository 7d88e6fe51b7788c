package storage

import (
	"context"
	"fmt"

	"orbot/internal/config"
)

type FactoryFunc func(ctx context.Context, path string) (StorageInterface, error)

var factoryFuncs = map[string]FactoryFunc{}

func RegisterFactory(storageType string, fn FactoryFunc) {
	factoryFuncs[storageType] = fn
}

func New(ctx context.Context, cfg config.StorageConfig) (StorageInterface, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "sqlite"
	}

	fn, exists := factoryFuncs[storageType]
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	return fn(ctx, cfg.Path)
}

func NewFollowList(ctx context.Context, cfg config.FollowListConfig) (FollowList, error) {
	switch cfg.Type {
	case "", "file":
		return NewFileFollowList(cfg.Path), nil
	case "redis":
		return NewRedisFollowList(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unsupported follow list type: %s", cfg.Type)
	}
}
