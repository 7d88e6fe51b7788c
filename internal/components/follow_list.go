package components

import (
	"context"
	"fmt"

	"orbot/internal/config"
	"orbot/internal/storage"
)

type FollowListComponent struct {
	cfg  config.FollowListConfig
	list storage.FollowList
}

func NewFollowListComponent(cfg config.FollowListConfig) *FollowListComponent {
	return &FollowListComponent{cfg: cfg}
}

func (c *FollowListComponent) Name() string {
	return FollowListComponentName
}

func (c *FollowListComponent) Dependencies() []string {
	return []string{}
}

func (c *FollowListComponent) Validate() error {
	switch c.cfg.Type {
	case "", "file":
		if c.cfg.Path == "" {
			return fmt.Errorf("follow list: path is required")
		}
	case "redis":
		if c.cfg.RedisAddr == "" {
			return fmt.Errorf("follow list: redis address is required")
		}
	default:
		return fmt.Errorf("follow list: unsupported type %q", c.cfg.Type)
	}
	return nil
}

func (c *FollowListComponent) Initialize(ctx context.Context) error {
	list, err := storage.NewFollowList(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("follow list: %w", err)
	}
	c.list = list
	return nil
}

func (c *FollowListComponent) Close(ctx context.Context) error {
	if c.list == nil {
		return nil
	}
	return c.list.Close()
}

func (c *FollowListComponent) List() storage.FollowList {
	return c.list
}
