package components

import (
	"context"
	"fmt"
	"log/slog"

	"orbot/internal/config"
	"orbot/internal/platforms"
)

// DiscordComponent owns the gateway session. Handlers added before
// Initialize see every event from the first Ready on.
type DiscordComponent struct {
	platform *platforms.DiscordPlatform
}

func NewDiscordComponent(cfg config.DiscordConfig, log *slog.Logger) (*DiscordComponent, error) {
	platform, err := platforms.NewDiscordPlatform(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord platform: %w", err)
	}
	return &DiscordComponent{platform: platform}, nil
}

func (c *DiscordComponent) Name() string {
	return DiscordComponentName
}

// The gateway opens last so stores are ready when the first interaction
// arrives.
func (c *DiscordComponent) Dependencies() []string {
	return []string{StorageComponentName, FollowListComponentName}
}

func (c *DiscordComponent) Validate() error {
	if err := c.platform.Validate(); err != nil {
		return fmt.Errorf("discord platform validation failed: %w", err)
	}
	return nil
}

func (c *DiscordComponent) Initialize(ctx context.Context) error {
	if err := c.platform.Initialize(ctx); err != nil {
		return fmt.Errorf("discord platform initialization failed: %w", err)
	}
	return nil
}

func (c *DiscordComponent) Close(ctx context.Context) error {
	return c.platform.Close(ctx)
}

func (c *DiscordComponent) Discord() *platforms.DiscordPlatform {
	return c.platform
}
