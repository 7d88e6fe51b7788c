package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"orbot/internal/stream"
	"orbot/internal/types"
)

// Components is the started set of long-lived resources.
type Components interface {
	CloseAll(ctx context.Context) error
}

type Stream interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() (stream.State, error)
}

type Restorer interface {
	Restore(ctx context.Context) (int, error)
	Close() error
}

type Closer interface {
	Close()
}

type BotConfig struct {
	Name       string
	Components Components
	Stream     Stream
	Aggregator Closer
	Pipeline   *Pipeline
	Posts      Restorer
	Sessions   Closer
	Logger     *slog.Logger
}

// Bot runs the feed from stream to channel next to the interactive post
// workflow, and tears both down in order.
type Bot struct {
	name       string
	components Components
	stream     Stream
	aggregator Closer
	pipeline   *Pipeline
	posts      Restorer
	sessions   Closer
	log        *slog.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewBot(config BotConfig) (*Bot, error) {
	if config.Stream == nil || config.Pipeline == nil || config.Posts == nil {
		return nil, fmt.Errorf("bot: stream, pipeline and posts are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bot{
		name:       config.Name,
		components: config.Components,
		stream:     config.Stream,
		aggregator: config.Aggregator,
		pipeline:   config.Pipeline,
		posts:      config.Posts,
		sessions:   config.Sessions,
		log:        config.Logger.With("component", "bot"),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start restores persisted controls, starts publishing and connects the
// stream, then blocks until ctx is done or Stop is called. A stream that
// cannot start leaves the interactive side running.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	b.mu.Unlock()
	defer b.markStopped()

	restored, err := b.posts.Restore(ctx)
	if err != nil {
		b.log.Error("Failed to restore post controls", "error", err)
	} else {
		b.log.Info("Restored post controls", "posts", restored)
	}

	if err := b.pipeline.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	if err := b.stream.Start(ctx); err != nil {
		if !types.IsConfig(err) {
			return fmt.Errorf("failed to start stream: %w", err)
		}
		b.log.Error("Stream not started, follow an account or run /feed connection connect", "error", err)
	}

	b.log.Info("Bot started", "name", b.name)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return nil
	}
}

// Stop disconnects the stream, waits for queued posts within ctx, ends
// open sessions and closes every component.
func (b *Bot) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })

	var errs []error
	if err := b.stream.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}
	if b.aggregator != nil {
		b.aggregator.Close()
	}
	if err := b.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if b.sessions != nil {
		b.sessions.Close()
	}
	if err := b.posts.Close(); err != nil {
		errs = append(errs, fmt.Errorf("posts: %w", err))
	}
	if b.components != nil {
		if err := b.components.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}
	b.log.Info("Bot stopped", "name", b.name)
	return nil
}

// Health reports an error while the stream is down.
func (b *Bot) Health() error {
	state, err := b.stream.Status()
	switch state {
	case stream.Connected, stream.Connecting, stream.Reconnecting:
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream %s: %w", state, err)
	}
	return fmt.Errorf("stream %s", state)
}

func (b *Bot) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Bot) Name() string {
	return b.name
}

func (b *Bot) markStopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}
