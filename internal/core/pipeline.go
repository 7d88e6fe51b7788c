package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"orbot/internal/metrics"
	"orbot/internal/types"
)

// FeedPublisher publishes one flushed conversation with its persistent control.
type FeedPublisher interface {
	Publish(ctx context.Context, raw types.RawPost, channelIDs []string) ([]types.PublishedPost, error)
}

// FeedSource names the channel flushed conversations go to.
type FeedSource interface {
	FeedChannelID() string
}

type PipelineConfig struct {
	Publisher FeedPublisher
	Feed      FeedSource
	QueueSize int
	// MaxRetries bounds republishing after a failed download.
	MaxRetries     int
	RetryBaseDelay time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Pipeline hands flushed conversations to the publisher one at a time so
// posts reach the feed in flush order.
type Pipeline struct {
	publisher  FeedPublisher
	feed       FeedSource
	maxRetries int
	baseDelay  time.Duration
	metrics    *metrics.Metrics
	log        *slog.Logger

	queue    chan types.RawPost
	stopping chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Publisher == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("pipeline: publisher and feed are required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		publisher:  cfg.Publisher,
		feed:       cfg.Feed,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		metrics:    cfg.Metrics,
		log:        cfg.Logger.With("component", "pipeline"),
		queue:      make(chan types.RawPost, cfg.QueueSize),
		stopping:   make(chan struct{}),
	}, nil
}

// Start launches the publishing worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pipeline already shut down")
	}
	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Submit queues a flushed conversation. It blocks while the queue is full
// and drops the post once the pipeline has shut down.
func (p *Pipeline) Submit(raw types.RawPost) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("Pipeline closed, dropping conversation", "conversation_id", raw.ConversationID)
		return
	}
	p.metrics.Flushed()
	select {
	case p.queue <- raw:
	case <-p.stopping:
		p.log.Warn("Pipeline shutting down, dropping conversation", "conversation_id", raw.ConversationID)
	}
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for raw := range p.queue {
		if ctx.Err() != nil {
			p.log.Warn("Pipeline stopping, dropping conversation", "conversation_id", raw.ConversationID)
			continue
		}
		p.process(ctx, raw)
	}
}

func (p *Pipeline) process(ctx context.Context, raw types.RawPost) {
	channelID := p.feed.FeedChannelID()
	if channelID == "" {
		p.log.Warn("No feed channel configured, dropping conversation",
			"conversation_id", raw.ConversationID,
			"author", raw.Author.Username,
			"media", raw.MediaCount())
		p.metrics.PublishFailed("no_feed_channel")
		return
	}

	if err := p.publishWithRetry(ctx, raw, []string{channelID}); err != nil {
		p.log.Error("Failed to publish conversation",
			"conversation_id", raw.ConversationID,
			"channel", channelID,
			"error", err)
	}
}

// publishWithRetry republishes only after a failed download. Nothing has
// been sent at that point, so fetching again cannot duplicate messages.
func (p *Pipeline) publishWithRetry(ctx context.Context, raw types.RawPost, channelIDs []string) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		published, err := p.publisher.Publish(ctx, raw, channelIDs)
		if err == nil {
			p.log.Info("Published conversation",
				"conversation_id", raw.ConversationID,
				"messages", len(published),
				"attempt", attempt+1)
			return nil
		}
		lastErr = err

		var download *types.DownloadError
		if !errors.As(err, &download) {
			return err
		}

		if attempt < p.maxRetries {
			wait := time.Duration(math.Pow(2, float64(attempt))) * p.baseDelay
			p.log.Warn("Media download failed, retrying",
				"conversation_id", raw.ConversationID,
				"attempt", attempt+1,
				"max_attempts", p.maxRetries+1,
				"wait", wait,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", p.maxRetries+1, lastErr)
}

// Shutdown stops accepting posts and waits for queued ones to publish. When
// ctx expires first the in-flight publish is cancelled and the rest dropped.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopping) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	running, done, cancel := p.running, p.done, p.cancel
	p.mu.Unlock()

	if !running {
		return nil
	}

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running && !p.closed
}
