package poster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/cache"
	"orbot/internal/media"
	"orbot/internal/metrics"
	"orbot/internal/platforms"
	"orbot/internal/storage"
	"orbot/internal/types"
)

// Sender is the outbound side of the Discord platform.
type Sender interface {
	Send(ctx context.Context, channelID string, msg *platforms.OutgoingMessage) (*discordgo.Message, error)
	Edit(ctx context.Context, channelID, messageID string, edit *platforms.MessageEdit) (*discordgo.Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, urls, names []string) ([]*types.FetchedMedia, error)
}

type Config struct {
	Sender  Sender
	Fetcher Fetcher
	Posts   storage.PostStore
	// Archive sends a zip of the whole media set after each channel's batches.
	Archive       bool
	MediaCacheTTL time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type Publisher struct {
	sender  Sender
	fetcher Fetcher
	posts   storage.PostStore
	archive bool
	pools   *cache.Cache[string, []*types.FetchedMedia]
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg Config) (*Publisher, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("poster: sender is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("poster: fetcher is required")
	}
	if cfg.Posts == nil {
		return nil, fmt.Errorf("poster: post store is required")
	}
	if cfg.MediaCacheTTL <= 0 {
		cfg.MediaCacheTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	log := cfg.Logger.With("component", "poster")
	return &Publisher{
		sender:  cfg.Sender,
		fetcher: cfg.Fetcher,
		posts:   cfg.Posts,
		archive: cfg.Archive,
		pools: cache.NewCache[string, []*types.FetchedMedia](cache.CacheConfig{
			TTL:    cfg.MediaCacheTTL,
			Name:   "media_pool",
			Logger: cfg.Logger,
		}, cache.StringKey),
		metrics: cfg.Metrics,
		log:     log,
		now:     time.Now,
	}, nil
}

// Publish downloads the media of raw and sends it to every channel in
// batches. The first message of the first channel gets the persistent
// control and is recorded so the control works after a restart.
func (p *Publisher) Publish(ctx context.Context, raw types.RawPost, channelIDs []string) ([]types.PublishedPost, error) {
	if len(channelIDs) == 0 {
		return nil, &types.NoChannelsError{}
	}
	if raw.MediaCount() == 0 {
		return nil, &types.NoMediaError{}
	}

	files, err := p.fetcher.FetchAll(ctx, raw.MediaURLs, raw.MediaFilenames)
	if err != nil {
		p.metrics.PublishFailed("download")
		return nil, err
	}

	caption := FeedCaption(raw)
	credits := types.CreditsFor(raw.Author)

	var published []types.PublishedPost
	for _, channelID := range channelIDs {
		posts, err := p.sendBatches(ctx, channelID, caption, files, credits)
		published = append(published, posts...)
		if err != nil {
			p.metrics.PublishFailed("send")
			return published, err
		}

		if p.archive {
			if err := p.sendArchive(ctx, channelID, raw.ConversationID, files); err != nil {
				// The post itself is out already.
				p.log.Warn("Failed to send media archive", "channel", channelID, "error", err)
			}
		}
	}

	canonical := published[0]
	if err := p.attachControls(ctx, canonical); err != nil {
		p.metrics.PublishFailed("controls")
		return published, err
	}

	if err := p.posts.Save(ctx, types.ActivePost{
		MessageID: canonical.MessageID,
		ChannelID: canonical.ChannelID,
		Author:    raw.Author,
		TweetURL:  raw.TweetURL,
		CreatedAt: p.now(),
	}); err != nil {
		return published, fmt.Errorf("failed to record post %s: %w", canonical.MessageID, err)
	}
	p.pools.Set(canonical.MessageID, files)

	p.metrics.Published("feed", len(published))
	p.log.Info("Published post",
		"conversation", raw.ConversationID,
		"author", raw.Author.Username,
		"media", len(files),
		"messages", len(published))
	return published, nil
}

// PublishContent sends a composed post to each channel. Unlike Publish it
// attaches no control and sends no archive.
func (p *Publisher) PublishContent(ctx context.Context, content types.PostContent, channelIDs []string) ([]types.PublishedPost, error) {
	if len(channelIDs) == 0 {
		return nil, &types.NoChannelsError{}
	}
	if len(content.Media) == 0 {
		return nil, &types.NoMediaError{}
	}

	var published []types.PublishedPost
	for _, channelID := range channelIDs {
		posts, err := p.sendBatches(ctx, channelID, content.Caption, content.Media, nil)
		published = append(published, posts...)
		if err != nil {
			p.metrics.PublishFailed("send")
			return published, err
		}
	}

	p.metrics.Published("composed", len(published))
	return published, nil
}

// EditPost replaces the caption and attachments of one message.
func (p *Publisher) EditPost(ctx context.Context, channelID, messageID string, content types.PostContent) error {
	if len(content.Media) == 0 {
		return &types.NoMediaError{}
	}
	if len(content.Media) > types.MaxAttachmentsPerMessage {
		return types.NewValidationError("media",
			fmt.Sprintf("A post can hold at most %d files, %d are selected", types.MaxAttachmentsPerMessage, len(content.Media)))
	}

	caption := Truncate(content.Caption, MaxMessageLength)
	files := content.Media
	if _, err := p.sender.Edit(ctx, channelID, messageID, &platforms.MessageEdit{
		Content: &caption,
		Files:   &files,
	}); err != nil {
		p.metrics.PublishFailed("edit")
		return err
	}

	p.metrics.Published("edit", 1)
	return nil
}

// sendBatches sends files in order, at most ten per message. Only the first
// message carries the caption.
func (p *Publisher) sendBatches(ctx context.Context, channelID, caption string, files []*types.FetchedMedia, credits *types.CaptionCredits) ([]types.PublishedPost, error) {
	batches := media.Batches(files, types.MaxAttachmentsPerMessage)
	posts := make([]types.PublishedPost, 0, len(batches))

	for i, batch := range batches {
		msg := &platforms.OutgoingMessage{Files: batch}
		if i == 0 {
			msg.Content = Truncate(caption, MaxMessageLength)
		}

		sent, err := p.sender.Send(ctx, channelID, msg)
		if err != nil {
			return posts, fmt.Errorf("failed to send batch %d/%d to %s: %w", i+1, len(batches), channelID, err)
		}

		posts = append(posts, types.PublishedPost{
			MessageID:      sent.ID,
			ChannelID:      channelID,
			Media:          batch,
			CaptionCredits: credits,
		})
	}
	return posts, nil
}

func (p *Publisher) sendArchive(ctx context.Context, channelID, name string, files []*types.FetchedMedia) error {
	archive, err := media.Bundle(files, name)
	if err != nil {
		return err
	}
	_, err = p.sender.Send(ctx, channelID, &platforms.OutgoingMessage{
		Files: []*types.FetchedMedia{archive},
	})
	return err
}

func (p *Publisher) attachControls(ctx context.Context, post types.PublishedPost) error {
	components := Controls(post.MessageID)
	if _, err := p.sender.Edit(ctx, post.ChannelID, post.MessageID, &platforms.MessageEdit{
		Components: &components,
	}); err != nil {
		return fmt.Errorf("failed to attach controls to %s: %w", post.MessageID, err)
	}
	return nil
}

// MediaPool returns the full media set of a recorded post. After a restart
// or cache expiry the pool is rebuilt from the message attachments.
func (p *Publisher) MediaPool(ctx context.Context, post types.ActivePost) ([]*types.FetchedMedia, error) {
	if pool, ok := p.pools.Get(post.MessageID); ok {
		return pool, nil
	}

	msg, err := p.sender.Message(ctx, post.ChannelID, post.MessageID)
	if err != nil {
		return nil, err
	}
	pool, err := p.FetchAttachments(ctx, msg.Attachments)
	if err != nil {
		return nil, err
	}
	p.pools.Set(post.MessageID, pool)
	return pool, nil
}

// FetchAttachments downloads message attachments. Archives are skipped.
func (p *Publisher) FetchAttachments(ctx context.Context, attachments []*discordgo.MessageAttachment) ([]*types.FetchedMedia, error) {
	urls := make([]string, 0, len(attachments))
	names := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if media.IsArchive(a.Filename) {
			continue
		}
		urls = append(urls, a.URL)
		names = append(names, a.Filename)
	}
	if len(urls) == 0 {
		return nil, nil
	}
	return p.fetcher.FetchAll(ctx, urls, names)
}

func (p *Publisher) Close() error {
	return p.pools.Close()
}
