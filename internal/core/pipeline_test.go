package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/types"
)

type staticFeed string

func (f staticFeed) FeedChannelID() string { return string(f) }

type fakeFeedPublisher struct {
	mu       sync.Mutex
	calls    []string
	channels [][]string
	errs     []error
	block    chan struct{}
}

func (p *fakeFeedPublisher) Publish(ctx context.Context, raw types.RawPost, channelIDs []string) ([]types.PublishedPost, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, raw.ConversationID)
	p.channels = append(p.channels, channelIDs)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []types.PublishedPost{{ChannelID: channelIDs[0], MessageID: "m-" + raw.ConversationID}}, nil
}

func (p *fakeFeedPublisher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newTestPipeline(t *testing.T, pub *fakeFeedPublisher, feed string) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{
		Publisher:      pub,
		Feed:           staticFeed(feed),
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func downloadErr() error {
	return &types.DownloadError{URL: "https://cdn/1.jpg", StatusCode: 502}
}

func TestPipelinePublishesInOrder(t *testing.T) {
	pub := &fakeFeedPublisher{}
	p := newTestPipeline(t, pub, "feed")

	for _, id := range []string{"1", "2", "3"} {
		p.Submit(types.RawPost{ConversationID: id})
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, []string{"1", "2", "3"}, pub.Calls())
	assert.Equal(t, []string{"feed"}, pub.channels[0])
}

func TestPipelineDropsWithoutFeedChannel(t *testing.T) {
	pub := &fakeFeedPublisher{}
	p := newTestPipeline(t, pub, "")

	p.Submit(types.RawPost{ConversationID: "1"})
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, pub.Calls())
}

func TestPipelineRetriesDownloadFailures(t *testing.T) {
	pub := &fakeFeedPublisher{errs: []error{downloadErr(), downloadErr()}}
	p := newTestPipeline(t, pub, "feed")

	require.NoError(t, p.publishWithRetry(context.Background(), types.RawPost{ConversationID: "1"}, []string{"feed"}))
	assert.Equal(t, []string{"1", "1", "1"}, pub.Calls())
}

func TestPipelineGivesUpAfterMaxRetries(t *testing.T) {
	pub := &fakeFeedPublisher{errs: []error{downloadErr(), downloadErr(), downloadErr(), downloadErr(), downloadErr()}}
	p := newTestPipeline(t, pub, "feed")

	err := p.publishWithRetry(context.Background(), types.RawPost{ConversationID: "1"}, []string{"feed"})
	require.Error(t, err)
	var download *types.DownloadError
	assert.ErrorAs(t, err, &download)
	assert.Len(t, pub.Calls(), 4)
}

func TestPipelineDoesNotRetrySendFailures(t *testing.T) {
	pub := &fakeFeedPublisher{errs: []error{errors.New("discord unavailable")}}
	p := newTestPipeline(t, pub, "feed")

	err := p.publishWithRetry(context.Background(), types.RawPost{ConversationID: "1"}, []string{"feed"})
	require.Error(t, err)
	assert.Len(t, pub.Calls(), 1)
}

func TestPipelineShutdownDeadlineCancelsPublish(t *testing.T) {
	pub := &fakeFeedPublisher{block: make(chan struct{})}
	p := newTestPipeline(t, pub, "feed")

	p.Submit(types.RawPost{ConversationID: "1"})
	p.Submit(types.RawPost{ConversationID: "2"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, pub.Calls())
	assert.False(t, p.IsRunning())

	p.Submit(types.RawPost{ConversationID: "3"})
	assert.NoError(t, p.Shutdown(context.Background()))
}
