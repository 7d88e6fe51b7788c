package poster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/interaction"
	"orbot/internal/interaction/interactiontest"
	"orbot/internal/platforms"
	"orbot/internal/types"
)

type sentMessage struct {
	ChannelID string
	ID        string
	Msg       *platforms.OutgoingMessage
}

type editedMessage struct {
	ChannelID string
	MessageID string
	Edit      *platforms.MessageEdit
}

type fakeSender struct {
	mu       sync.Mutex
	next     int
	sent     []sentMessage
	edits    []editedMessage
	messages map[string]*discordgo.Message
	failOn   int
}

func (s *fakeSender) Send(ctx context.Context, channelID string, msg *platforms.OutgoingMessage) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if s.failOn > 0 && s.next == s.failOn {
		return nil, fmt.Errorf("discord unavailable")
	}
	id := fmt.Sprintf("m%d", s.next)
	s.sent = append(s.sent, sentMessage{ChannelID: channelID, ID: id, Msg: msg})
	return &discordgo.Message{ID: id, ChannelID: channelID}, nil
}

func (s *fakeSender) Edit(ctx context.Context, channelID, messageID string, edit *platforms.MessageEdit) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, editedMessage{ChannelID: channelID, MessageID: messageID, Edit: edit})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (s *fakeSender) Delete(ctx context.Context, channelID, messageID string) error {
	return nil
}

func (s *fakeSender) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("fetch: %w", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}})
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeFetcher) FetchAll(ctx context.Context, urls, names []string) ([]*types.FetchedMedia, error) {
	f.mu.Lock()
	f.calls = append(f.calls, urls)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*types.FetchedMedia, len(urls))
	for i, u := range urls {
		name := fmt.Sprintf("file%d.jpg", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		out[i] = &types.FetchedMedia{Filename: name, Data: []byte(u), SourceURL: u}
	}
	return out, nil
}

type memoryPosts struct {
	mu    sync.Mutex
	posts map[string]types.ActivePost
}

func newMemoryPosts() *memoryPosts {
	return &memoryPosts{posts: make(map[string]types.ActivePost)}
}

func (m *memoryPosts) Save(ctx context.Context, post types.ActivePost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[post.MessageID] = post
	return nil
}

func (m *memoryPosts) Get(ctx context.Context, id string) (types.ActivePost, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	return p, ok, nil
}

func (m *memoryPosts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	return nil
}

func (m *memoryPosts) List(ctx context.Context) ([]types.ActivePost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ActivePost
	for _, p := range m.posts {
		out = append(out, p)
	}
	return out, nil
}

type fixture struct {
	sender  *fakeSender
	fetcher *fakeFetcher
	posts   *memoryPosts
	pub     *Publisher
}

func newFixture(t *testing.T, archive bool) *fixture {
	t.Helper()
	f := &fixture{
		sender:  &fakeSender{messages: map[string]*discordgo.Message{}},
		fetcher: &fakeFetcher{},
		posts:   newMemoryPosts(),
	}
	pub, err := New(Config{
		Sender:  f.sender,
		Fetcher: f.fetcher,
		Posts:   f.posts,
		Archive: archive,
	})
	require.NoError(t, err)
	f.pub = pub
	t.Cleanup(func() { _ = pub.Close() })
	return f
}

func rawPost(n int) types.RawPost {
	raw := types.RawPost{
		ConversationID: "1699",
		Author:         types.Author{ID: "42", Name: "Fan Site", Username: "fansite"},
		CaptionText:    "new photos",
		TweetURL:       "https://twitter.com/fansite/status/1700",
	}
	for i := 0; i < n; i++ {
		raw.MediaURLs = append(raw.MediaURLs, fmt.Sprintf("https://pbs.twimg.com/media/%d.jpg:orig", i))
		raw.MediaFilenames = append(raw.MediaFilenames, fmt.Sprintf("%d.jpg", i))
	}
	return raw
}

func TestPublishBatchesPerChannel(t *testing.T) {
	f := newFixture(t, true)

	published, err := f.pub.Publish(context.Background(), rawPost(23), []string{"feed", "mirror"})
	require.NoError(t, err)
	require.Len(t, published, 6)

	// Three batches and one archive per channel, in order.
	require.Len(t, f.sender.sent, 8)
	for c, channel := range []string{"feed", "mirror"} {
		msgs := f.sender.sent[c*4 : c*4+4]
		sizes := []int{10, 10, 3, 1}
		for i, m := range msgs {
			assert.Equal(t, channel, m.ChannelID)
			assert.Len(t, m.Msg.Files, sizes[i])
		}
		assert.NotEmpty(t, msgs[0].Msg.Content)
		assert.Empty(t, msgs[1].Msg.Content)
		assert.Empty(t, msgs[2].Msg.Content)
		assert.Equal(t, "1699.zip", msgs[3].Msg.Files[0].Filename)
		assert.Equal(t, "0.jpg", msgs[0].Msg.Files[0].Filename)
		assert.Equal(t, "20.jpg", msgs[2].Msg.Files[0].Filename)
	}

	// Controls land on the first message of the first channel only.
	require.Len(t, f.sender.edits, 1)
	edit := f.sender.edits[0]
	assert.Equal(t, "m1", edit.MessageID)
	require.NotNil(t, edit.Edit.Components)
	row := (*edit.Edit.Components)[0].(discordgo.ActionsRow)
	assert.Equal(t, "persistent:m1:new_post", row.Components[0].(discordgo.Button).CustomID)
	assert.Equal(t, "persistent:m1:close_tweet", row.Components[1].(discordgo.Button).CustomID)

	post, ok, err := f.posts.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "feed", post.ChannelID)
	assert.Equal(t, "fansite", post.Author.Username)
	assert.Equal(t, "https://twitter.com/fansite/status/1700", post.TweetURL)

	assert.Equal(t, "fansite", published[0].CaptionCredits.Username)
	assert.Len(t, published[0].Media, 10)
}

func TestPublishValidatesBeforeFetching(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.pub.Publish(context.Background(), rawPost(2), nil)
	assert.True(t, types.IsNoChannels(err))

	_, err = f.pub.Publish(context.Background(), rawPost(0), []string{"feed"})
	assert.True(t, types.IsNoMedia(err))

	assert.Empty(t, f.fetcher.calls)
	assert.Empty(t, f.sender.sent)
}

func TestPublishDownloadFailureSendsNothing(t *testing.T) {
	f := newFixture(t, false)
	f.fetcher.err = &types.DownloadError{URL: "https://x/1.jpg", StatusCode: 404}

	_, err := f.pub.Publish(context.Background(), rawPost(2), []string{"feed"})
	assert.True(t, types.IsDownload(err))
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.posts.posts)
}

func TestPublishSendFailure(t *testing.T) {
	f := newFixture(t, false)
	f.sender.failOn = 2

	published, err := f.pub.Publish(context.Background(), rawPost(12), []string{"feed"})
	require.Error(t, err)
	assert.Len(t, published, 1)
	assert.Empty(t, f.sender.edits)
	assert.Empty(t, f.posts.posts)
}

func TestPublishContent(t *testing.T) {
	f := newFixture(t, true)
	pool, _ := f.fetcher.FetchAll(context.Background(), []string{"a", "b"}, nil)

	published, err := f.pub.PublishContent(context.Background(), types.PostContent{Caption: "hello", Media: pool}, []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, published, 2)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "hello", f.sender.sent[1].Msg.Content)
	assert.Empty(t, f.sender.edits)

	_, err = f.pub.PublishContent(context.Background(), types.PostContent{Caption: "x"}, []string{"c1"})
	assert.True(t, types.IsNoMedia(err))
}

func TestEditPost(t *testing.T) {
	f := newFixture(t, false)
	pool, _ := f.fetcher.FetchAll(context.Background(), []string{"a", "b"}, nil)

	require.NoError(t, f.pub.EditPost(context.Background(), "c1", "m9", types.PostContent{Caption: "new", Media: pool}))
	require.Len(t, f.sender.edits, 1)
	edit := f.sender.edits[0].Edit
	assert.Equal(t, "new", *edit.Content)
	assert.Len(t, *edit.Files, 2)

	many, _ := f.fetcher.FetchAll(context.Background(), make([]string, 11), nil)
	err := f.pub.EditPost(context.Background(), "c1", "m9", types.PostContent{Media: many})
	assert.True(t, types.IsValidation(err))
}

type recordingStarter struct {
	seeds []types.PostSeed
}

func (s *recordingStarter) StartNewPost(ctx context.Context, ic *interaction.Context, seed types.PostSeed) error {
	s.seeds = append(s.seeds, seed)
	return nil
}

func TestControlNewPostUsesCachedPool(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.pub.Publish(context.Background(), rawPost(12), []string{"feed"})
	require.NoError(t, err)

	starter := &recordingStarter{}
	h := f.pub.ControlHandler(starter)

	ic, rec := interactiontest.Context("u1", interaction.PersistentID("m1", ActionNewPost))
	require.NoError(t, h.OnActivate(context.Background(), ic))

	require.Len(t, starter.seeds, 1)
	assert.Len(t, starter.seeds[0].Media, 12)
	assert.Equal(t, "Fan Site", starter.seeds[0].Credits.Name)
	assert.Equal(t, "defer", rec.Calls()[0].Method)
	assert.Len(t, f.fetcher.calls, 1)
}

func TestControlNewPostAfterRestart(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.posts.Save(context.Background(), types.ActivePost{
		MessageID: "old",
		ChannelID: "feed",
		Author:    types.Author{Name: "Fan Site", Username: "fansite"},
	}))
	f.sender.messages["old"] = &discordgo.Message{ID: "old", Attachments: []*discordgo.MessageAttachment{
		{Filename: "a.jpg", URL: "https://cdn/a.jpg"},
		{Filename: "1699.zip", URL: "https://cdn/1699.zip"},
		{Filename: "b.mp4", URL: "https://cdn/b.mp4"},
	}}

	starter := &recordingStarter{}
	ic, _ := interactiontest.Context("u1", interaction.PersistentID("old", ActionNewPost))
	require.NoError(t, f.pub.ControlHandler(starter).OnActivate(context.Background(), ic))

	require.Len(t, starter.seeds, 1)
	require.Len(t, starter.seeds[0].Media, 2)
	assert.Equal(t, "a.jpg", starter.seeds[0].Media[0].Filename)
	assert.Equal(t, "b.mp4", starter.seeds[0].Media[1].Filename)
	assert.Equal(t, []string{"https://cdn/a.jpg", "https://cdn/b.mp4"}, f.fetcher.calls[0])
}

func TestControlClose(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.pub.Publish(context.Background(), rawPost(1), []string{"feed"})
	require.NoError(t, err)

	ic, _ := interactiontest.Context("u1", interaction.PersistentID("m1", ActionClose))
	require.NoError(t, f.pub.ControlHandler(&recordingStarter{}).OnActivate(context.Background(), ic))

	_, ok, _ := f.posts.Get(context.Background(), "m1")
	assert.False(t, ok)
	last := f.sender.edits[len(f.sender.edits)-1]
	assert.Equal(t, "m1", last.MessageID)
	assert.Empty(t, *last.Edit.Components)
	assert.Equal(t, 0, f.pub.pools.Len())

	ic, _ = interactiontest.Context("u1", interaction.PersistentID("m1", ActionNewPost))
	err = f.pub.ControlHandler(&recordingStarter{}).OnActivate(context.Background(), ic)
	assert.True(t, types.IsValidation(err))
}

func TestRestoreDropsDeletedMessages(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.posts.Save(ctx, types.ActivePost{MessageID: "alive", ChannelID: "feed"}))
	require.NoError(t, f.posts.Save(ctx, types.ActivePost{MessageID: "gone", ChannelID: "feed"}))
	f.sender.messages["alive"] = &discordgo.Message{ID: "alive"}

	active, err := f.pub.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	_, ok, _ := f.posts.Get(ctx, "gone")
	assert.False(t, ok)
	_, ok, _ = f.posts.Get(ctx, "alive")
	assert.True(t, ok)
}

func TestFeedCaption(t *testing.T) {
	caption := FeedCaption(rawPost(2))
	want := "```ml\nOriginal Tweet```\n" +
		"`Fan Site @fansite`\n" +
		"new photos\n" +
		"<https://twitter.com/fansite/status/1700>\n" +
		"\n```ml\nUploaded Media Links```\n" +
		"<https://pbs.twimg.com/media/0.jpg:orig>\n" +
		"<https://pbs.twimg.com/media/1.jpg:orig>"
	assert.Equal(t, want, caption)
}

func TestFeedCaptionDropsLinksToFit(t *testing.T) {
	caption := FeedCaption(rawPost(60))
	assert.LessOrEqual(t, len(caption), MaxMessageLength)
	assert.Contains(t, caption, "<https://pbs.twimg.com/media/0.jpg:orig>")
	assert.NotContains(t, caption, "/59.jpg")

	raw := rawPost(1)
	raw.CaptionText = strings.Repeat("é", 1500)
	caption = FeedCaption(raw)
	assert.LessOrEqual(t, len(caption), MaxMessageLength)
	assert.True(t, strings.HasSuffix(caption, "..."))
}

func TestFetchedMediaRereadable(t *testing.T) {
	m := &types.FetchedMedia{Filename: "a.jpg", Data: []byte("bytes")}
	for i := 0; i < 2; i++ {
		data, err := io.ReadAll(m.Reader())
		require.NoError(t, err)
		assert.Equal(t, "bytes", string(data))
	}
}
