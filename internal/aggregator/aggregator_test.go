package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/types"
)

func event(conv string, urls ...string) types.StreamEvent {
	ev := types.StreamEvent{
		ID:             conv + "-" + time.Now().Format("150405.000000000"),
		ConversationID: conv,
		Author:         types.Author{ID: "1", Name: "Fan", Username: "fan"},
		Text:           "caption for " + conv,
		Hashtags:       []string{"orbit"},
	}
	for _, u := range urls {
		ev.MediaRefs = append(ev.MediaRefs, types.MediaRef{URL: u, Filename: u + ".jpg"})
	}
	return ev
}

func collector(cfg Config) (*Aggregator, chan types.RawPost) {
	out := make(chan types.RawPost, 16)
	cfg.Sink = func(p types.RawPost) { out <- p }
	return New(cfg), out
}

func receive(t *testing.T, ch <-chan types.RawPost) types.RawPost {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no post flushed")
		return types.RawPost{}
	}
}

func assertQuiet(t *testing.T, ch <-chan types.RawPost, d time.Duration) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected flush of %s", p.ConversationID)
	case <-time.After(d):
	}
}

func TestBurstIsFlushedOnceInArrivalOrder(t *testing.T) {
	agg, out := collector(Config{SettleDelay: 80 * time.Millisecond})
	defer agg.Close()

	agg.OnEvent(event("C1", "a", "b", "c"))
	agg.OnEvent(event("C1", "d"))
	agg.OnEvent(event("C1", "e", "f"))

	post := receive(t, out)
	assert.Equal(t, "C1", post.ConversationID)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, post.MediaURLs)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg"}, post.MediaFilenames)
	assert.Equal(t, "caption for C1", post.CaptionText)

	assertQuiet(t, out, 150*time.Millisecond)
	assert.Zero(t, agg.Pending())
}

func TestTimerIsNotResetByLaterEvents(t *testing.T) {
	delay := 120 * time.Millisecond
	agg, out := collector(Config{SettleDelay: delay})
	defer agg.Close()

	start := time.Now()
	agg.OnEvent(event("C1", "a"))
	time.Sleep(delay / 2)
	agg.OnEvent(event("C1", "b"))

	post := receive(t, out)
	elapsed := time.Since(start)
	assert.Equal(t, []string{"a", "b"}, post.MediaURLs)
	assert.Less(t, elapsed, delay+delay/2+50*time.Millisecond)
}

func TestEventsApartBeyondSettleProduceTwoPosts(t *testing.T) {
	agg, out := collector(Config{SettleDelay: 50 * time.Millisecond})
	defer agg.Close()

	agg.OnEvent(event("C1", "a"))
	first := receive(t, out)

	agg.OnEvent(event("C1", "b"))
	second := receive(t, out)

	assert.Equal(t, []string{"a"}, first.MediaURLs)
	assert.Equal(t, []string{"b"}, second.MediaURLs)
}

func TestFilteredFirstEventIsDropped(t *testing.T) {
	agg, out := collector(Config{
		SettleDelay: 40 * time.Millisecond,
		Predicate:   func(ev types.StreamEvent) bool { return len(ev.Hashtags) > 0 },
	})
	defer agg.Close()

	ev := event("C2", "x")
	ev.Hashtags = nil
	agg.OnEvent(ev)
	assert.Zero(t, agg.Pending())
	assertQuiet(t, out, 100*time.Millisecond)
}

func TestPredicateOnlyGatesTheFirstEvent(t *testing.T) {
	agg, out := collector(Config{
		SettleDelay: 60 * time.Millisecond,
		Predicate:   func(ev types.StreamEvent) bool { return len(ev.Hashtags) > 0 },
	})
	defer agg.Close()

	agg.OnEvent(event("C3", "a"))
	reply := event("C3", "b")
	reply.Hashtags = nil
	agg.OnEvent(reply)

	post := receive(t, out)
	assert.Equal(t, []string{"a", "b"}, post.MediaURLs)
}

func TestConversationsFlushIndependently(t *testing.T) {
	agg, out := collector(Config{SettleDelay: 50 * time.Millisecond})
	defer agg.Close()

	agg.OnEvent(event("A", "1"))
	agg.OnEvent(event("B", "2"))

	got := map[string][]string{}
	for range 2 {
		p := receive(t, out)
		got[p.ConversationID] = p.MediaURLs
	}
	assert.Equal(t, map[string][]string{"A": {"1"}, "B": {"2"}}, got)
}

func TestCloseDropsPendingBuffers(t *testing.T) {
	agg, out := collector(Config{SettleDelay: 50 * time.Millisecond})

	agg.OnEvent(event("C1", "a"))
	agg.Close()
	agg.OnEvent(event("C2", "b"))

	assertQuiet(t, out, 120*time.Millisecond)
	assert.Zero(t, agg.Pending())
}

func TestCombineUsesFirstEventMetadata(t *testing.T) {
	first := event("C1", "a")
	first.URLs = []types.TweetURL{{Short: "https://t.co/x", Expanded: "https://twitter.com/fan/status/9/photo/1"}}
	first.Text = "hello https://t.co/x"
	second := event("C1", "b")
	second.Author = types.Author{Name: "Other", Username: "other"}

	post := Combine("C1", []types.StreamEvent{first, second})
	require.Equal(t, "fan", post.Author.Username)
	assert.Equal(t, "hello", post.CaptionText)
	assert.Equal(t, "https://twitter.com/fan/status/9", post.TweetURL)
	assert.Equal(t, 2, post.MediaCount())
}
