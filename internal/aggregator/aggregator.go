package aggregator

import (
	"log/slog"
	"sync"
	"time"

	"orbot/internal/types"
)

const DefaultSettleDelay = 10 * time.Second

// Predicate decides whether the first event of a conversation opens a buffer.
type Predicate func(types.StreamEvent) bool

// Sink receives every flushed conversation.
type Sink func(types.RawPost)

type Config struct {
	SettleDelay time.Duration
	Predicate   Predicate
	Sink        Sink
	Logger      *slog.Logger
}

type buffer struct {
	conversationID string
	events         []types.StreamEvent
	createdAt      time.Time
	timer          *time.Timer
}

// Aggregator groups tweets of one conversation. The settle timer is armed
// once when a buffer opens and is never reset, so a busy thread still
// flushes settleDelay after its first tweet.
type Aggregator struct {
	settleDelay time.Duration
	predicate   Predicate
	sink        Sink
	log         *slog.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg Config) *Aggregator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Predicate == nil {
		cfg.Predicate = func(types.StreamEvent) bool { return true }
	}
	if cfg.Sink == nil {
		cfg.Sink = func(types.RawPost) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Aggregator{
		settleDelay: cfg.SettleDelay,
		predicate:   cfg.Predicate,
		sink:        cfg.Sink,
		log:         cfg.Logger.With("component", "aggregator"),
		buffers:     make(map[string]*buffer),
	}
}

// OnEvent appends to the conversation's open buffer or, when the predicate
// accepts the event, opens a new one. Rejected events are dropped.
func (a *Aggregator) OnEvent(ev types.StreamEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	if b, ok := a.buffers[ev.ConversationID]; ok {
		b.events = append(b.events, ev)
		return
	}

	if !a.predicate(ev) {
		a.log.Debug("Dropping filtered tweet", "tweet_id", ev.ID, "conversation_id", ev.ConversationID)
		return
	}

	b := &buffer{
		conversationID: ev.ConversationID,
		events:         []types.StreamEvent{ev},
		createdAt:      time.Now(),
	}
	a.buffers[ev.ConversationID] = b

	a.wg.Add(1)
	b.timer = time.AfterFunc(a.settleDelay, func() {
		defer a.wg.Done()
		a.flush(b)
	})
}

func (a *Aggregator) flush(b *buffer) {
	a.mu.Lock()
	// A buffer is only flushed while it is still the live one for its id.
	if a.buffers[b.conversationID] != b {
		a.mu.Unlock()
		return
	}
	delete(a.buffers, b.conversationID)
	events := b.events
	a.mu.Unlock()

	post := Combine(b.conversationID, events)
	a.log.Info("Flushed conversation",
		"conversation_id", post.ConversationID,
		"tweets", len(events),
		"media", post.MediaCount(),
		"buffered_for", time.Since(b.createdAt).Round(time.Millisecond))

	a.sink(post)
}

// Pending returns the number of open buffers.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Close drops open buffers without flushing them and waits for flushes that
// already started.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	for id, b := range a.buffers {
		if b.timer.Stop() {
			a.wg.Done()
		}
		delete(a.buffers, id)
	}
	a.mu.Unlock()

	a.wg.Wait()
}

// Combine builds a RawPost. Media of every event is concatenated in arrival
// order; author, caption and link come from the first event.
func Combine(conversationID string, events []types.StreamEvent) types.RawPost {
	post := types.RawPost{ConversationID: conversationID}
	if len(events) == 0 {
		return post
	}

	first := events[0]
	post.Author = first.Author
	post.CaptionText = first.CaptionText()
	post.TweetURL = first.TweetURL()

	for _, ev := range events {
		for _, ref := range ev.MediaRefs {
			post.MediaURLs = append(post.MediaURLs, ref.URL)
			post.MediaFilenames = append(post.MediaFilenames, ref.Filename)
		}
	}
	return post
}
