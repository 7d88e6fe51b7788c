package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/stream"
	"orbot/internal/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeStream struct {
	log      *eventLog
	startErr error
	state    stream.State
	lastErr  error
}

func (s *fakeStream) Start(ctx context.Context) error {
	s.log.add("stream start")
	return s.startErr
}

func (s *fakeStream) Stop(ctx context.Context) error {
	s.log.add("stream stop")
	return nil
}

func (s *fakeStream) Status() (stream.State, error) {
	return s.state, s.lastErr
}

type fakeRestorer struct{ log *eventLog }

func (r *fakeRestorer) Restore(ctx context.Context) (int, error) {
	r.log.add("restore")
	return 2, nil
}

func (r *fakeRestorer) Close() error {
	r.log.add("posts close")
	return nil
}

type namedCloser struct {
	log  *eventLog
	name string
}

func (c namedCloser) Close() { c.log.add(c.name + " close") }

type fakeComponents struct{ log *eventLog }

func (c fakeComponents) CloseAll(ctx context.Context) error {
	c.log.add("components close")
	return nil
}

func newTestBot(t *testing.T, log *eventLog, st *fakeStream) *Bot {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{Publisher: &fakeFeedPublisher{}, Feed: staticFeed("feed")})
	require.NoError(t, err)

	b, err := NewBot(BotConfig{
		Name:       "orbot",
		Components: fakeComponents{log},
		Stream:     st,
		Aggregator: namedCloser{log, "aggregator"},
		Pipeline:   p,
		Posts:      &fakeRestorer{log},
		Sessions:   namedCloser{log, "sessions"},
	})
	require.NoError(t, err)
	return b
}

func TestBotLifecycle(t *testing.T) {
	log := &eventLog{}
	b := newTestBot(t, log, &fakeStream{log: log})

	done := make(chan error, 1)
	go func() { done <- b.Start(context.Background()) }()
	require.Eventually(t, func() bool { return len(log.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, b.IsRunning())

	require.NoError(t, b.Stop(context.Background()))
	require.NoError(t, <-done)
	assert.False(t, b.IsRunning())

	assert.Equal(t, []string{
		"restore", "stream start",
		"stream stop", "aggregator close", "sessions close", "posts close", "components close",
	}, log.all())
}

func TestBotKeepsRunningWithoutFollowList(t *testing.T) {
	log := &eventLog{}
	st := &fakeStream{log: log, startErr: types.NewConfigError("follow_list", "empty")}
	b := newTestBot(t, log, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()
	require.Eventually(t, b.IsRunning, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBotFailsOnStreamError(t *testing.T) {
	log := &eventLog{}
	b := newTestBot(t, log, &fakeStream{log: log, startErr: errors.New("unauthorized")})

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.False(t, b.IsRunning())
}

func TestBotHealth(t *testing.T) {
	log := &eventLog{}
	st := &fakeStream{log: log, state: stream.Connected}
	b := newTestBot(t, log, st)
	assert.NoError(t, b.Health())

	st.state = stream.Disconnected
	st.lastErr = errors.New("401")
	err := b.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnected")
}
