package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/types"
)

// MessageWaiter hands newly created messages to whoever is waiting for the
// next message of a user in a channel.
type MessageWaiter struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]*messageWait
}

type messageWait struct {
	channelID string
	userID    string
	match     func(*discordgo.Message) bool
	ch        chan *discordgo.Message
}

func NewMessageWaiter() *MessageWaiter {
	return &MessageWaiter{waiters: make(map[uint64]*messageWait)}
}

// Wait blocks until a matching message arrives, the timeout elapses or ctx
// is cancelled. A nil match accepts any message.
func (w *MessageWaiter) Wait(ctx context.Context, channelID, userID string, timeout time.Duration, match func(*discordgo.Message) bool) (*discordgo.Message, error) {
	wait := &messageWait{
		channelID: channelID,
		userID:    userID,
		match:     match,
		ch:        make(chan *discordgo.Message, 1),
	}

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.waiters[id] = wait
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.waiters, id)
		w.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case m := <-wait.ch:
		return m, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, &types.TimeoutError{Operation: "wait for message", After: timeout}
	}
}

// Deliver offers m to the waiters. It reports whether one took it.
func (w *MessageWaiter) Deliver(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, wait := range w.waiters {
		if wait.channelID != m.ChannelID || wait.userID != m.Author.ID {
			continue
		}
		if wait.match != nil && !wait.match(m) {
			continue
		}
		select {
		case wait.ch <- m:
			delete(w.waiters, id)
			return true
		default:
		}
	}
	return false
}

// OnMessageCreate is a discordgo event handler feeding the waiter.
func (w *MessageWaiter) OnMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	w.Deliver(e.Message)
}
