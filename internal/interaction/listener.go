package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"orbot/internal/types"
)

// Listener collects activations of a fixed set of custom ids, typically
// the components of one prompt message. Activations are buffered so the
// gateway goroutine never blocks on a slow consumer.
type Listener struct {
	events chan *Context
	done   chan struct{}
	once   sync.Once
	remove []func()
}

// Listen registers a one-off route for each id until Close is called.
func (r *Router) Listen(customIDs ...string) *Listener {
	l := &Listener{
		events: make(chan *Context, 8),
		done:   make(chan struct{}),
	}
	h := HandlerFunc(func(ctx context.Context, ic *Context) error {
		select {
		case l.events <- ic:
			return nil
		case <-l.done:
			return types.ErrSessionClosed
		}
	})
	for _, id := range customIDs {
		l.remove = append(l.remove, r.Handle(id, h))
	}
	return l
}

// Next waits for the following activation. A deadline on ctx turns into a
// TimeoutError; plain cancellation is returned as is.
func (l *Listener) Next(ctx context.Context, operation string, timeout time.Duration) (*Context, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case ic := <-l.events:
		return ic, nil
	case <-l.done:
		return nil, types.ErrSessionClosed
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &types.TimeoutError{Operation: operation, After: timeout}
	}
}

func (l *Listener) Close() {
	l.once.Do(func() {
		close(l.done)
		for _, remove := range l.remove {
			remove()
		}
	})
}
