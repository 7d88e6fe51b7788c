package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"orbot/internal/metrics"
	"orbot/internal/storage"
	"orbot/internal/twitter"
	"orbot/internal/types"
)

// API is the part of the Twitter client the connection needs.
type API interface {
	Rules(ctx context.Context) ([]twitter.Rule, error)
	AddRules(ctx context.Context, values []string) ([]twitter.Rule, error)
	ClearRules(ctx context.Context) error
	Stream(ctx context.Context) (io.ReadCloser, error)
}

type FollowAction string

const (
	FollowAdd    FollowAction = "add"
	FollowRemove FollowAction = "remove"
)

type Config struct {
	API        API
	FollowList storage.FollowList
	// Handler receives decoded events in arrival order from one goroutine.
	Handler func(types.StreamEvent)

	MaxRuleLength      int
	QueueSize          int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ShutdownTimeout    time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Connection owns the single filtered-stream subscription.
type Connection struct {
	api        API
	followList storage.FollowList
	handler    func(types.StreamEvent)

	maxRuleLength   int
	queueSize       int
	baseDelay       time.Duration
	maxDelay        time.Duration
	shutdownTimeout time.Duration

	metrics *metrics.Metrics
	log     *slog.Logger

	// lifecycle serializes Start, Stop and Restart.
	lifecycle sync.Mutex
	dirty     atomic.Bool
	state     atomic.Int32

	mu          sync.Mutex
	run         *run
	startCancel context.CancelFunc
	lastErr     error
}

type run struct {
	id     int64
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	mu   sync.Mutex
	body io.ReadCloser
}

var runIDs atomic.Int64

func New(cfg Config) (*Connection, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("stream: API is required")
	}
	if cfg.FollowList == nil {
		return nil, fmt.Errorf("stream: follow list is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("stream: handler is required")
	}
	if cfg.MaxRuleLength <= 0 {
		cfg.MaxRuleLength = twitter.DefaultMaxRuleLength
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Connection{
		api:             cfg.API,
		followList:      cfg.FollowList,
		handler:         cfg.Handler,
		maxRuleLength:   cfg.MaxRuleLength,
		queueSize:       cfg.QueueSize,
		baseDelay:       cfg.ReconnectBaseDelay,
		maxDelay:        cfg.ReconnectMaxDelay,
		shutdownTimeout: cfg.ShutdownTimeout,
		metrics:         cfg.Metrics,
		log:             cfg.Logger.With("component", "stream"),
	}
	c.setState(Disconnected)
	return c, nil
}

func (c *Connection) Status() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State(c.state.Load()), c.lastErr
}

// Running reports whether a connection loop is active.
func (c *Connection) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Start syncs the remote rules with the follow list and opens the stream in
// the background. It returns once the rules are in place. Calling Start on a
// running connection is a no-op.
func (c *Connection) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.startLocked(ctx)
}

// Stop closes the stream, waiting up to the shutdown timeout for the reader
// to finish before tearing the transport down.
func (c *Connection) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked(ctx)
}

// Restart cancels a start that is still in progress, then stops and starts.
// Concurrent restarts run one after another and leave one connection.
func (c *Connection) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.startCancel != nil {
		c.startCancel()
	}
	c.mu.Unlock()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if err := c.stopLocked(ctx); err != nil {
		return err
	}
	return c.startLocked(ctx)
}

// SaveFollowID updates the follow list and marks the rules for a resync on
// the next start. Adding a present id or removing an absent one changes
// nothing and is not an error.
func (c *Connection) SaveFollowID(ctx context.Context, id string, action FollowAction) (bool, error) {
	var (
		changed bool
		err     error
	)
	switch action {
	case FollowAdd:
		changed, err = c.followList.Add(ctx, id)
	case FollowRemove:
		changed, err = c.followList.Remove(ctx, id)
	default:
		return false, types.NewConfigError("follow_action", fmt.Sprintf("unknown action %q", action))
	}
	if err != nil {
		return false, err
	}

	if changed {
		c.dirty.Store(true)
		c.log.Info("Follow list changed", "id", id, "action", string(action))
	}
	return changed, nil
}

// IsFollowing reports whether id is on the follow list.
func (c *Connection) IsFollowing(ctx context.Context, id string) (bool, error) {
	ids, err := c.followList.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read follow list: %w", err)
	}
	return slices.Contains(ids, strings.TrimSpace(id)), nil
}

// MarkDirty forces a rule resync on the next start.
func (c *Connection) MarkDirty() {
	c.dirty.Store(true)
}

func (c *Connection) startLocked(parent context.Context) error {
	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	c.startCancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.startCancel = nil
		c.mu.Unlock()
	}()

	c.setState(Connecting)

	if err := c.syncRules(ctx); err != nil {
		c.setState(Disconnected)
		c.recordErr(err)
		return err
	}

	if err := ctx.Err(); err != nil {
		c.setState(Disconnected)
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	r := &run{
		id:     runIDs.Add(1),
		cancel: runCancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.run = r
	c.lastErr = nil
	c.mu.Unlock()

	go c.loop(runCtx, r)
	return nil
}

func (c *Connection) syncRules(ctx context.Context) error {
	ids, err := c.followList.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read follow list: %w", err)
	}
	if len(ids) == 0 {
		return types.NewConfigError("follow_list", "no accounts to follow")
	}

	rules, err := twitter.CompileRules(ids, c.maxRuleLength)
	if err != nil {
		return err
	}

	dirty := c.dirty.Swap(false)

	remote, err := c.api.Rules(ctx)
	if err != nil {
		if dirty {
			c.dirty.Store(true)
		}
		return fmt.Errorf("failed to fetch stream rules: %w", err)
	}

	if len(remote) > 0 && !dirty && twitter.SameRules(remote, rules) {
		c.log.Debug("Stream rules up to date", "rules", len(remote))
		return nil
	}

	if len(remote) > 0 {
		if err := c.api.ClearRules(ctx); err != nil {
			c.dirty.Store(true)
			return fmt.Errorf("failed to clear stream rules: %w", err)
		}
	}
	if _, err := c.api.AddRules(ctx, rules); err != nil {
		c.dirty.Store(true)
		return fmt.Errorf("failed to install stream rules: %w", err)
	}

	c.log.Info("Installed stream rules", "rules", len(rules), "accounts", len(ids), "replaced", len(remote))
	return nil
}

func (c *Connection) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	c.setState(Disconnecting)
	close(r.stop)
	r.closeBody()

	timer := time.NewTimer(c.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		c.log.Warn("Stream did not close in time, forcing disconnect", "timeout", c.shutdownTimeout)
		r.cancel()
		<-r.done
	case <-ctx.Done():
		r.cancel()
		<-r.done
	}
	r.cancel()

	c.mu.Lock()
	if c.run == r {
		c.run = nil
	}
	c.mu.Unlock()

	c.setState(Disconnected)
	c.log.Info("Stream disconnected")
	return nil
}

// loop keeps the stream open until stopped. Each connection attempt runs
// under a retry policy with exponential backoff; a connection that was up
// and then dropped starts a fresh policy so the backoff resets.
func (c *Connection) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	// Stop ends pending connects and backoff waits as well as the reader.
	go func() {
		select {
		case <-r.stop:
			r.cancel()
		case <-ctx.Done():
		}
	}()

	queue := make(chan types.StreamEvent, c.queueSize)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for ev := range queue {
			c.handler(ev)
		}
	}()
	defer func() {
		close(queue)
		<-dispatched
	}()

	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return retryable(err)
		}).
		WithBackoff(c.baseDelay, c.maxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(-1).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			c.setState(Reconnecting)
			c.log.Warn("Reconnecting to stream", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()

	for {
		err := failsafe.With(policy).WithContext(ctx).Run(func() error {
			return c.session(ctx, r, queue)
		})

		if r.stopping() || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.recordErr(err)
			c.setState(Disconnected)
			c.log.Error("Stream stopped after unrecoverable error", "error", err)
			c.detach(r)
			return
		}

		c.metrics.Reconnected()
		c.setState(Reconnecting)
		if !r.sleep(ctx, c.baseDelay) {
			return
		}
	}
}

// session connects once and reads until the body ends. It returns nil when a
// live connection dropped and an error when connecting failed.
func (c *Connection) session(ctx context.Context, r *run, queue chan<- types.StreamEvent) error {
	if r.stopping() {
		return nil
	}
	c.setState(Connecting)

	body, err := c.api.Stream(ctx)
	if err != nil {
		c.recordErr(err)
		if te, ok := types.AsTransport(err); ok && te.RateLimited() && te.RetryAfter > 0 {
			c.log.Warn("Stream rate limited, waiting", "retry_after", te.RetryAfter)
			c.setState(Reconnecting)
			r.sleep(ctx, te.RetryAfter)
		}
		if r.stopping() {
			return nil
		}
		return err
	}

	if !r.setBody(body) {
		body.Close()
		return nil
	}
	defer r.closeBody()

	c.setState(Connected)
	c.log.Info("Stream connected")

	readErr := c.read(r, body, queue)
	if r.stopping() || ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		c.recordErr(&types.TransportError{Op: "read stream", Err: readErr})
	}
	c.log.Warn("Stream dropped", "error", readErr)
	return nil
}

func (c *Connection) read(r *run, body io.Reader, queue chan<- types.StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		ev, err := twitter.Decode(scanner.Bytes())
		if err != nil {
			if errors.Is(err, twitter.ErrNoTweet) {
				continue
			}
			c.metrics.StreamEvent("malformed")
			c.log.Warn("Dropping malformed stream payload", "error", err)
			continue
		}
		c.metrics.StreamEvent("decoded")

		select {
		case queue <- ev:
		case <-r.stop:
			return nil
		}
	}
	return scanner.Err()
}

func (c *Connection) detach(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == r {
		c.run = nil
	}
}

func (c *Connection) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetStreamState(s.String(), stateNames)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if te, ok := types.AsTransport(err); ok {
		return !te.Fatal()
	}
	return true
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// setBody records the live body. It fails once stop has been requested.
func (r *run) setBody(body io.ReadCloser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping() {
		return false
	}
	r.body = body
	return true
}

func (r *run) closeBody() {
	r.mu.Lock()
	body := r.body
	r.body = nil
	r.mu.Unlock()
	if body != nil {
		body.Close()
	}
}

// sleep waits for d and reports false if the run ended first.
func (r *run) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
