package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/types"
)

const (
	genericFailure = "Something went wrong while handling this interaction, please try again later."
	notOwnerNotice = "You are not allowed to interact with this post!"
	expiredNotice  = "This interaction is no longer active."
)

// Handler reacts to one activation of a registered interaction.
type Handler interface {
	OnActivate(ctx context.Context, ic *Context) error
}

type HandlerFunc func(ctx context.Context, ic *Context) error

func (f HandlerFunc) OnActivate(ctx context.Context, ic *Context) error {
	return f(ctx, ic)
}

type route struct {
	prefix  string
	handler Handler
}

// Router dispatches interactions to handlers by custom id or command name.
// Exact ids win over prefixes; among prefixes the longest one wins.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]*route
	prefixes []*route
	commands map[string]Handler

	log *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		exact:    make(map[string]*route),
		commands: make(map[string]Handler),
		log:      log.With("component", "interaction"),
	}
}

// Handle registers h for one custom id and returns a func removing it.
func (r *Router) Handle(customID string, h Handler) func() {
	rt := &route{handler: h}
	r.mu.Lock()
	r.exact[customID] = rt
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.exact[customID]; ok && cur == rt {
			delete(r.exact, customID)
		}
	}
}

func (r *Router) HandlePrefix(prefix string, h Handler) func() {
	rt := &route{prefix: prefix, handler: h}
	r.mu.Lock()
	r.prefixes = append(r.prefixes, rt)
	sort.SliceStable(r.prefixes, func(a, b int) bool {
		return len(r.prefixes[a].prefix) > len(r.prefixes[b].prefix)
	})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for idx, cur := range r.prefixes {
			if cur == rt {
				r.prefixes = append(r.prefixes[:idx], r.prefixes[idx+1:]...)
				return
			}
		}
	}
}

func (r *Router) HandleCommand(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = h
}

func (r *Router) lookup(ic *Context) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ic.Kind == KindCommand {
		h, ok := r.commands[ic.Command]
		return h, ok
	}
	if rt, ok := r.exact[ic.CustomID]; ok {
		return rt.handler, true
	}
	for _, rt := range r.prefixes {
		if strings.HasPrefix(ic.CustomID, rt.prefix) {
			return rt.handler, true
		}
	}
	return nil, false
}

// Dispatch runs the matching handler. Handler errors and panics never
// escape; the user gets a notice instead.
func (r *Router) Dispatch(ctx context.Context, ic *Context) {
	h, ok := r.lookup(ic)
	if !ok {
		r.log.Debug("No handler for interaction", "kind", ic.Kind.String(), "custom_id", ic.CustomID, "command", ic.Command)
		r.notify(ic, expiredNotice)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Interaction handler panicked",
				"custom_id", ic.CustomID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			r.notify(ic, genericFailure)
		}
	}()

	err := h.OnActivate(ctx, ic)
	if err == nil {
		return
	}

	var validation *types.ValidationError
	switch {
	case errors.As(err, &validation):
		r.notify(ic, validation.Message)
	case errors.Is(err, types.ErrNotOwner):
		r.notify(ic, notOwnerNotice)
	case errors.Is(err, types.ErrSessionClosed):
		r.notify(ic, expiredNotice)
	case types.IsTimeout(err):
		r.log.Debug("Interaction timed out", "custom_id", ic.CustomID, "error", err)
	default:
		r.log.Error("Interaction handler failed",
			"kind", ic.Kind.String(),
			"custom_id", ic.CustomID,
			"command", ic.Command,
			"user", ic.UserID,
			"error", err)
		r.notify(ic, genericFailure)
	}
}

func (r *Router) notify(ic *Context, content string) {
	if ic.Responder == nil {
		return
	}
	if err := ic.Notify(content); err != nil {
		r.log.Warn("Failed to send interaction notice", "custom_id", ic.CustomID, "error", err)
	}
}

// OnInteraction is a discordgo event handler feeding the router.
func (r *Router) OnInteraction(s *discordgo.Session, e *discordgo.InteractionCreate) {
	r.Dispatch(context.Background(), FromDiscord(s, e.Interaction))
}
