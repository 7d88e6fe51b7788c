// Package interactiontest provides a recording Responder for tests.
package interactiontest

import (
	"sync"

	"orbot/internal/interaction"
)

type Call struct {
	Method string
	Reply  *interaction.Reply
	Modal  *interaction.Modal
}

// Recorder is a Responder that keeps every call.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	acked bool
	Err   error
}

func (r *Recorder) record(c Call, ack bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if ack {
		r.acked = true
	}
	return r.Err
}

func (r *Recorder) Reply(reply *interaction.Reply) error {
	return r.record(Call{Method: "reply", Reply: reply}, true)
}

func (r *Recorder) Defer() error {
	return r.record(Call{Method: "defer"}, true)
}

func (r *Recorder) Update(reply *interaction.Reply) error {
	return r.record(Call{Method: "update", Reply: reply}, true)
}

func (r *Recorder) EditReply(reply *interaction.Reply) error {
	return r.record(Call{Method: "edit", Reply: reply}, false)
}

func (r *Recorder) DeleteReply() error {
	return r.record(Call{Method: "delete"}, false)
}

func (r *Recorder) Modal(m *interaction.Modal) error {
	return r.record(Call{Method: "modal", Modal: m}, true)
}

func (r *Recorder) Acknowledged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Contents returns the text of every reply, update and edit in order.
func (r *Recorder) Contents() []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Reply != nil {
			out = append(out, c.Reply.Content)
		}
	}
	return out
}

// Last returns the most recent call, or the zero Call.
func (r *Recorder) Last() Call {
	calls := r.Calls()
	if len(calls) == 0 {
		return Call{}
	}
	return calls[len(calls)-1]
}

// Context builds a component interaction answered by a new Recorder.
func Context(userID, customID string, values ...string) (*interaction.Context, *Recorder) {
	rec := &Recorder{}
	return &interaction.Context{
		Kind:      interaction.KindComponent,
		CustomID:  customID,
		Values:    values,
		UserID:    userID,
		ChannelID: "chan",
		Responder: rec,
	}, rec
}

// Command builds a slash command interaction answered by a new Recorder.
func Command(userID, name, subcommand string, options map[string]string) (*interaction.Context, *Recorder) {
	rec := &Recorder{}
	return &interaction.Context{
		Kind:       interaction.KindCommand,
		Command:    name,
		Subcommand: subcommand,
		Options:    options,
		UserID:     userID,
		ChannelID:  "chan",
		Responder:  rec,
	}, rec
}
