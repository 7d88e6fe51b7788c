package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"orbot/internal/interaction"
	"orbot/internal/platforms"
	"orbot/internal/types"
)

const (
	ActionEditCaption    = "edit_caption"
	ActionSelectChannels = "select_channels"
	ActionSelectMedia    = "select_media"
	ActionAddMedia       = "add_media"
	ActionClearCaption   = "clear_caption"
	ActionClearChannels  = "clear_channels"
	ActionClearMedia     = "clear_media"
	ActionPost           = "post"
	ActionSave           = "save"
	ActionCancel         = "cancel"
)

const (
	noticeRecorded  = "Changes were recorded"
	noticeNoChanges = "No changes were made!"
	noticeTimeout   = "The command has timed out, please try again!"
	noticeUpdated   = "Post updated"
	noticeNotSaved  = "Post not updated, no changes were made!"
)

var modeActions = map[Mode][]string{
	ModeNew: {
		ActionEditCaption, ActionSelectChannels, ActionSelectMedia,
		ActionClearCaption, ActionClearChannels, ActionClearMedia,
		ActionPost, ActionCancel,
	},
	ModeEdit: {
		ActionEditCaption, ActionAddMedia, ActionSelectMedia,
		ActionSave, ActionCancel,
	},
}

type Mode int

const (
	ModeNew Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "new"
}

type State int

const (
	StateEditing State = iota
	StateAwaitingInput
	StatePosted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateEditing:
		return "editing"
	case StateAwaitingInput:
		return "awaiting_input"
	case StatePosted:
		return "posted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StatePosted || s == StateCancelled
}

type messageRef struct {
	ChannelID string
	MessageID string
}

type activeStep struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is one operator's draft and the control message driving it.
type Session struct {
	id      string
	mode    Mode
	ownerID string
	m       *Manager
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// stepMu serializes starting sub-steps so only one is ever active.
	stepMu sync.Mutex

	mu         sync.Mutex
	state      State
	draft      *Draft
	changed    bool
	publishing bool
	active     *activeStep
	control    messageRef
	source     messageRef
	idle       *time.Timer
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone()
}

func (s *Session) allows(action string) bool {
	return slices.Contains(modeActions[s.mode], action)
}

// Handle runs one control action. Interactions from anyone but the owner
// are rejected and leave the session untouched.
func (s *Session) Handle(ctx context.Context, ic *interaction.Context, action string) error {
	if ic.UserID != s.ownerID {
		return types.ErrNotOwner
	}
	if s.State().terminal() {
		return types.ErrSessionClosed
	}
	if !s.allows(action) {
		return fmt.Errorf("action %q is not available in %s mode", action, s.mode)
	}
	s.touch()

	switch action {
	case ActionEditCaption:
		return s.runStep(ic, s.editCaption)
	case ActionSelectChannels:
		return s.runStep(ic, s.selectChannels)
	case ActionSelectMedia:
		return s.runStep(ic, s.selectMedia)
	case ActionAddMedia:
		return s.runStep(ic, s.addMedia)
	case ActionClearCaption:
		return s.clear(ic, func(d *Draft) { d.Caption.Text = "" })
	case ActionClearChannels:
		return s.clear(ic, func(d *Draft) { d.ChannelIDs = nil })
	case ActionClearMedia:
		return s.clear(ic, func(d *Draft) { d.Selection = nil })
	case ActionPost:
		return s.post(ic)
	case ActionSave:
		return s.save(ic)
	case ActionCancel:
		return s.cancelSession(ic)
	}
	return nil
}

// stepFunc runs one sub-step. It returns types.ErrNoChanges when the draft
// was left as it was.
type stepFunc func(ctx context.Context, ic *interaction.Context) error

// runStep stops the active sub-step, then runs step as the new one. A step
// that times out or gets stopped changes nothing.
func (s *Session) runStep(ic *interaction.Context, step stepFunc) error {
	ctx, finish, err := s.beginStep()
	if err != nil {
		return err
	}
	defer finish()

	err = step(ctx, ic)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNoChanges):
		s.respond(ic, noticeNoChanges)
		return nil
	case types.IsTimeout(err):
		s.respond(ic, noticeTimeout)
		return nil
	case errors.Is(err, context.Canceled):
		if err := ic.Responder.DeleteReply(); err != nil {
			s.log.Debug("Could not remove stopped prompt", "error", err)
		}
		return nil
	default:
		return err
	}

	s.respond(ic, noticeRecorded)
	s.refreshControl()
	return nil
}

func (s *Session) beginStep() (context.Context, func(), error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.stopActive()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return nil, nil, types.ErrSessionClosed
	}

	ctx, cancel := context.WithCancel(s.ctx)
	step := &activeStep{cancel: cancel, done: make(chan struct{})}
	s.active = step
	s.state = StateAwaitingInput

	finish := func() {
		cancel()
		s.mu.Lock()
		if s.active == step {
			s.active = nil
			if !s.state.terminal() {
				s.state = StateEditing
			}
		}
		s.mu.Unlock()
		close(step.done)
	}
	return ctx, finish, nil
}

// stopActive cancels the active sub-step and waits until it has cleaned up.
func (s *Session) stopActive() {
	s.mu.Lock()
	step := s.active
	s.mu.Unlock()
	if step == nil {
		return
	}
	step.cancel()
	<-step.done
}

// update applies fn to the draft unless the session has ended.
func (s *Session) update(fn func(d *Draft) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return false
	}
	if fn(s.draft) {
		s.changed = true
		return true
	}
	return false
}

// apply is update for sub-steps.
func (s *Session) apply(fn func(d *Draft) bool) error {
	if !s.update(fn) {
		return types.ErrNoChanges
	}
	return nil
}

func (s *Session) editCaption(ctx context.Context, ic *interaction.Context) error {
	s.mu.Lock()
	current := s.draft.Caption
	s.mu.Unlock()

	caption, ok, err := s.m.prompter.ComposeCaption(ctx, ic, current)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNoChanges
	}
	return s.apply(func(d *Draft) bool {
		if d.Caption == caption {
			return false
		}
		d.Caption = caption
		return true
	})
}

func (s *Session) selectChannels(ctx context.Context, ic *interaction.Context) error {
	s.mu.Lock()
	current := slices.Clone(s.draft.ChannelIDs)
	s.mu.Unlock()

	options := s.m.channels.PostChannels()
	picked, err := s.m.prompter.SelectChannels(ctx, ic, options, current)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(options))
	for _, ch := range options {
		known[ch.ID] = true
	}
	var ids []string
	for _, id := range picked {
		if known[id] && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return types.ErrNoChanges
	}

	return s.apply(func(d *Draft) bool {
		if slices.Equal(d.ChannelIDs, ids) {
			return false
		}
		d.ChannelIDs = ids
		return true
	})
}

func (s *Session) selectMedia(ctx context.Context, ic *interaction.Context) error {
	s.mu.Lock()
	pool := slices.Clone(s.draft.Pool)
	current := slices.Clone(s.draft.Selection)
	s.mu.Unlock()

	picked, err := s.m.prompter.SelectMedia(ctx, ic, pool, current)
	if err != nil {
		return err
	}
	picked = normalizeSelection(picked, len(pool))
	// Selecting nothing is not a way to clear the selection.
	if len(picked) == 0 {
		return types.ErrNoChanges
	}

	return s.apply(func(d *Draft) bool {
		if slices.Equal(d.Selection, picked) {
			return false
		}
		d.Selection = picked
		return true
	})
}

func (s *Session) addMedia(ctx context.Context, ic *interaction.Context) error {
	media, err := s.m.prompter.CollectMedia(ctx, ic)
	if err != nil {
		return err
	}
	if len(media) == 0 {
		return types.ErrNoChanges
	}
	return s.apply(func(d *Draft) bool {
		d.AddMedia(media)
		return true
	})
}

func (s *Session) clear(ic *interaction.Context, fn func(d *Draft)) error {
	s.stopActive()
	s.update(func(d *Draft) bool {
		fn(d)
		return true
	})

	s.mu.Lock()
	embeds, components := s.controlMessage()
	s.mu.Unlock()
	return ic.Responder.Update(&interaction.Reply{Embeds: embeds, Components: components})
}

// snapshot validates the draft for publishing.
func (s *Session) snapshot(needChannels bool) (types.PostContent, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.draft.Content()
	if len(content.Media) == 0 {
		return types.PostContent{}, nil, types.NewValidationError("media", "Please select at least one image before posting")
	}
	if needChannels && len(s.draft.ChannelIDs) == 0 {
		return types.PostContent{}, nil, types.NewValidationError("channels", "Please select at least one channel before posting")
	}
	return content, slices.Clone(s.draft.ChannelIDs), nil
}

// beginPublish claims the session for one post or save. Further clicks
// are refused until it finishes.
func (s *Session) beginPublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() || s.publishing {
		return types.ErrSessionClosed
	}
	s.publishing = true
	return nil
}

func (s *Session) endPublish() {
	s.mu.Lock()
	s.publishing = false
	s.mu.Unlock()
}

func (s *Session) post(ic *interaction.Context) error {
	if _, _, err := s.snapshot(true); err != nil {
		return err
	}
	if err := s.beginPublish(); err != nil {
		return err
	}
	defer s.endPublish()

	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.stopActive()
	if s.State().terminal() {
		return types.ErrSessionClosed
	}

	// A stopped step may not have changed the draft, check again.
	content, channels, err := s.snapshot(true)
	if err != nil {
		return err
	}

	if err := ic.Responder.Defer(); err != nil {
		return err
	}

	published, err := s.m.publisher.PublishContent(s.ctx, content, channels)
	if err != nil {
		return fmt.Errorf("failed to publish draft %s: %w", s.id, err)
	}

	s.finish(StatePosted, "posted")
	s.log.Info("Draft posted", "channels", len(channels), "messages", len(published), "media", len(content.Media))
	return ic.Notify("Post(s) successfully created in " + mentionChannels(channels))
}

func (s *Session) save(ic *interaction.Context) error {
	if err := s.beginPublish(); err != nil {
		return err
	}
	defer s.endPublish()

	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.stopActive()
	if s.State().terminal() {
		return types.ErrSessionClosed
	}

	content, _, err := s.snapshot(false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.changed
	s.mu.Unlock()
	if !changed {
		return ic.Notify(noticeNotSaved)
	}

	if err := ic.Responder.Defer(); err != nil {
		return err
	}
	if err := s.m.publisher.EditPost(s.ctx, s.source.ChannelID, s.source.MessageID, content); err != nil {
		return err
	}

	s.finish(StatePosted, "saved")
	return ic.Notify(noticeUpdated)
}

func (s *Session) cancelSession(ic *interaction.Context) error {
	if err := ic.Responder.Defer(); err != nil {
		s.log.Warn("Failed to acknowledge cancel", "error", err)
	}
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.stopActive()
	s.finish(StateCancelled, "cancelled")
	return nil
}

// expire ends the session after it sat idle for the session timeout.
func (s *Session) expire() {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.finish(StateCancelled, "timeout")
}

// finish moves the session to a terminal state, stops every prompt and
// removes the control message. It reports false if the session had ended.
func (s *Session) finish(state State, outcome string) bool {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = state
	if s.idle != nil {
		s.idle.Stop()
	}
	control := s.control
	s.mu.Unlock()

	s.cancel()
	s.stopActive()
	s.m.forget(s.id)

	if control.MessageID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.m.sender.Delete(ctx, control.ChannelID, control.MessageID); err != nil {
			s.log.Warn("Failed to remove control message", "message", control.MessageID, "error", err)
		}
	}

	s.m.metrics.SessionEnded(s.mode.String(), outcome)
	s.log.Info("Session ended", "outcome", outcome)
	return true
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle != nil && !s.state.terminal() {
		s.idle.Reset(s.m.sessionTimeout)
	}
}

func (s *Session) refreshControl() {
	s.mu.Lock()
	if s.state.terminal() || s.control.MessageID == "" {
		s.mu.Unlock()
		return
	}
	embeds, components := s.controlMessage()
	control := s.control
	s.mu.Unlock()

	if _, err := s.m.sender.Edit(s.ctx, control.ChannelID, control.MessageID, &platforms.MessageEdit{
		Embeds:     &embeds,
		Components: &components,
	}); err != nil {
		s.log.Warn("Failed to refresh control message", "error", err)
	}
}

// respond replaces a step's prompt with a notice. Without a prompt the
// notice is sent as a reply.
func (s *Session) respond(ic *interaction.Context, content string) {
	var err error
	if ic.Responder.Acknowledged() {
		err = ic.Responder.EditReply(&interaction.Reply{Content: content})
	} else {
		err = ic.Notify(content)
	}
	if err != nil {
		s.log.Warn("Failed to send notice", "error", err)
	}
}
