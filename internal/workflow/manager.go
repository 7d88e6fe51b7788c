package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"orbot/internal/interaction"
	"orbot/internal/metrics"
	"orbot/internal/platforms"
	"orbot/internal/types"
)

type Publisher interface {
	PublishContent(ctx context.Context, content types.PostContent, channelIDs []string) ([]types.PublishedPost, error)
	EditPost(ctx context.Context, channelID, messageID string, content types.PostContent) error
}

type ControlSender interface {
	Send(ctx context.Context, channelID string, msg *platforms.OutgoingMessage) (*discordgo.Message, error)
	Edit(ctx context.Context, channelID, messageID string, edit *platforms.MessageEdit) (*discordgo.Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
}

type ChannelSource interface {
	PostChannels() []types.Channel
}

type Config struct {
	Prompter    Prompter
	Publisher   Publisher
	Sender      ControlSender
	Channels    ChannelSource
	Attachments AttachmentFetcher
	// BotUserID limits editing to the bot's own messages when set.
	BotUserID      func() string
	SessionTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Manager owns the live sessions and routes post:<sessionId>:<action>
// interactions to them.
type Manager struct {
	prompter       Prompter
	publisher      Publisher
	sender         ControlSender
	channels       ChannelSource
	attachments    AttachmentFetcher
	botUserID      func() string
	sessionTimeout time.Duration
	metrics        *metrics.Metrics
	log            *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Prompter == nil || cfg.Publisher == nil || cfg.Sender == nil || cfg.Channels == nil {
		return nil, fmt.Errorf("workflow: prompter, publisher, sender and channels are required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		prompter:       cfg.Prompter,
		publisher:      cfg.Publisher,
		sender:         cfg.Sender,
		channels:       cfg.Channels,
		attachments:    cfg.Attachments,
		botUserID:      cfg.BotUserID,
		sessionTimeout: cfg.SessionTimeout,
		metrics:        cfg.Metrics,
		log:            cfg.Logger.With("component", "workflow"),
		sessions:       make(map[string]*Session),
	}, nil
}

// Register routes session controls and the edit command through r.
func (m *Manager) Register(r *interaction.Router) {
	r.HandlePrefix(interaction.RoutePrefix(interaction.SessionPrefix, ""), m)
	r.HandleCommand(platforms.EditPostCommand, interaction.HandlerFunc(m.StartEdit))
}

func (m *Manager) OnActivate(ctx context.Context, ic *interaction.Context) error {
	id, ok := interaction.ParseID(ic.CustomID)
	if !ok || id.Prefix != interaction.SessionPrefix {
		return fmt.Errorf("malformed session id %q", ic.CustomID)
	}
	s, ok := m.Session(id.Key)
	if !ok {
		return types.ErrSessionClosed
	}
	return s.Handle(ctx, ic, id.Action)
}

func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartNewPost opens a new post draft seeded with the media of an existing
// post. Every pooled item starts out selected.
func (m *Manager) StartNewPost(ctx context.Context, ic *interaction.Context, seed types.PostSeed) error {
	s := m.newSession(ModeNew, ic.UserID, seed)
	if err := m.open(ctx, s, ic.ChannelID); err != nil {
		return err
	}
	return ic.Notify("Your new post draft is ready. Only you can use its controls.")
}

// StartEdit opens an edit session on the message a message command was
// used on.
func (m *Manager) StartEdit(ctx context.Context, ic *interaction.Context) error {
	msg := ic.Target
	if msg == nil {
		return types.NewValidationError("message", "Use this command on a post message.")
	}
	if m.botUserID != nil {
		if bot := m.botUserID(); bot != "" && (msg.Author == nil || msg.Author.ID != bot) {
			return types.NewValidationError("message", "Only posts made by the bot can be edited.")
		}
	}
	if len(msg.Attachments) == 0 {
		return types.NewValidationError("message", "This message has no media to edit.")
	}
	if m.attachments == nil {
		return fmt.Errorf("workflow: no attachment fetcher configured")
	}

	if err := ic.Responder.Defer(); err != nil {
		return err
	}

	pool, err := m.attachments.FetchAttachments(ctx, msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to load media of %s: %w", msg.ID, err)
	}
	if len(pool) == 0 {
		return types.NewValidationError("message", "This message has no media to edit.")
	}

	s := m.newSession(ModeEdit, ic.UserID, types.PostSeed{
		Caption:    msg.Content,
		ChannelIDs: []string{msg.ChannelID},
		Media:      pool,
	})
	s.source = messageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}

	if err := m.open(ctx, s, ic.ChannelID); err != nil {
		return err
	}
	return ic.Notify("Editing the post. Only you can use its controls.")
}

func (m *Manager) newSession(mode Mode, ownerID string, seed types.PostSeed) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:      id,
		mode:    mode,
		ownerID: ownerID,
		m:       m,
		log:     m.log.With("session", id, "mode", mode.String(), "owner", ownerID),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateEditing,
		draft:   newDraft(seed),
	}
	s.draft.SelectAll()
	return s
}

// open sends the control message and starts the idle timer.
func (m *Manager) open(ctx context.Context, s *Session, channelID string) error {
	s.mu.Lock()
	embeds, components := s.controlMessage()
	s.mu.Unlock()

	sent, err := m.sender.Send(ctx, channelID, &platforms.OutgoingMessage{
		Embeds:     embeds,
		Components: components,
	})
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to send control message: %w", err)
	}

	s.mu.Lock()
	s.control = messageRef{ChannelID: channelID, MessageID: sent.ID}
	s.idle = time.AfterFunc(m.sessionTimeout, s.expire)
	s.mu.Unlock()

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.log.Info("Session started", "control", sent.ID)
	return nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Close ends every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.stepMu.Lock()
		s.finish(StateCancelled, "shutdown")
		s.stepMu.Unlock()
	}
}
