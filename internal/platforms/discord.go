package platforms

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"time"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/config"
	"orbot/internal/types"
)

const EditPostCommand = "Edit Post"

// OutgoingMessage is a new channel message.
type OutgoingMessage struct {
	Content    string
	Files      []*types.FetchedMedia
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// MessageEdit changes an existing message. Nil fields are left as they are;
// a non-nil Files replaces every attachment.
type MessageEdit struct {
	Content    *string
	Embeds     *[]*discordgo.MessageEmbed
	Components *[]discordgo.MessageComponent
	Files      *[]*types.FetchedMedia
}

type DiscordPlatform struct {
	botToken string
	guildID  string
	sleep    time.Duration
	session  *discordgo.Session
	commands []*discordgo.ApplicationCommand
	log      *slog.Logger
}

func NewDiscordPlatform(cfg config.DiscordConfig, log *slog.Logger) (*DiscordPlatform, error) {
	if cfg.BotToken == "" {
		return nil, types.NewConfigError("discord.bot_token", "required")
	}
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	return &DiscordPlatform{
		botToken: cfg.BotToken,
		guildID:  cfg.GuildID,
		sleep:    config.Duration(cfg.SendDelay),
		session:  session,
		log:      log.With("component", "discord"),
	}, nil
}

// AddHandler attaches a discordgo event handler. Add handlers before
// Initialize so no event is missed.
func (p *DiscordPlatform) AddHandler(handler any) {
	p.session.AddHandler(handler)
}

// AddCommands queues slash commands registered alongside the Edit Post
// message command once the session is ready.
func (p *DiscordPlatform) AddCommands(cmds ...*discordgo.ApplicationCommand) {
	p.commands = append(p.commands, cmds...)
}

func (p *DiscordPlatform) Validate() error {
	if p.botToken == "" {
		return fmt.Errorf("discord platform: bot_token is required")
	}
	return nil
}

func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	p.session.AddHandlerOnce(func(s *discordgo.Session, r *discordgo.Ready) {
		p.log.Info("Connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
		if err := p.registerCommands(r.User.ID); err != nil {
			p.log.Error("Failed to register commands", "error", err)
		}
	})

	if err := p.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

func (p *DiscordPlatform) registerCommands(appID string) error {
	cmds := append([]*discordgo.ApplicationCommand{{
		Name: EditPostCommand,
		Type: discordgo.MessageApplicationCommand,
	}}, p.commands...)
	_, err := p.session.ApplicationCommandBulkOverwrite(appID, p.guildID, cmds)
	return err
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *DiscordPlatform) Session() *discordgo.Session {
	return p.session
}

// BotUserID is empty until the gateway sent Ready.
func (p *DiscordPlatform) BotUserID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}

func (p *DiscordPlatform) SleepDuration() time.Duration {
	return p.sleep
}

func (p *DiscordPlatform) Send(ctx context.Context, channelID string, msg *OutgoingMessage) (*discordgo.Message, error) {
	sent, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
		Files:      toFiles(msg.Files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}

	if p.sleep > 0 {
		select {
		case <-time.After(p.sleep):
		case <-ctx.Done():
		}
	}
	return sent, nil
}

func (p *DiscordPlatform) Edit(ctx context.Context, channelID, messageID string, edit *MessageEdit) (*discordgo.Message, error) {
	req := discordgo.NewMessageEdit(channelID, messageID)
	req.Content = edit.Content
	req.Embeds = edit.Embeds
	req.Components = edit.Components
	if edit.Files != nil {
		none := []*discordgo.MessageAttachment{}
		req.Attachments = &none
		req.Files = toFiles(*edit.Files)
	}

	msg, err := p.session.ChannelMessageEditComplex(req, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return msg, nil
}

func (p *DiscordPlatform) Delete(ctx context.Context, channelID, messageID string) error {
	if err := p.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}

func (p *DiscordPlatform) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	msg, err := p.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}
	return msg, nil
}

// toFiles wraps media as attachments. Each call gets fresh readers so the
// same media can be attached to several messages.
func toFiles(media []*types.FetchedMedia) []*discordgo.File {
	if len(media) == 0 {
		return nil
	}
	files := make([]*discordgo.File, 0, len(media))
	for _, m := range media {
		files = append(files, &discordgo.File{
			Name:        m.Filename,
			ContentType: ContentType(m.Filename),
			Reader:      m.Reader(),
		})
	}
	return files
}

func ContentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
