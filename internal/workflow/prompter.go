package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"orbot/internal/interaction"
	"orbot/internal/types"
)

// maxSelectOptions is Discord's option limit for one select menu.
const maxSelectOptions = 25

// Prompter runs the interactive sub-steps of a session. Each method answers
// ic with its own transient prompt and returns when the user confirms,
// cancels or the prompt times out. A cancelled ctx ends the prompt early.
// An empty result means the user made no changes.
type Prompter interface {
	SelectChannels(ctx context.Context, ic *interaction.Context, options []types.Channel, selected []string) ([]string, error)
	SelectMedia(ctx context.Context, ic *interaction.Context, pool []*types.FetchedMedia, selected []int) ([]int, error)
	ComposeCaption(ctx context.Context, ic *interaction.Context, caption Caption) (Caption, bool, error)
	CollectMedia(ctx context.Context, ic *interaction.Context) ([]*types.FetchedMedia, error)
}

type MessageWaiter interface {
	Wait(ctx context.Context, channelID, userID string, timeout time.Duration, match func(*discordgo.Message) bool) (*discordgo.Message, error)
}

type AttachmentFetcher interface {
	FetchAttachments(ctx context.Context, attachments []*discordgo.MessageAttachment) ([]*types.FetchedMedia, error)
}

type MessageDeleter interface {
	Delete(ctx context.Context, channelID, messageID string) error
}

type DiscordPrompterConfig struct {
	Router             *interaction.Router
	Waiter             MessageWaiter
	Attachments        AttachmentFetcher
	Deleter            MessageDeleter
	PromptTimeout      time.Duration
	MediaPromptTimeout time.Duration
	Logger             *slog.Logger
}

// DiscordPrompter renders prompts as ephemeral messages with components.
type DiscordPrompter struct {
	router       *interaction.Router
	waiter       MessageWaiter
	attachments  AttachmentFetcher
	deleter      MessageDeleter
	timeout      time.Duration
	mediaTimeout time.Duration
	log          *slog.Logger
}

func NewDiscordPrompter(cfg DiscordPrompterConfig) *DiscordPrompter {
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 2 * time.Minute
	}
	if cfg.MediaPromptTimeout <= 0 {
		cfg.MediaPromptTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DiscordPrompter{
		router:       cfg.Router,
		waiter:       cfg.Waiter,
		attachments:  cfg.Attachments,
		deleter:      cfg.Deleter,
		timeout:      cfg.PromptTimeout,
		mediaTimeout: cfg.MediaPromptTimeout,
		log:          cfg.Logger.With("component", "prompt"),
	}
}

type promptIDs struct {
	id string
}

func newPromptIDs() promptIDs {
	return promptIDs{id: uuid.NewString()}
}

func (p promptIDs) of(action string) string {
	return interaction.PromptID(p.id, action)
}

func (p promptIDs) all(actions ...string) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, p.of(a))
	}
	return out
}

func (p *DiscordPrompter) SelectChannels(ctx context.Context, ic *interaction.Context, options []types.Channel, selected []string) ([]string, error) {
	if len(options) == 0 {
		return nil, types.NewValidationError("channels", "No post channels are configured.")
	}

	ids := newPromptIDs()
	l := p.router.Listen(ids.all("select", "confirm", "cancel")...)
	defer l.Close()

	current := make(map[string]bool, len(selected))
	for _, id := range selected {
		current[id] = true
	}

	menuOptions := make([]discordgo.SelectMenuOption, 0, len(options))
	for _, ch := range options[:min(len(options), maxSelectOptions)] {
		label := ch.Label
		if label == "" {
			label = ch.Name
		}
		menuOptions = append(menuOptions, discordgo.SelectMenuOption{
			Label:   label,
			Value:   ch.ID,
			Default: current[ch.ID],
		})
	}

	zero := 0
	if err := ic.Responder.Reply(&interaction.Reply{
		Content:   "Select the channels to post in, then confirm.",
		Ephemeral: true,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    ids.of("select"),
					Placeholder: "Channels",
					MinValues:   &zero,
					MaxValues:   len(menuOptions),
					Options:     menuOptions,
				},
			}},
			confirmRow(ids),
		},
	}); err != nil {
		return nil, err
	}

	values := selected
	for {
		ev, err := p.next(ctx, l, ic, "select channels")
		if err != nil {
			return nil, err
		}
		switch ev.CustomID {
		case ids.of("select"):
			values = ev.Values
			p.ack(ev)
		case ids.of("confirm"):
			p.ack(ev)
			return values, nil
		case ids.of("cancel"):
			p.ack(ev)
			return nil, nil
		}
	}
}

func (p *DiscordPrompter) SelectMedia(ctx context.Context, ic *interaction.Context, pool []*types.FetchedMedia, selected []int) ([]int, error) {
	if len(pool) == 0 {
		return nil, types.NewValidationError("media", "There is no media to select from.")
	}

	ids := newPromptIDs()
	l := p.router.Listen(ids.all("select", "confirm", "cancel")...)
	defer l.Close()

	current := make(map[int]bool, len(selected))
	for _, i := range selected {
		current[i] = true
	}

	shown := pool[:min(len(pool), maxSelectOptions)]
	menuOptions := make([]discordgo.SelectMenuOption, 0, len(shown))
	for i, m := range shown {
		menuOptions = append(menuOptions, discordgo.SelectMenuOption{
			Label:   fmt.Sprintf("%d. %s", i+1, truncateLabel(m.Filename)),
			Value:   strconv.Itoa(i),
			Default: current[i],
		})
	}

	content := "Select the media to include, then confirm."
	if len(pool) > len(shown) {
		content += fmt.Sprintf(" Only the first %d of %d files can be picked here.", len(shown), len(pool))
	}

	zero := 0
	if err := ic.Responder.Reply(&interaction.Reply{
		Content:   content,
		Ephemeral: true,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    ids.of("select"),
					Placeholder: "Media",
					MinValues:   &zero,
					MaxValues:   len(menuOptions),
					Options:     menuOptions,
				},
			}},
			confirmRow(ids),
		},
	}); err != nil {
		return nil, err
	}

	values := selected
	for {
		ev, err := p.next(ctx, l, ic, "select media")
		if err != nil {
			return nil, err
		}
		switch ev.CustomID {
		case ids.of("select"):
			values = values[:0:0]
			for _, v := range ev.Values {
				if i, err := strconv.Atoi(v); err == nil {
					values = append(values, i)
				}
			}
			p.ack(ev)
		case ids.of("confirm"):
			p.ack(ev)
			return values, nil
		case ids.of("cancel"):
			p.ack(ev)
			return nil, nil
		}
	}
}

func (p *DiscordPrompter) ComposeCaption(ctx context.Context, ic *interaction.Context, caption Caption) (Caption, bool, error) {
	ids := newPromptIDs()
	l := p.router.Listen(ids.all("enter", "modal", "clear", "credits", "confirm", "cancel")...)
	defer l.Close()

	if err := ic.Responder.Reply(captionPrompt(ids, caption)); err != nil {
		return Caption{}, false, err
	}

	for {
		ev, err := p.next(ctx, l, ic, "compose caption")
		if err != nil {
			return Caption{}, false, err
		}

		switch ev.CustomID {
		case ids.of("enter"):
			if err := ev.Responder.Modal(&interaction.Modal{
				CustomID: ids.of("modal"),
				Title:    "Post caption",
				Inputs: []discordgo.TextInput{{
					CustomID:  "caption",
					Label:     "Caption",
					Style:     discordgo.TextInputParagraph,
					Value:     caption.Text,
					Required:  false,
					MaxLength: 1800,
				}},
			}); err != nil {
				p.log.Warn("Failed to open caption modal", "error", err)
			}
			continue
		case ids.of("modal"):
			caption.Text = strings.TrimSpace(ev.Field("caption"))
		case ids.of("clear"):
			caption.Text = ""
		case ids.of("credits"):
			if caption.Credits.Available() {
				caption.UseCredits = !caption.UseCredits
			}
		case ids.of("confirm"):
			if caption.Empty() {
				p.notify(ev, "Please enter a caption before posting")
				continue
			}
			p.ack(ev)
			return caption, true, nil
		case ids.of("cancel"):
			p.ack(ev)
			return Caption{}, false, nil
		}

		if err := ev.Responder.Update(captionPrompt(ids, caption)); err != nil {
			p.log.Warn("Failed to refresh caption prompt", "error", err)
		}
	}
}

func (p *DiscordPrompter) CollectMedia(ctx context.Context, ic *interaction.Context) ([]*types.FetchedMedia, error) {
	if err := ic.Responder.Reply(&interaction.Reply{
		Content:   fmt.Sprintf("Please upload at least one image in this channel within %s.", p.mediaTimeout),
		Ephemeral: true,
	}); err != nil {
		return nil, err
	}

	msg, err := p.waiter.Wait(ctx, ic.ChannelID, ic.UserID, p.mediaTimeout, func(m *discordgo.Message) bool {
		return len(m.Attachments) > 0
	})
	if err != nil {
		return nil, err
	}

	media, err := p.attachments.FetchAttachments(ctx, msg.Attachments)
	if err != nil {
		return nil, err
	}

	if p.deleter != nil {
		if err := p.deleter.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
			p.log.Debug("Could not remove upload message", "message", msg.ID, "error", err)
		}
	}
	return media, nil
}

// next waits for the following prompt event from the prompt's owner.
func (p *DiscordPrompter) next(ctx context.Context, l *interaction.Listener, ic *interaction.Context, op string) (*interaction.Context, error) {
	for {
		ev, err := l.Next(ctx, op, p.timeout)
		if err != nil {
			return nil, err
		}
		if ev.UserID != ic.UserID {
			p.notify(ev, "You are not allowed to interact with this post!")
			continue
		}
		return ev, nil
	}
}

func (p *DiscordPrompter) ack(ev *interaction.Context) {
	if err := ev.Responder.Defer(); err != nil {
		p.log.Warn("Failed to acknowledge prompt interaction", "custom_id", ev.CustomID, "error", err)
	}
}

func (p *DiscordPrompter) notify(ev *interaction.Context, content string) {
	if err := ev.Notify(content); err != nil {
		p.log.Warn("Failed to send prompt notice", "error", err)
	}
}

func confirmRow(ids promptIDs) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Confirm", Style: discordgo.SuccessButton, CustomID: ids.of("confirm")},
		discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: ids.of("cancel")},
	}}
}

func captionPrompt(ids promptIDs, caption Caption) *interaction.Reply {
	preview := caption.Render()
	if preview == "" {
		preview = "*No caption yet*"
	}

	creditsLabel := "Credits: off"
	if caption.UseCredits {
		creditsLabel = "Credits: on"
	}

	return &interaction.Reply{
		Ephemeral: true,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Caption",
			Description: preview,
			Color:       embedColor,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Enter caption", Style: discordgo.PrimaryButton, CustomID: ids.of("enter")},
				discordgo.Button{Label: "Clear", Style: discordgo.SecondaryButton, CustomID: ids.of("clear")},
				discordgo.Button{
					Label:    creditsLabel,
					Style:    discordgo.SecondaryButton,
					CustomID: ids.of("credits"),
					Disabled: !caption.Credits.Available(),
				},
			}},
			confirmRow(ids),
		},
	}
}

func truncateLabel(s string) string {
	const maxLabel = 90
	r := []rune(s)
	if len(r) <= maxLabel {
		return s
	}
	return string(r[:maxLabel-3]) + "..."
}
