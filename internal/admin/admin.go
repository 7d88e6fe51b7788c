// Package admin holds the slash commands operators use to run the Twitter
// feed from inside the bot.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/interaction"
	"orbot/internal/stream"
	"orbot/internal/types"
)

const (
	FeedCommand    = "feed"
	TwitterCommand = "twitter"
)

const (
	statusNotice       = "The Twitter feed may take a few seconds to connect. Use `/feed status` to check the stream."
	disconnectedNotice = "The Twitter feed has been successfully disconnected."
	noAccountsNotice   = "No accounts are followed, so the Twitter feed stays disconnected. Follow one with `/twitter account` first."
)

// Stream is the part of the stream connection the commands drive. Every
// follow list change goes through SaveFollowID.
type Stream interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status() (stream.State, error)
	SaveFollowID(ctx context.Context, id string, action stream.FollowAction) (bool, error)
	IsFollowing(ctx context.Context, id string) (bool, error)
}

type Accounts interface {
	UserByUsername(ctx context.Context, username string) (types.Author, error)
}

type FeedSettings interface {
	FeedChannelID() string
	SetFeedChannel(channelID string) error
}

type Config struct {
	Stream   Stream
	Accounts Accounts
	Feed     FeedSettings
	// BaseContext bounds stream operations; cancelling it aborts restarts
	// still in progress.
	BaseContext context.Context
	Logger      *slog.Logger
}

type Commands struct {
	stream   Stream
	accounts Accounts
	feed     FeedSettings
	base     context.Context
	log      *slog.Logger
}

func New(cfg Config) (*Commands, error) {
	if cfg.Stream == nil || cfg.Accounts == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("admin: stream, accounts and feed settings are required")
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Commands{
		stream:   cfg.Stream,
		accounts: cfg.Accounts,
		feed:     cfg.Feed,
		base:     cfg.BaseContext,
		log:      cfg.Logger.With("component", "admin"),
	}, nil
}

func (c *Commands) Register(r *interaction.Router) {
	r.HandleCommand(FeedCommand, interaction.HandlerFunc(c.onFeed))
	r.HandleCommand(TwitterCommand, interaction.HandlerFunc(c.onTwitter))
}

func (c *Commands) onFeed(ctx context.Context, ic *interaction.Context) error {
	switch ic.Subcommand {
	case "setup":
		return c.setup(ctx, ic)
	case "connection":
		return c.connection(ctx, ic)
	case "status":
		return c.status(ic)
	default:
		return fmt.Errorf("unknown feed subcommand %q", ic.Subcommand)
	}
}

func (c *Commands) onTwitter(ctx context.Context, ic *interaction.Context) error {
	if ic.Subcommand != "account" {
		return fmt.Errorf("unknown twitter subcommand %q", ic.Subcommand)
	}
	return c.account(ctx, ic)
}

func (c *Commands) setup(ctx context.Context, ic *interaction.Context) error {
	channelID := ic.Option("channel")
	if channelID == "" {
		return types.NewValidationError("channel", "Please choose a text channel for the feed.")
	}
	if err := ic.Responder.Defer(); err != nil {
		return err
	}
	if err := c.feed.SetFeedChannel(channelID); err != nil {
		return fmt.Errorf("failed to save feed channel: %w", err)
	}
	c.log.Info("Feed channel changed", "channel", channelID, "user", ic.UserID)

	if err := c.run(ctx, c.stream.Restart); err != nil {
		return err
	}
	return ic.Notify(fmt.Sprintf("The Twitter feed has been successfully setup in <#%s>. %s", channelID, statusNotice))
}

func (c *Commands) connection(ctx context.Context, ic *interaction.Context) error {
	action := ic.Option("action")
	var op func(context.Context) error
	notice := statusNotice
	switch action {
	case "connect":
		op = c.stream.Start
	case "restart":
		op = c.stream.Restart
	case "disconnect":
		op = c.stream.Stop
		notice = disconnectedNotice
	default:
		return types.NewValidationError("action", fmt.Sprintf("Unknown connection action %q.", action))
	}

	if err := ic.Responder.Defer(); err != nil {
		return err
	}
	if err := c.run(ctx, op); err != nil {
		return err
	}
	c.log.Info("Stream connection changed", "action", action, "user", ic.UserID)
	return ic.Notify(notice)
}

func (c *Commands) account(ctx context.Context, ic *interaction.Context) error {
	action := ic.Option("action")
	if action != "follow" && action != "unfollow" && action != "check" {
		return types.NewValidationError("action", fmt.Sprintf("Unknown account action %q.", action))
	}
	if err := ic.Responder.Defer(); err != nil {
		return err
	}

	user, err := c.accounts.UserByUsername(ctx, ic.Option("username"))
	if err != nil {
		return err
	}

	if action == "check" {
		following, err := c.stream.IsFollowing(ctx, user.ID)
		if err != nil {
			return err
		}
		if following {
			return ic.Notify("This account is being followed!")
		}
		return ic.Notify("This account is not being followed!")
	}

	follow := stream.FollowAdd
	unchanged, done := "This account is already being followed!", "This account is successfully followed!"
	if action == "unfollow" {
		follow = stream.FollowRemove
		unchanged, done = "This account is not being followed!", "This account is successfully unfollowed!"
	}

	changed, err := c.stream.SaveFollowID(ctx, user.ID, follow)
	if err != nil {
		return err
	}
	if !changed {
		return ic.Notify(unchanged)
	}
	c.log.Info("Follow list changed by command", "account", user.Username, "id", user.ID, "action", action, "user", ic.UserID)

	if err := c.run(ctx, c.stream.Restart); err != nil {
		return err
	}
	return ic.Notify(done + " " + statusNotice)
}

func (c *Commands) status(ic *interaction.Context) error {
	state, lastErr := c.stream.Status()

	value := state.Describe()
	if lastErr != nil && state != stream.Connected {
		value += "\nLast error: " + lastErr.Error()
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Twitter Feed Status",
		Description: "The status does not update in real time, run this command again in a few seconds to see whether it changed.",
		Color:       0x1da1f2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Connection: " + state.String(), Value: value},
		},
	}
	if channelID := c.feed.FeedChannelID(); channelID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Feed Channel",
			Value: fmt.Sprintf("Tweets are posted in <#%s>.", channelID),
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "No Setup",
			Value: "There is no feed channel yet. Run `/feed setup` to choose one.",
		})
	}

	return ic.Responder.Reply(&interaction.Reply{Embeds: []*discordgo.MessageEmbed{embed}, Ephemeral: true})
}

// run executes a stream operation bounded by both the interaction and the
// bot's lifetime. An empty follow list becomes a notice for the operator.
func (c *Commands) run(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()

	err := op(ctx)
	var cfgErr *types.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Key == "follow_list" {
		return types.NewValidationError("follow_list", noAccountsNotice)
	}
	return err
}

// Definitions lists the slash commands Register handles.
func Definitions() []*discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageMessages)
	dm := false
	choices := func(values ...string) []*discordgo.ApplicationCommandOptionChoice {
		out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
		for _, v := range values {
			out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: v, Value: v})
		}
		return out
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     FeedCommand,
			Description:              "Complete operations to the Twitter feed.",
			DefaultMemberPermissions: &perms,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "setup",
					Description: "Setup the Twitter feed in a text channel.",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "the text channel to setup",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						Required:     true,
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "connection",
					Description: "Either connects, restarts, or disconnects the Twitter feed.",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "action",
						Description: "the action to perform on the Twitter feed",
						Required:    true,
						Choices:     choices("connect", "restart", "disconnect"),
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Shows the status of the Twitter feed.",
				},
			},
		},
		{
			Name:                     TwitterCommand,
			Description:              "Twitter account operations for the feed.",
			DefaultMemberPermissions: &perms,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "account",
				Description: "Either check the follow status of, follow or unfollow a Twitter account.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "action",
						Description: "the action to perform on the account",
						Required:    true,
						Choices:     choices("follow", "unfollow", "check"),
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "the user's Twitter handle",
						Required:    true,
					},
				},
			}},
		},
	}
}
