package interaction

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type Kind int

const (
	KindComponent Kind = iota
	KindModal
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindModal:
		return "modal"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Context is one user interaction, decoupled from the gateway event.
type Context struct {
	Kind      Kind
	CustomID  string
	Command   string
	Values    []string
	Fields    map[string]string
	UserID    string
	ChannelID string
	GuildID   string
	// MessageID is the message the component lives on.
	MessageID string
	// Target is the message a message command was invoked on.
	Target *discordgo.Message
	// Subcommand and Options hold the arguments of a slash command.
	Subcommand string
	Options    map[string]string

	Responder Responder
}

func (c *Context) Option(name string) string {
	if c.Options == nil {
		return ""
	}
	return c.Options[name]
}

func (c *Context) Field(id string) string {
	if c.Fields == nil {
		return ""
	}
	return c.Fields[id]
}

// Notify sends an ephemeral text to the user, as a reply when the
// interaction was not answered yet and as a followup otherwise.
func (c *Context) Notify(content string) error {
	return c.Responder.Reply(&Reply{Content: content, Ephemeral: true})
}

// FromDiscord converts a gateway interaction into a Context.
func FromDiscord(s *discordgo.Session, i *discordgo.Interaction) *Context {
	c := &Context{
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Responder: NewDiscordResponder(s, i),
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		c.UserID = i.Member.User.ID
	case i.User != nil:
		c.UserID = i.User.ID
	}
	if i.Message != nil {
		c.MessageID = i.Message.ID
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		c.Kind = KindComponent
		c.CustomID = data.CustomID
		c.Values = data.Values
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		c.Kind = KindModal
		c.CustomID = data.CustomID
		c.Fields = modalFields(data.Components)
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		c.Kind = KindCommand
		c.Command = data.Name
		c.Subcommand, c.Options = commandOptions(data.Options)
		if data.Resolved != nil && data.TargetID != "" {
			c.Target = data.Resolved.Messages[data.TargetID]
		}
	}
	return c
}

func modalFields(components []discordgo.MessageComponent) map[string]string {
	fields := make(map[string]string)
	for _, comp := range components {
		row, ok := comp.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				fields[input.CustomID] = input.Value
			}
		}
	}
	return fields
}

// commandOptions flattens one level of subcommand and its arguments.
func commandOptions(options []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]string) {
	var sub string
	values := make(map[string]string)
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand:
			sub = opt.Name
			for _, inner := range opt.Options {
				values[inner.Name] = fmt.Sprint(inner.Value)
			}
		default:
			values[opt.Name] = fmt.Sprint(opt.Value)
		}
	}
	return sub, values
}
