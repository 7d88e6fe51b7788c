package interaction

import (
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// Reply is the content of an interaction response or edit.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool
}

type Modal struct {
	CustomID string
	Title    string
	Inputs   []discordgo.TextInput
}

// Responder answers one interaction. Discord allows a single initial
// response; everything after it goes through edits and followups.
type Responder interface {
	// Reply answers with a new message, or sends a followup if the
	// interaction was already answered.
	Reply(r *Reply) error
	// Defer acknowledges the interaction without answering it yet.
	Defer() error
	// Update replaces the message the component lives on.
	Update(r *Reply) error
	// EditReply edits the initial response.
	EditReply(r *Reply) error
	// DeleteReply removes the initial response.
	DeleteReply() error
	Modal(m *Modal) error
	Acknowledged() bool
}

type discordResponder struct {
	s       *discordgo.Session
	i       *discordgo.Interaction
	acked   atomic.Bool
	// pending is set while a deferred command reply waits for its content.
	pending atomic.Bool
}

func NewDiscordResponder(s *discordgo.Session, i *discordgo.Interaction) Responder {
	return &discordResponder{s: s, i: i}
}

func (r *discordResponder) Acknowledged() bool {
	return r.acked.Load()
}

func (r *discordResponder) Reply(reply *Reply) error {
	if r.pending.CompareAndSwap(true, false) {
		return r.EditReply(reply)
	}
	if r.acked.Load() {
		_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
			Content:    reply.Content,
			Embeds:     reply.Embeds,
			Components: reply.Components,
			Flags:      flags(reply.Ephemeral),
		})
		return err
	}
	return r.respond(discordgo.InteractionResponseChannelMessageWithSource, reply)
}

// Defer acknowledges the interaction. Commands get an ephemeral loading
// reply that the next Reply fills in.
func (r *discordResponder) Defer() error {
	if r.acked.Load() {
		return nil
	}
	if r.i.Type == discordgo.InteractionApplicationCommand {
		if err := r.respond(discordgo.InteractionResponseDeferredChannelMessageWithSource, &Reply{Ephemeral: true}); err != nil {
			return err
		}
		r.pending.Store(true)
		return nil
	}
	return r.respond(discordgo.InteractionResponseDeferredMessageUpdate, nil)
}

func (r *discordResponder) Update(reply *Reply) error {
	if r.acked.Load() {
		return r.EditReply(reply)
	}
	return r.respond(discordgo.InteractionResponseUpdateMessage, reply)
}

func (r *discordResponder) EditReply(reply *Reply) error {
	components := reply.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	embeds := reply.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{
		Content:    &reply.Content,
		Embeds:     &embeds,
		Components: &components,
	})
	return err
}

func (r *discordResponder) DeleteReply() error {
	return r.s.InteractionResponseDelete(r.i)
}

func (r *discordResponder) Modal(m *Modal) error {
	rows := make([]discordgo.MessageComponent, 0, len(m.Inputs))
	for _, input := range m.Inputs {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{input}})
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   m.CustomID,
			Title:      m.Title,
			Components: rows,
		},
	})
	if err == nil {
		r.acked.Store(true)
	}
	return err
}

func (r *discordResponder) respond(kind discordgo.InteractionResponseType, reply *Reply) error {
	resp := &discordgo.InteractionResponse{Type: kind}
	if reply != nil {
		components := reply.Components
		if components == nil && kind == discordgo.InteractionResponseUpdateMessage {
			components = []discordgo.MessageComponent{}
		}
		resp.Data = &discordgo.InteractionResponseData{
			Content:    reply.Content,
			Embeds:     reply.Embeds,
			Components: components,
			Flags:      flags(reply.Ephemeral),
		}
	}
	if err := r.s.InteractionRespond(r.i, resp); err != nil {
		return err
	}
	r.acked.Store(true)
	return nil
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
