package workflow

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/interaction"
)

const embedColor = 0x1da1f2

const maxFieldValue = 1024

// controlMessage renders the session's control surface. Callers hold s.mu.
func (s *Session) controlMessage() ([]*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	d := s.draft

	title := "New Post"
	if s.mode == ModeEdit {
		title = "Edit Post"
	}

	caption := d.Caption.Render()
	if caption == "" {
		caption = "*No caption*"
	}

	channels := "*No channels selected*"
	if len(d.ChannelIDs) > 0 {
		channels = mentionChannels(d.ChannelIDs)
	}

	selected := d.SelectedMedia()
	mediaValue := "*No media selected*"
	if len(selected) > 0 {
		names := make([]string, 0, len(selected))
		for _, m := range selected {
			names = append(names, "`"+m.Filename+"`")
		}
		mediaValue = fmt.Sprintf("%d of %d selected\n%s", len(selected), len(d.Pool), strings.Join(names, ", "))
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("Only <@%s> can use these controls.", s.ownerID),
		Color:       embedColor,
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Caption", Value: clip(caption, maxFieldValue)})
	// An edited post stays in its channel.
	if s.mode == ModeNew {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Channels", Value: clip(channels, maxFieldValue)})
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Media", Value: clip(mediaValue, maxFieldValue)})

	return []*discordgo.MessageEmbed{embed}, s.controlComponents()
}

func (s *Session) controlComponents() []discordgo.MessageComponent {
	button := func(label, action string, style discordgo.ButtonStyle) discordgo.Button {
		return discordgo.Button{
			Label:    label,
			Style:    style,
			CustomID: interaction.SessionID(s.id, action),
		}
	}

	if s.mode == ModeEdit {
		return []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				button("Edit caption", ActionEditCaption, discordgo.PrimaryButton),
				button("Add media", ActionAddMedia, discordgo.PrimaryButton),
				button("Select media", ActionSelectMedia, discordgo.PrimaryButton),
			}},
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				button("Save", ActionSave, discordgo.SuccessButton),
				button("Cancel", ActionCancel, discordgo.DangerButton),
			}},
		}
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button("Caption", ActionEditCaption, discordgo.PrimaryButton),
			button("Channels", ActionSelectChannels, discordgo.PrimaryButton),
			button("Media", ActionSelectMedia, discordgo.PrimaryButton),
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button("Clear caption", ActionClearCaption, discordgo.SecondaryButton),
			button("Clear channels", ActionClearChannels, discordgo.SecondaryButton),
			button("Clear media", ActionClearMedia, discordgo.SecondaryButton),
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button("Post", ActionPost, discordgo.SuccessButton),
			button("Cancel", ActionCancel, discordgo.DangerButton),
		}},
	}
}

func mentionChannels(ids []string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, "<#"+id+">")
	}
	return strings.Join(mentions, ", ")
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
