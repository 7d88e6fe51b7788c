package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"orbot/internal/interaction"
	"orbot/internal/platforms"
	"orbot/internal/types"
)

const (
	ActionNewPost = "new_post"
	ActionClose   = "close_tweet"
)

// PostStarter opens a new post workflow for the user of an interaction.
type PostStarter interface {
	StartNewPost(ctx context.Context, ic *interaction.Context, seed types.PostSeed) error
}

// Controls is the persistent control surface of a feed post.
func Controls(messageID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Make New Post",
				Style:    discordgo.PrimaryButton,
				CustomID: interaction.PersistentID(messageID, ActionNewPost),
			},
			discordgo.Button{
				Label:    "✖️",
				Style:    discordgo.DangerButton,
				CustomID: interaction.PersistentID(messageID, ActionClose),
			},
		}},
	}
}

// ControlHandler serves every persistent:<messageId>:<action> id. It only
// needs the stored post record, so it keeps working across restarts.
func (p *Publisher) ControlHandler(starter PostStarter) interaction.Handler {
	return interaction.HandlerFunc(func(ctx context.Context, ic *interaction.Context) error {
		id, ok := interaction.ParseID(ic.CustomID)
		if !ok || id.Prefix != interaction.PersistentPrefix {
			return fmt.Errorf("malformed persistent id %q", ic.CustomID)
		}

		post, found, err := p.posts.Get(ctx, id.Key)
		if err != nil {
			return err
		}
		if !found {
			return types.NewValidationError("post", "This post is no longer available.")
		}

		switch id.Action {
		case ActionNewPost:
			return p.startNewPost(ctx, ic, post, starter)
		case ActionClose:
			return p.closePost(ctx, ic, post)
		default:
			return fmt.Errorf("unknown persistent action %q", id.Action)
		}
	})
}

func (p *Publisher) startNewPost(ctx context.Context, ic *interaction.Context, post types.ActivePost, starter PostStarter) error {
	// Rebuilding the pool may take longer than Discord waits for an answer.
	if err := ic.Responder.Defer(); err != nil {
		return err
	}

	pool, err := p.MediaPool(ctx, post)
	if err != nil {
		return fmt.Errorf("failed to load media of %s: %w", post.MessageID, err)
	}
	if len(pool) == 0 {
		return types.NewValidationError("media", "This post has no media left to reuse.")
	}

	return starter.StartNewPost(ctx, ic, types.PostSeed{
		Credits: types.CreditsFor(post.Author),
		Media:   pool,
	})
}

func (p *Publisher) closePost(ctx context.Context, ic *interaction.Context, post types.ActivePost) error {
	if err := ic.Responder.Defer(); err != nil {
		return err
	}

	none := []discordgo.MessageComponent{}
	if _, err := p.sender.Edit(ctx, post.ChannelID, post.MessageID, &platforms.MessageEdit{
		Components: &none,
	}); err != nil && !isNotFound(err) {
		return err
	}

	if err := p.posts.Delete(ctx, post.MessageID); err != nil {
		return err
	}
	p.pools.InvalidateKey(post.MessageID)

	p.log.Info("Closed post controls", "message", post.MessageID, "user", ic.UserID)
	return nil
}

// Restore checks the recorded posts at startup and forgets the ones whose
// message is gone. It returns how many controls remain active.
func (p *Publisher) Restore(ctx context.Context) (int, error) {
	posts, err := p.posts.List(ctx)
	if err != nil {
		return 0, err
	}

	active := 0
	for _, post := range posts {
		if _, err := p.sender.Message(ctx, post.ChannelID, post.MessageID); err != nil {
			if isNotFound(err) {
				p.log.Info("Dropping control of deleted post", "message", post.MessageID)
				if err := p.posts.Delete(ctx, post.MessageID); err != nil {
					return active, err
				}
				continue
			}
			p.log.Warn("Could not verify post", "message", post.MessageID, "error", err)
		}
		active++
	}

	p.log.Info("Restored post controls", "active", active, "recorded", len(posts))
	return active, nil
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
