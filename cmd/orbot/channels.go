package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orbot/internal/config"
)

func openContentPoster() (*config.ContentPoster, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.LoadContentPoster(cfg.Poster.Path)
}

func newChannelsCmd() *cobra.Command {
	channels := &cobra.Command{
		Use:   "channels",
		Short: "Manage the feed channel and the channels posts can target",
	}

	channels.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the feed channel and post channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openContentPoster()
			if err != nil {
				return err
			}
			feed := cp.FeedChannelID()
			if feed == "" {
				feed = "(not set)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feed channel: %s\n\n", feed)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tNAME")
			for _, ch := range cp.PostChannels() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, ch.Label, ch.Name)
			}
			return w.Flush()
		},
	})

	channels.AddCommand(&cobra.Command{
		Use:   "add <channel-id> <label>",
		Short: "Add a channel posts can be sent to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openContentPoster()
			if err != nil {
				return err
			}
			ch, err := cp.AddPostChannel(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s as %q (%s)\n", ch.ID, ch.Label, ch.Name)
			return nil
		},
	})

	channels.AddCommand(&cobra.Command{
		Use:   "feed <channel-id>",
		Short: "Set the channel stream posts are published to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openContentPoster()
			if err != nil {
				return err
			}
			if err := cp.SetFeedChannel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feed channel set to %s\n", args[0])
			return nil
		},
	})

	return channels
}

func newHashtagsCmd() *cobra.Command {
	hashtags := &cobra.Command{
		Use:   "hashtags",
		Short: "Manage the hashtag whitelist and blacklist",
	}

	hashtags.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the hashtag filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openContentPoster()
			if err != nil {
				return err
			}
			filters := cp.HashtagFilters()
			fmt.Fprintf(cmd.OutOrStdout(), "whitelist: %v\nblacklist: %v\n", filters.Whitelist, filters.Blacklist)
			return nil
		},
	})

	for _, add := range []bool{true, false} {
		use := "add"
		if !add {
			use = "remove"
		}
		hashtags.AddCommand(&cobra.Command{
			Use:       use + " <whitelist|blacklist> <tag>",
			Short:     "Update a hashtag filter list",
			Args:      cobra.ExactArgs(2),
			ValidArgs: []string{"whitelist", "blacklist"},
			RunE: func(cmd *cobra.Command, args []string) error {
				cp, err := openContentPoster()
				if err != nil {
					return err
				}
				changed, err := cp.UpdateHashtag(args[0], args[1], add)
				if err != nil {
					return err
				}
				if !changed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already up to date\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
				return nil
			},
		})
	}

	return hashtags
}
