package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orbot/internal/config"
	"orbot/internal/storage"
	"orbot/internal/twitter"
)

func newFollowCmd() *cobra.Command {
	follow := &cobra.Command{
		Use:   "follow",
		Short: "Inspect the accounts the stream follows",
		Long: `Read the follow list shared with the running bot.

The list is changed only through the bot's /twitter account command, which
restarts the stream with the new rules.`,
	}

	follow.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print followed account ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, closeList, err := openFollowList(cmd)
			if err != nil {
				return err
			}
			defer closeList()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			ids, err := list.List(ctx)
			if err != nil {
				return err
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	return follow
}

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect stream filter rules",
	}

	rules.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Print the rules compiled from the follow list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			list, closeList, err := followListFor(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeList()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			ids, err := list.List(ctx)
			if err != nil {
				return err
			}
			compiled, err := twitter.CompileRules(ids, cfg.Twitter.MaxRuleLength)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tLENGTH\tRULE")
			for i, rule := range compiled {
				fmt.Fprintf(w, "%d\t%d\t%s\n", i+1, len(rule), rule)
			}
			return w.Flush()
		},
	})

	return rules
}

func openFollowList(cmd *cobra.Command) (storage.FollowList, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return followListFor(cmd, cfg)
}

func followListFor(cmd *cobra.Command, cfg *config.Config) (storage.FollowList, func(), error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	list, err := storage.NewFollowList(ctx, cfg.FollowList)
	if err != nil {
		return nil, nil, err
	}
	return list, func() { list.Close() }, nil
}
