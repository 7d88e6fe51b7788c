package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"orbot/internal/config"
	"orbot/internal/loader"
	"orbot/internal/logger"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orbot",
		Short:         "Discord bot reposting fan media from the Twitter stream",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "orbot.toml", "Path to configuration file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newFollowCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newChannelsCmd())
	root.AddCommand(newHashtagsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and the Twitter stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

func runBot(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log = log.With("component", "cmd.run")
	log.Info("Loaded configuration", "path", configPath)

	bot, err := loader.NewLoader(cfg, slog.Default()).Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	log.Info("Starting bot", "name", bot.Name())

	errChan := make(chan error, 1)
	go func() {
		errChan <- bot.Start(ctx)
	}()

	var runErr error
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	case <-ctx.Done():
	}

	log.Info("Initiating shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Bot.ShutdownTimeout))
	defer cancel()

	if err := bot.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	if runErr != nil {
		return runErr
	}

	log.Info("Bot stopped successfully")
	return nil
}

// commandContext bounds the one-shot CLI commands.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, 30*time.Second)
}
