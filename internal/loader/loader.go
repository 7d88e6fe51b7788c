package loader

import (
	"context"
	"fmt"
	"log/slog"

	"orbot/internal/admin"
	"orbot/internal/aggregator"
	"orbot/internal/components"
	"orbot/internal/config"
	"orbot/internal/core"
	"orbot/internal/interaction"
	"orbot/internal/media"
	"orbot/internal/metrics"
	"orbot/internal/poster"
	"orbot/internal/stream"
	"orbot/internal/twitter"
	"orbot/internal/workflow"
)

// Loader assembles the bot from its configuration.
type Loader struct {
	config *config.Config
	log    *slog.Logger
}

func NewLoader(cfg *config.Config, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		config: cfg,
		log:    log,
	}
}

// Initialize starts every component and wires the feed and the interactive
// workflow on top of them. The returned bot owns the components.
func (l *Loader) Initialize(ctx context.Context) (*core.Bot, error) {
	if err := l.config.RequireCredentials(); err != nil {
		return nil, err
	}

	contentPoster, err := config.LoadContentPoster(l.config.Poster.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load content poster config: %w", err)
	}

	m := metrics.New()
	router := interaction.NewRouter(l.log)
	waiter := interaction.NewMessageWaiter()

	registry := components.NewRegistry(l.log)
	l.log.Info("Initializing all components")

	storageComp := components.NewStorageComponent(l.config.Storage)
	if err := registry.Register(storageComp); err != nil {
		return nil, fmt.Errorf("failed to register storage component: %w", err)
	}

	followComp := components.NewFollowListComponent(l.config.FollowList)
	if err := registry.Register(followComp); err != nil {
		return nil, fmt.Errorf("failed to register follow list component: %w", err)
	}

	discordComp, err := components.NewDiscordComponent(l.config.Discord, l.log)
	if err != nil {
		return nil, err
	}
	discord := discordComp.Discord()
	discord.AddHandler(router.OnInteraction)
	discord.AddHandler(waiter.OnMessageCreate)
	discord.AddCommands(admin.Definitions()...)
	if err := registry.Register(discordComp); err != nil {
		return nil, fmt.Errorf("failed to register discord component: %w", err)
	}

	metricsComp := components.NewMetricsComponent(l.config.Metrics.Addr, m, l.log)
	if err := registry.Register(metricsComp); err != nil {
		return nil, fmt.Errorf("failed to register metrics component: %w", err)
	}

	if err := registry.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("component initialization failed: %w", err)
	}

	bot, err := l.build(ctx, buildDeps{
		content:  contentPoster,
		metrics:  m,
		router:   router,
		waiter:   waiter,
		registry: registry,
		storage:  storageComp,
		follow:   followComp,
		discord:  discordComp,
	})
	if err != nil {
		registry.CloseAll(context.WithoutCancel(ctx))
		return nil, err
	}

	metricsComp.SetHealthCheck(bot.Health)
	l.log.Info("All components initialized successfully")
	return bot, nil
}

type buildDeps struct {
	content  *config.ContentPoster
	metrics  *metrics.Metrics
	router   *interaction.Router
	waiter   *interaction.MessageWaiter
	registry *components.Registry
	storage  *components.StorageComponent
	follow   *components.FollowListComponent
	discord  *components.DiscordComponent
}

func (l *Loader) build(ctx context.Context, d buildDeps) (*core.Bot, error) {
	cfg := l.config
	discord := d.discord.Discord()

	publisher, err := poster.New(poster.Config{
		Sender:        discord,
		Fetcher:       media.NewFetcher(media.FetcherConfig{Logger: l.log}),
		Posts:         d.storage.Store().Posts(),
		Archive:       cfg.Poster.Archive,
		MediaCacheTTL: config.Duration(cfg.Poster.MediaCacheTTL),
		Metrics:       d.metrics,
		Logger:        l.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	prompter := workflow.NewDiscordPrompter(workflow.DiscordPrompterConfig{
		Router:             d.router,
		Waiter:             d.waiter,
		Attachments:        publisher,
		Deleter:            discord,
		PromptTimeout:      config.Duration(cfg.Workflow.PromptTimeout),
		MediaPromptTimeout: config.Duration(cfg.Workflow.MediaPromptTimeout),
		Logger:             l.log,
	})

	sessions, err := workflow.NewManager(workflow.Config{
		Prompter:       prompter,
		Publisher:      publisher,
		Sender:         discord,
		Channels:       d.content,
		Attachments:    publisher,
		BotUserID:      discord.BotUserID,
		SessionTimeout: config.Duration(cfg.Workflow.SessionTimeout),
		Metrics:        d.metrics,
		Logger:         l.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow manager: %w", err)
	}
	sessions.Register(d.router)
	d.router.HandlePrefix(interaction.RoutePrefix(interaction.PersistentPrefix, ""), publisher.ControlHandler(sessions))

	pipeline, err := core.NewPipeline(core.PipelineConfig{
		Publisher:  publisher,
		Feed:       d.content,
		MaxRetries: cfg.Poster.PublishRetries,
		Metrics:    d.metrics,
		Logger:     l.log,
	})
	if err != nil {
		return nil, err
	}

	agg := aggregator.New(aggregator.Config{
		SettleDelay: config.Duration(cfg.Twitter.SettleDelay),
		Predicate:   twitter.NewHashtagFilter(d.content).Allow,
		Sink:        pipeline.Submit,
		Logger:      l.log,
	})

	client, err := twitter.NewClient(twitter.ClientConfig{
		BaseURL:        cfg.Twitter.BaseURL,
		BearerToken:    cfg.Twitter.BearerToken,
		MaxRetries:     cfg.Twitter.MaxRetries,
		RequestTimeout: config.Duration(cfg.Twitter.RequestTimeout),
		Logger:         l.log,
	})
	if err != nil {
		return nil, err
	}

	conn, err := stream.New(stream.Config{
		API:                client,
		FollowList:         d.follow.List(),
		Handler:            agg.OnEvent,
		MaxRuleLength:      cfg.Twitter.MaxRuleLength,
		QueueSize:          cfg.Twitter.QueueSize,
		ReconnectBaseDelay: config.Duration(cfg.Twitter.ReconnectBaseDelay),
		ReconnectMaxDelay:  config.Duration(cfg.Twitter.ReconnectMaxDelay),
		ShutdownTimeout:    config.Duration(cfg.Bot.ShutdownTimeout),
		Metrics:            d.metrics,
		Logger:             l.log,
	})
	if err != nil {
		return nil, err
	}

	commands, err := admin.New(admin.Config{
		Stream:      conn,
		Accounts:    client,
		Feed:        d.content,
		BaseContext: ctx,
		Logger:      l.log,
	})
	if err != nil {
		return nil, err
	}
	commands.Register(d.router)

	return core.NewBot(core.BotConfig{
		Name:       cfg.Bot.Name,
		Components: d.registry,
		Stream:     conn,
		Aggregator: agg,
		Pipeline:   pipeline,
		Posts:      publisher,
		Sessions:   sessions,
		Logger:     l.log,
	})
}
