package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"orbot/internal/types"
)

type Config struct {
	Bot        BotConfig        `toml:"bot"`
	Discord    DiscordConfig    `toml:"discord"`
	Twitter    TwitterConfig    `toml:"twitter"`
	Storage    StorageConfig    `toml:"storage"`
	FollowList FollowListConfig `toml:"follow_list"`
	Poster     PosterConfig     `toml:"poster"`
	Workflow   WorkflowConfig   `toml:"workflow"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
}

type BotConfig struct {
	Name            string `toml:"name"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
	// GuildID scopes the registered commands. Empty registers them globally.
	GuildID   string `toml:"guild_id"`
	SendDelay string `toml:"send_delay"`
}

type TwitterConfig struct {
	BearerToken        string `toml:"bearer_token"`
	BaseURL            string `toml:"base_url"`
	SettleDelay        string `toml:"settle_delay"`
	MaxRuleLength      int    `toml:"max_rule_length"`
	QueueSize          int    `toml:"queue_size"`
	ReconnectBaseDelay string `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  string `toml:"reconnect_max_delay"`
	RequestTimeout     string `toml:"request_timeout"`
	MaxRetries         int    `toml:"max_retries"`
}

type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type FollowListConfig struct {
	Type      string `toml:"type"`
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	RedisKey  string `toml:"redis_key"`
}

type PosterConfig struct {
	Path           string `toml:"path"`
	MediaCacheTTL  string `toml:"media_cache_ttl"`
	PublishRetries int    `toml:"publish_retries"`
	// Archive sends a zip of every media item after a feed post.
	Archive bool `toml:"archive"`
}

type WorkflowConfig struct {
	SessionTimeout     string `toml:"session_timeout"`
	PromptTimeout      string `toml:"prompt_timeout"`
	MediaPromptTimeout string `toml:"media_prompt_timeout"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Every setting has a default and credentials can come from the environment.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if config.Discord.BotToken == "" {
		config.Discord.BotToken = strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN"))
	}
	if config.Twitter.BearerToken == "" {
		config.Twitter.BearerToken = strings.TrimSpace(os.Getenv("TWITTER_BEARER_TOKEN"))
	}
}

func validateConfig(config *Config) error {
	if config.Bot.Name == "" {
		config.Bot.Name = "orbot"
	}

	durations := []struct {
		field *string
		name  string
		def   string
	}{
		{&config.Bot.ShutdownTimeout, "bot.shutdown_timeout", "30s"},
		{&config.Twitter.SettleDelay, "twitter.settle_delay", "10s"},
		{&config.Twitter.ReconnectBaseDelay, "twitter.reconnect_base_delay", "1s"},
		{&config.Twitter.ReconnectMaxDelay, "twitter.reconnect_max_delay", "5m"},
		{&config.Twitter.RequestTimeout, "twitter.request_timeout", "15s"},
		{&config.Poster.MediaCacheTTL, "poster.media_cache_ttl", "24h"},
		{&config.Workflow.SessionTimeout, "workflow.session_timeout", "5m"},
		{&config.Workflow.PromptTimeout, "workflow.prompt_timeout", "2m"},
		{&config.Workflow.MediaPromptTimeout, "workflow.media_prompt_timeout", "1m"},
	}
	for _, d := range durations {
		if *d.field == "" {
			*d.field = d.def
		}
		parsed, err := time.ParseDuration(*d.field)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return types.NewConfigError(d.name, "must be positive")
		}
	}

	if config.Discord.SendDelay == "" {
		config.Discord.SendDelay = "0s"
	}
	if d, err := time.ParseDuration(config.Discord.SendDelay); err != nil || d < 0 {
		return types.NewConfigError("discord.send_delay", "must be a non-negative duration")
	}

	if config.Twitter.BaseURL == "" {
		config.Twitter.BaseURL = "https://api.twitter.com"
	}
	config.Twitter.BaseURL = strings.TrimRight(config.Twitter.BaseURL, "/")

	if config.Twitter.MaxRuleLength == 0 {
		config.Twitter.MaxRuleLength = 512
	}
	if config.Twitter.QueueSize == 0 {
		config.Twitter.QueueSize = 256
	}
	if config.Twitter.MaxRetries == 0 {
		config.Twitter.MaxRetries = 5
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = "./orbot.db"
	}

	if config.FollowList.Type == "" {
		config.FollowList.Type = "file"
	}
	switch config.FollowList.Type {
	case "file":
		if config.FollowList.Path == "" {
			config.FollowList.Path = "./data/ids.txt"
		}
	case "redis":
		if config.FollowList.RedisAddr == "" {
			return types.NewConfigError("follow_list.redis_addr", "required for redis follow list")
		}
		if config.FollowList.RedisKey == "" {
			config.FollowList.RedisKey = "orbot:follow"
		}
	default:
		return types.NewConfigError("follow_list.type", fmt.Sprintf("unsupported type %q", config.FollowList.Type))
	}

	if config.Poster.Path == "" {
		config.Poster.Path = "./content_poster.yaml"
	}
	if config.Poster.PublishRetries == 0 {
		config.Poster.PublishRetries = 3
	}

	return nil
}

// RequireCredentials fails when either remote service token is missing.
func (c *Config) RequireCredentials() error {
	if c.Discord.BotToken == "" {
		return types.NewConfigError("discord.bot_token", "required (or set DISCORD_BOT_TOKEN)")
	}
	if c.Twitter.BearerToken == "" {
		return types.NewConfigError("twitter.bearer_token", "required (or set TWITTER_BEARER_TOKEN)")
	}
	return nil
}

// Duration parses a value that validateConfig has already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
