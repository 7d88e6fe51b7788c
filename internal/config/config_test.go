package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("TWITTER_BEARER_TOKEN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "orbot", cfg.Bot.Name)
	assert.Equal(t, 10*time.Second, Duration(cfg.Twitter.SettleDelay))
	assert.Equal(t, 512, cfg.Twitter.MaxRuleLength)
	assert.Equal(t, "https://api.twitter.com", cfg.Twitter.BaseURL)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "file", cfg.FollowList.Type)
	assert.Equal(t, 5*time.Minute, Duration(cfg.Workflow.SessionTimeout))

	err = cfg.RequireCredentials()
	require.Error(t, err)
	assert.True(t, types.IsConfig(err))
}

func TestLoadReadsTomlAndEnv(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("TWITTER_BEARER_TOKEN", "from-env")

	path := writeConfig(t, `
[discord]
bot_token = "discord-token"

[twitter]
base_url = "http://localhost:9999/"
settle_delay = "3s"
max_rule_length = 128

[follow_list]
type = "redis"
redis_addr = "localhost:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "discord-token", cfg.Discord.BotToken)
	assert.Equal(t, "from-env", cfg.Twitter.BearerToken)
	assert.Equal(t, "http://localhost:9999", cfg.Twitter.BaseURL)
	assert.Equal(t, 3*time.Second, Duration(cfg.Twitter.SettleDelay))
	assert.Equal(t, 128, cfg.Twitter.MaxRuleLength)
	assert.Equal(t, "orbot:follow", cfg.FollowList.RedisKey)
	assert.NoError(t, cfg.RequireCredentials())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "[twitter]\nsettle_delay = \"soon\"\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "[follow_list]\ntype = \"redis\"\n"))
	require.Error(t, err)
	assert.True(t, types.IsConfig(err))

	_, err = Load(writeConfig(t, "[follow_list]\ntype = \"s3\"\n"))
	require.Error(t, err)
}

func TestContentPosterPostChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content_poster.yaml")

	cp, err := LoadContentPoster(path)
	require.NoError(t, err)
	assert.Empty(t, cp.PostChannels())

	ch, err := cp.AddPostChannel("100", "Fan Art")
	require.NoError(t, err)
	assert.Equal(t, "fan_art", ch.Name)

	_, err = cp.AddPostChannel("100", "Other")
	require.Error(t, err)
	assert.True(t, types.IsConfig(err))

	require.NoError(t, cp.SetFeedChannel("42"))

	reloaded, err := LoadContentPoster(path)
	require.NoError(t, err)
	assert.Equal(t, "42", reloaded.FeedChannelID())
	require.Len(t, reloaded.PostChannels(), 1)
	got, ok := reloaded.PostChannel("100")
	require.True(t, ok)
	assert.Equal(t, "Fan Art", got.Label)
}

func TestContentPosterHashtags(t *testing.T) {
	cp, err := LoadContentPoster(filepath.Join(t.TempDir(), "cp.yaml"))
	require.NoError(t, err)

	changed, err := cp.UpdateHashtag("whitelist", "#OrBit", true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = cp.UpdateHashtag("whitelist", "orbit", true)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []string{"orbit"}, cp.HashtagFilters().Whitelist)

	changed, err = cp.UpdateHashtag("whitelist", "orbit", false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, cp.HashtagFilters().Whitelist)

	_, err = cp.UpdateHashtag("greylist", "x", true)
	require.Error(t, err)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Fan Art":           "fan_art",
		"fanArt":            "fan_art",
		"  Loona -- Daily ": "loona_daily",
		"HD":                "hd",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
