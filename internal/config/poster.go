package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"orbot/internal/types"
)

type posterData struct {
	FeedChannelID  string               `yaml:"feed_channel_id"`
	PostChannels   []types.Channel      `yaml:"post_channels"`
	HashtagFilters types.HashtagFilters `yaml:"hashtag_filters"`
}

// ContentPoster is the YAML-backed store for the feed channel, post channels
// and hashtag filters. Reads return copies.
type ContentPoster struct {
	mu   sync.RWMutex
	path string
	data posterData
}

func LoadContentPoster(path string) (*ContentPoster, error) {
	cp := &ContentPoster{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return nil, fmt.Errorf("failed to read content poster config: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cp.data); err != nil {
		return nil, fmt.Errorf("failed to parse content poster config: %w", err)
	}

	return cp, nil
}

func (c *ContentPoster) FeedChannelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.FeedChannelID
}

func (c *ContentPoster) SetFeedChannel(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.FeedChannelID = channelID
	return c.saveLocked()
}

func (c *ContentPoster) PostChannels() []types.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.data.PostChannels)
}

func (c *ContentPoster) PostChannel(id string) (types.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.data.PostChannels {
		if ch.ID == id {
			return ch, true
		}
	}
	return types.Channel{}, false
}

func (c *ContentPoster) AddPostChannel(id, label string) (types.Channel, error) {
	id = strings.TrimSpace(id)
	label = strings.TrimSpace(label)
	if id == "" || label == "" {
		return types.Channel{}, types.NewValidationError("post_channel", "A post channel needs both an ID and a label.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.data.PostChannels {
		if ch.ID == id {
			return types.Channel{}, types.NewConfigError("post_channels", fmt.Sprintf("channel %s already exists", id))
		}
	}

	ch := types.Channel{ID: id, Label: label, Name: SnakeCase(label)}
	c.data.PostChannels = append(c.data.PostChannels, ch)
	if err := c.saveLocked(); err != nil {
		c.data.PostChannels = c.data.PostChannels[:len(c.data.PostChannels)-1]
		return types.Channel{}, err
	}
	return ch, nil
}

func (c *ContentPoster) HashtagFilters() types.HashtagFilters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.HashtagFilters{
		Whitelist: slices.Clone(c.data.HashtagFilters.Whitelist),
		Blacklist: slices.Clone(c.data.HashtagFilters.Blacklist),
	}
}

// UpdateHashtag adds or removes a tag from the "whitelist" or "blacklist".
// It reports whether the list changed.
func (c *ContentPoster) UpdateHashtag(list, tag string, add bool) (bool, error) {
	tag = cases.Fold().String(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
	if tag == "" {
		return false, types.NewValidationError("hashtag", "Please enter a hashtag.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var target *[]string
	switch list {
	case "whitelist":
		target = &c.data.HashtagFilters.Whitelist
	case "blacklist":
		target = &c.data.HashtagFilters.Blacklist
	default:
		return false, types.NewConfigError("hashtag_filters", fmt.Sprintf("unknown list %q", list))
	}

	idx := slices.Index(*target, tag)
	switch {
	case add && idx >= 0, !add && idx < 0:
		return false, nil
	case add:
		*target = append(*target, tag)
	default:
		*target = slices.Delete(*target, idx, idx+1)
	}

	return true, c.saveLocked()
}

func (c *ContentPoster) saveLocked() error {
	raw, err := yaml.Marshal(&c.data)
	if err != nil {
		return fmt.Errorf("failed to encode content poster config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write content poster config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace content poster config: %w", err)
	}
	return nil
}

// SnakeCase derives a channel name from its label, e.g. "Fan Art" -> "fan_art".
func SnakeCase(label string) string {
	lower := cases.Lower(language.Und)

	var parts []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, lower.String(string(current)))
			current = current[:0]
		}
	}

	runes := []rune(label)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && len(current) > 0 && unicode.IsLower(runes[i-1]) {
				flush()
			}
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()

	return strings.Join(parts, "_")
}
