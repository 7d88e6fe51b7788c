package types

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// MaxAttachmentsPerMessage is Discord's per-message attachment ceiling.
const MaxAttachmentsPerMessage = 10

type Author struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type MediaRef struct {
	URL      string
	Filename string
}

type TweetURL struct {
	Short    string
	Expanded string
}

// StreamEvent is one decoded tweet delivered by the filtered stream.
type StreamEvent struct {
	ID             string
	ConversationID string
	AuthorID       string
	Author         Author
	Text           string
	MediaRefs      []MediaRef
	URLs           []TweetURL
	Hashtags       []string
	Timestamp      time.Time
}

// RawPost is a flushed conversation ready to be published.
type RawPost struct {
	ConversationID string
	Author         Author
	CaptionText    string
	TweetURL       string
	MediaURLs      []string
	MediaFilenames []string
}

func (p *RawPost) MediaCount() int {
	return len(p.MediaURLs)
}

// FetchedMedia holds downloaded bytes. Each call to Reader starts from the
// first byte, so the same media can be attached to any number of messages.
type FetchedMedia struct {
	Filename  string
	Data      []byte
	SourceURL string
}

func (m *FetchedMedia) Reader() io.Reader {
	return bytes.NewReader(m.Data)
}

func (m *FetchedMedia) Size() int {
	return len(m.Data)
}

type CaptionCredits struct {
	Name     string
	Username string
}

func (c *CaptionCredits) Available() bool {
	return c != nil && c.Username != ""
}

func CreditsFor(a Author) *CaptionCredits {
	if a.Username == "" {
		return nil
	}
	return &CaptionCredits{Name: a.Name, Username: a.Username}
}

// PublishedPost records one sent message. Media holds weak references into
// the media pool, not copies.
type PublishedPost struct {
	MessageID      string
	ChannelID      string
	Media          []*FetchedMedia
	CaptionCredits *CaptionCredits
}

// PostContent is what gets sent to a set of channels.
type PostContent struct {
	Caption string
	Media   []*FetchedMedia
}

// PostSeed is the starting state of a post workflow.
type PostSeed struct {
	Caption    string
	Credits    *CaptionCredits
	ChannelIDs []string
	Media      []*FetchedMedia
}

// Channel is a post channel entry from the content poster config.
type Channel struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Name  string `yaml:"name"`
}

// ActivePost is the metadata needed to rebuild a persistent control after
// a restart.
type ActivePost struct {
	MessageID string
	ChannelID string
	Author    Author
	TweetURL  string
	CreatedAt time.Time
}

type HashtagFilters struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// TweetURL returns the status link of the tweet. The last entity url of a
// media tweet is its own media permalink; the trailing /photo/N or /video/N is
// removed. Without one, the link is built from the author and tweet id.
func (e *StreamEvent) TweetURL() string {
	if n := len(e.URLs); n > 0 {
		expanded := e.URLs[n-1].Expanded
		parts := strings.Split(expanded, "/")
		if len(parts) >= 3 {
			kind := parts[len(parts)-2]
			if kind == "photo" || kind == "video" {
				return strings.Join(parts[:len(parts)-2], "/")
			}
		}
	}
	if e.Author.Username != "" && e.ID != "" {
		return "https://twitter.com/" + e.Author.Username + "/status/" + e.ID
	}
	if n := len(e.URLs); n > 0 {
		return e.URLs[n-1].Expanded
	}
	return ""
}

// CaptionText is the tweet text without its trailing t.co media link.
func (e *StreamEvent) CaptionText() string {
	text := e.Text
	if n := len(e.URLs); n > 0 && e.URLs[n-1].Short != "" {
		text = strings.ReplaceAll(text, e.URLs[n-1].Short, "")
	}
	return strings.TrimSpace(text)
}
