package poster

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"orbot/internal/types"
)

// MaxMessageLength is Discord's content limit for one message.
const MaxMessageLength = 2000

const (
	tweetHeader = "```ml\nOriginal Tweet```"
	linksHeader = "```ml\nUploaded Media Links```"
)

// FeedCaption renders the text of a feed post: the tweet block followed by
// the source link of every media item. Links are dropped from the end until
// the caption fits one message.
func FeedCaption(raw types.RawPost) string {
	var b strings.Builder
	b.WriteString(tweetHeader)
	b.WriteString("\n")
	if raw.Author.Name != "" || raw.Author.Username != "" {
		fmt.Fprintf(&b, "`%s @%s`\n", raw.Author.Name, raw.Author.Username)
	}
	if raw.CaptionText != "" {
		b.WriteString(raw.CaptionText)
		b.WriteString("\n")
	}
	if raw.TweetURL != "" {
		fmt.Fprintf(&b, "<%s>\n", raw.TweetURL)
	}
	head := b.String()

	links := make([]string, 0, len(raw.MediaURLs))
	for _, u := range raw.MediaURLs {
		links = append(links, "<"+u+">")
	}

	for n := len(links); n >= 0; n-- {
		caption := head
		if n > 0 {
			caption += "\n" + linksHeader + "\n" + strings.Join(links[:n], "\n")
		}
		if len(caption) <= MaxMessageLength {
			return strings.TrimRight(caption, "\n")
		}
	}
	return Truncate(strings.TrimRight(head, "\n"), MaxMessageLength)
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const ellipsis = "..."
	cut := max - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
