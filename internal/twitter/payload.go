package twitter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"orbot/internal/types"
)

// OrigSuffix asks the image CDN for the original resolution.
const OrigSuffix = ":orig"

var ErrNoTweet = errors.New("payload carries no tweet")

type streamPayload struct {
	Data     *tweetData `json:"data"`
	Includes struct {
		Media []mediaObject  `json:"media"`
		Users []types.Author `json:"users"`
	} `json:"includes"`
	Errors []apiError `json:"errors"`
}

type tweetData struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	AuthorID       string `json:"author_id"`
	CreatedAt      string `json:"created_at"`
	Entities       struct {
		Hashtags []struct {
			Tag string `json:"tag"`
		} `json:"hashtags"`
		URLs []struct {
			URL         string `json:"url"`
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type mediaObject struct {
	MediaKey string    `json:"media_key"`
	Type     string    `json:"type"`
	URL      string    `json:"url"`
	Variants []variant `json:"variants"`
}

type variant struct {
	BitRate     *int   `json:"bit_rate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// Decode turns one stream line into an event. Keep-alive lines and
// error-only payloads return ErrNoTweet.
func Decode(line []byte) (types.StreamEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return types.StreamEvent{}, ErrNoTweet
	}

	var p streamPayload
	if err := json.Unmarshal(line, &p); err != nil {
		return types.StreamEvent{}, fmt.Errorf("malformed stream payload: %w", err)
	}
	if p.Data == nil || p.Data.ID == "" {
		if len(p.Errors) > 0 {
			return types.StreamEvent{}, fmt.Errorf("%w: %s", ErrNoTweet, p.Errors[0].Title)
		}
		return types.StreamEvent{}, ErrNoTweet
	}

	d := p.Data
	ev := types.StreamEvent{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		AuthorID:       d.AuthorID,
		Text:           d.Text,
		MediaRefs:      mediaRefs(d.Attachments.MediaKeys, p.Includes.Media),
	}
	if ev.ConversationID == "" {
		ev.ConversationID = d.ID
	}
	if ts, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
		ev.Timestamp = ts
	} else {
		ev.Timestamp = time.Now()
	}

	for _, u := range p.Includes.Users {
		if u.ID == d.AuthorID {
			ev.Author = u
			break
		}
	}
	if ev.Author.ID == "" && len(p.Includes.Users) > 0 {
		ev.Author = p.Includes.Users[0]
	}

	for _, h := range d.Entities.Hashtags {
		ev.Hashtags = append(ev.Hashtags, h.Tag)
	}
	for _, u := range d.Entities.URLs {
		ev.URLs = append(ev.URLs, types.TweetURL{Short: u.URL, Expanded: u.ExpandedURL})
	}

	return ev, nil
}

// mediaRefs orders media by the tweet's attachment keys. Photos are requested
// at original size; videos and GIFs use their highest bit rate variant.
func mediaRefs(keys []string, media []mediaObject) []types.MediaRef {
	ordered := media
	if len(keys) > 0 {
		byKey := make(map[string]mediaObject, len(media))
		for _, m := range media {
			byKey[m.MediaKey] = m
		}
		ordered = make([]mediaObject, 0, len(keys))
		for _, k := range keys {
			if m, ok := byKey[k]; ok {
				ordered = append(ordered, m)
			}
		}
	}

	refs := make([]types.MediaRef, 0, len(ordered))
	for _, m := range ordered {
		if m.Type == "photo" {
			if m.URL == "" {
				continue
			}
			refs = append(refs, types.MediaRef{URL: m.URL + OrigSuffix, Filename: path.Base(m.URL)})
			continue
		}

		best := -1
		for i, v := range m.Variants {
			if v.BitRate == nil {
				continue
			}
			if best < 0 || *v.BitRate > *m.Variants[best].BitRate {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		u := m.Variants[best].URL
		name := path.Base(u)
		if i := strings.IndexByte(name, '?'); i >= 0 {
			name = name[:i]
		}
		refs = append(refs, types.MediaRef{URL: u, Filename: name})
	}
	return refs
}
