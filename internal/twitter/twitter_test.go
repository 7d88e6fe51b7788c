package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/types"
)

func TestCompileRulesRespectsMaxLength(t *testing.T) {
	for _, maxLen := range []int{40, 64, 128, 512} {
		for _, idLen := range []int{5, 10, 19} {
			ids := make([]string, 57)
			for i := range ids {
				ids[i] = fmt.Sprintf("%0*d", idLen, i)
			}

			rules, err := CompileRules(ids, maxLen)
			require.NoError(t, err)

			perRule := (maxLen - len(rulePrefix) - len(rulePostfix) + len(ruleConnector)) / (idLen + len(ruleConnector))
			want := (len(ids) + perRule - 1) / perRule
			assert.Len(t, rules, want, "max=%d id=%d", maxLen, idLen)

			var packed []string
			for _, r := range rules {
				assert.LessOrEqual(t, len(r), maxLen)
				assert.True(t, strings.HasPrefix(r, rulePrefix))
				assert.True(t, strings.HasSuffix(r, rulePostfix))
				body := strings.TrimSuffix(strings.TrimPrefix(r, rulePrefix), rulePostfix)
				packed = append(packed, strings.Split(body, ruleConnector)...)
			}
			assert.Equal(t, ids, packed)
		}
	}
}

func TestCompileRulesShape(t *testing.T) {
	rules, err := CompileRules([]string{"1", "2", "2", " ", "3"}, 512)
	require.NoError(t, err)
	assert.Equal(t, []string{"(from:1 OR from:2 OR from:3) has:media"}, rules)

	rules, err = CompileRules(nil, 512)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestCompileRulesRejectsOversizedID(t *testing.T) {
	_, err := CompileRules([]string{strings.Repeat("9", 30)}, 20)
	require.Error(t, err)
	assert.True(t, types.IsConfig(err))
}

func TestSameRules(t *testing.T) {
	remote := []Rule{{ID: "1", Value: "b"}, {ID: "2", Value: "a"}}
	assert.True(t, SameRules(remote, []string{"a", "b"}))
	assert.False(t, SameRules(remote, []string{"a"}))
	assert.False(t, SameRules(remote, []string{"a", "c"}))
}

const samplePayload = `{
  "data": {
    "id": "1700",
    "text": "new photos #Orbit #HD https://t.co/abc",
    "conversation_id": "1699",
    "author_id": "42",
    "created_at": "2023-09-01T10:00:00.000Z",
    "entities": {
      "hashtags": [{"tag": "Orbit"}, {"tag": "HD"}],
      "urls": [{"url": "https://t.co/abc", "expanded_url": "https://twitter.com/fansite/status/1700/photo/1"}]
    },
    "attachments": {"media_keys": ["3_2", "7_1", "3_1"]}
  },
  "includes": {
    "media": [
      {"media_key": "3_1", "type": "photo", "url": "https://pbs.twimg.com/media/first.jpg"},
      {"media_key": "3_2", "type": "photo", "url": "https://pbs.twimg.com/media/second.jpg"},
      {"media_key": "7_1", "type": "video", "variants": [
        {"content_type": "application/x-mpegURL", "url": "https://video.twimg.com/pl.m3u8"},
        {"bit_rate": 256000, "content_type": "video/mp4", "url": "https://video.twimg.com/low.mp4?tag=12"},
        {"bit_rate": 2176000, "content_type": "video/mp4", "url": "https://video.twimg.com/high.mp4?tag=12"}
      ]}
    ],
    "users": [{"id": "42", "name": "Fan Site", "username": "fansite"}]
  }
}`

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(samplePayload))
	require.NoError(t, err)

	assert.Equal(t, "1699", ev.ConversationID)
	assert.Equal(t, "42", ev.AuthorID)
	assert.Equal(t, "fansite", ev.Author.Username)
	assert.Equal(t, []string{"Orbit", "HD"}, ev.Hashtags)
	assert.Equal(t, 2023, ev.Timestamp.Year())

	require.Len(t, ev.MediaRefs, 3)
	assert.Equal(t, types.MediaRef{URL: "https://pbs.twimg.com/media/second.jpg:orig", Filename: "second.jpg"}, ev.MediaRefs[0])
	assert.Equal(t, types.MediaRef{URL: "https://video.twimg.com/high.mp4?tag=12", Filename: "high.mp4"}, ev.MediaRefs[1])
	assert.Equal(t, "first.jpg", ev.MediaRefs[2].Filename)

	assert.Equal(t, "https://twitter.com/fansite/status/1700", ev.TweetURL())
	assert.Equal(t, "new photos #Orbit #HD", ev.CaptionText())
}

func TestDecodeSkipsNonTweets(t *testing.T) {
	_, err := Decode([]byte("\r\n"))
	assert.ErrorIs(t, err, ErrNoTweet)

	_, err = Decode([]byte(`{"errors":[{"title":"operational-disconnect"}]}`))
	assert.ErrorIs(t, err, ErrNoTweet)

	_, err = Decode([]byte(`{"data":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTweet)
}

type staticFilters types.HashtagFilters

func (s staticFilters) HashtagFilters() types.HashtagFilters { return types.HashtagFilters(s) }

func TestHashtagFilter(t *testing.T) {
	f := NewHashtagFilter(staticFilters{Whitelist: []string{"orbit"}, Blacklist: []string{"spoiler"}})

	assert.True(t, f.Allow(types.StreamEvent{Hashtags: []string{"ORBIT", "hd"}}))
	assert.False(t, f.Allow(types.StreamEvent{Hashtags: []string{"hd"}}))
	assert.False(t, f.Allow(types.StreamEvent{Hashtags: []string{"orbit", "Spoiler"}}))
	assert.False(t, f.Allow(types.StreamEvent{}))
}

type fakeAPI struct {
	mu       sync.Mutex
	rules    []Rule
	nextID   int
	status   int
	calls    []string
	users    map[string]types.Author
	streamFn func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	status := f.status
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status != 0 {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(status)
		io.WriteString(w, `{"title":"Too Many Requests"}`)
		return
	}

	if name, ok := strings.CutPrefix(r.URL.Path, usersPath); ok {
		f.mu.Lock()
		user, found := f.users[name]
		f.mu.Unlock()
		if !found {
			io.WriteString(w, `{"errors":[{"title":"Not Found Error","value":"`+name+`"}]}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": user})
		return
	}

	switch r.URL.Path {
	case rulesPath:
		f.handleRules(w, r)
	case streamPath:
		if f.streamFn != nil {
			f.streamFn(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) handleRules(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method == http.MethodGet {
		json.NewEncoder(w).Encode(map[string]any{"data": f.rules})
		return
	}

	var body struct {
		Add    []Rule `json:"add"`
		Delete struct {
			IDs []string `json:"ids"`
		} `json:"delete"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	var created []Rule
	for _, rule := range body.Add {
		f.nextID++
		rule.ID = fmt.Sprint(f.nextID)
		f.rules = append(f.rules, rule)
		created = append(created, rule)
	}
	for _, id := range body.Delete.IDs {
		for i, rule := range f.rules {
			if rule.ID == id {
				f.rules = append(f.rules[:i], f.rules[i+1:]...)
				break
			}
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"data": created})
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, BearerToken: "token"})
	require.NoError(t, err)
	return c
}

func TestClientRules(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	ctx := context.Background()

	rules, err := c.Rules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	created, err := c.AddRules(ctx, []string{"(from:1) has:media", "(from:2) has:media"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	rules, err = c.Rules(ctx)
	require.NoError(t, err)
	assert.True(t, SameRules(rules, []string{"(from:2) has:media", "(from:1) has:media"}))

	require.NoError(t, c.ClearRules(ctx))
	rules, err = c.Rules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestClientSurfacesRateLimit(t *testing.T) {
	api := &fakeAPI{status: http.StatusTooManyRequests}
	c := newTestClient(t, api)

	_, err := c.Stream(context.Background())
	require.Error(t, err)

	te, ok := types.AsTransport(err)
	require.True(t, ok)
	assert.True(t, te.RateLimited())
	assert.False(t, te.Fatal())
	assert.Equal(t, 7, int(te.RetryAfter.Seconds()))
}

func TestClientStreamBody(t *testing.T) {
	api := &fakeAPI{streamFn: func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("expansions"), "attachments.media_keys")
		io.WriteString(w, "\r\n"+strings.ReplaceAll(samplePayload, "\n", "")+"\r\n")
	}}
	c := newTestClient(t, api)

	body, err := c.Stream(context.Background())
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\r\n")

	ev, err := Decode([]byte(lines[len(lines)-1]))
	require.NoError(t, err)
	assert.Equal(t, "1700", ev.ID)
}

func TestClientRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, BearerToken: "wrong"})
	require.NoError(t, err)

	_, err = c.Rules(context.Background())
	te, ok := types.AsTransport(err)
	require.True(t, ok)
	assert.True(t, te.Fatal())

	_, err = NewClient(ClientConfig{})
	assert.True(t, types.IsConfig(err))
}

func TestClientUserByUsername(t *testing.T) {
	api := &fakeAPI{users: map[string]types.Author{
		"fansite": {ID: "77", Name: "Fan Site", Username: "fansite"},
	}}
	c := newTestClient(t, api)
	ctx := context.Background()

	user, err := c.UserByUsername(ctx, "@fansite")
	require.NoError(t, err)
	assert.Equal(t, "77", user.ID)

	_, err = c.UserByUsername(ctx, "nobody")
	assert.True(t, types.IsValidation(err))

	_, err = c.UserByUsername(ctx, " ")
	assert.True(t, types.IsValidation(err))
}
