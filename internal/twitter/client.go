package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"orbot/internal/types"
)

const (
	rulesPath  = "/2/tweets/search/stream/rules"
	streamPath = "/2/tweets/search/stream"
	usersPath  = "/2/users/by/username/"
)

// StreamParams lists the fields the feed needs from every tweet.
var StreamParams = url.Values{
	"tweet.fields": {"attachments,author_id,conversation_id,created_at,entities"},
	"expansions":   {"attachments.media_keys,author_id"},
	"media.fields": {"type,url,variants"},
	"user.fields":  {"name,username"},
}

type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

type ClientConfig struct {
	BaseURL        string
	BearerToken    string
	MaxRetries     int
	RequestTimeout time.Duration
	// HTTPClient overrides the transport of both the rule and stream calls.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the v2 filtered stream endpoints. Rule calls retry through
// retryablehttp and honour Retry-After on 429. The stream call is never
// retried here since reconnecting is the stream connection's job.
type Client struct {
	baseURL string
	token   string
	rest    *retryablehttp.Client
	stream  *http.Client
	log     *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BearerToken == "" {
		return nil, types.NewConfigError("twitter.bearer_token", "required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitter.com"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "twitter")

	rest := retryablehttp.NewClient()
	rest.RetryMax = cfg.MaxRetries
	rest.RetryWaitMin = 1 * time.Second
	rest.RetryWaitMax = 30 * time.Second
	rest.Logger = log
	// Keep the last response so non-2xx statuses surface as TransportError.
	rest.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rest.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	// The stream client has no timeout; its body lives as long as the connection.
	streamClient := &http.Client{}
	if cfg.HTTPClient != nil {
		rest.HTTPClient.Transport = cfg.HTTPClient.Transport
		streamClient.Transport = cfg.HTTPClient.Transport
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.BearerToken,
		rest:    rest,
		stream:  streamClient,
		log:     log,
	}, nil
}

type rulesResponse struct {
	Data []Rule `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
		Summary     struct {
			Created    int `json:"created"`
			NotCreated int `json:"not_created"`
			Deleted    int `json:"deleted"`
		} `json:"summary"`
	} `json:"meta"`
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var out rulesResponse
	if err := c.doJSON(ctx, http.MethodGet, rulesPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) AddRules(ctx context.Context, values []string) ([]Rule, error) {
	if len(values) == 0 {
		return nil, nil
	}

	add := make([]Rule, 0, len(values))
	for _, v := range values {
		add = append(add, Rule{Value: v})
	}

	var out rulesResponse
	if err := c.doJSON(ctx, http.MethodPost, rulesPath, map[string]any{"add": add}, &out); err != nil {
		return nil, err
	}
	if out.Meta.Summary.NotCreated > 0 && len(out.Errors) > 0 {
		return out.Data, &types.TransportError{
			Op:         "add rules",
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("%s: %s", out.Errors[0].Title, out.Errors[0].Value),
		}
	}
	return out.Data, nil
}

func (c *Client) DeleteRules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"delete": map[string]any{"ids": ids}}
	return c.doJSON(ctx, http.MethodPost, rulesPath, body, nil)
}

// ClearRules deletes every rule installed for the app.
func (c *Client) ClearRules(ctx context.Context) error {
	rules, err := c.Rules(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return c.DeleteRules(ctx, ids)
}

type userResponse struct {
	Data   *types.Author `json:"data"`
	Errors []apiError    `json:"errors"`
}

// UserByUsername looks an account up by its handle. An unknown handle is a
// ValidationError.
func (c *Client) UserByUsername(ctx context.Context, username string) (types.Author, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return types.Author{}, types.NewValidationError("username", "Please enter a Twitter username.")
	}

	var out userResponse
	if err := c.doJSON(ctx, http.MethodGet, usersPath+url.PathEscape(username), nil, &out); err != nil {
		return types.Author{}, err
	}
	if out.Data == nil || out.Data.ID == "" {
		return types.Author{}, types.NewValidationError("username", "No user found with that username")
	}
	return *out.Data, nil
}

// Stream opens the filtered stream. The caller owns the returned body.
func (c *Client) Stream(ctx context.Context) (io.ReadCloser, error) {
	endpoint := c.baseURL + streamPath + "?" + StreamParams.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: "connect stream", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("connect stream", resp)
	}

	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + path
	resp, err := c.rest.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) *types.TransportError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	te := &types.TransportError{Op: op, StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header)}
	if len(snippet) > 0 {
		te.Err = fmt.Errorf("%s", bytes.TrimSpace(snippet))
	}
	return te
}

// retryAfter reads Retry-After, falling back to the x-rate-limit-reset epoch.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
