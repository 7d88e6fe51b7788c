package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"orbot/internal/types"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type FetcherConfig struct {
	Client      Doer
	Concurrency int
	MaxBytes    int64
	Logger      *slog.Logger
}

// Fetcher downloads media into memory. It never retries; callers retry the
// whole publish instead.
type Fetcher struct {
	client      Doer
	concurrency int
	maxBytes    int64
	log         *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxBytes <= 0 {
		// Discord rejects uploads above 25 MiB for unboosted guilds.
		cfg.MaxBytes = 25 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Fetcher{
		client:      cfg.Client,
		concurrency: cfg.Concurrency,
		maxBytes:    cfg.MaxBytes,
		log:         cfg.Logger.With("component", "media"),
	}
}

// FetchAll downloads every url concurrently and returns the media in url
// order. names, when non-nil, must match urls one to one. The first failed
// download cancels the rest.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, names []string) ([]*types.FetchedMedia, error) {
	if names != nil && len(names) != len(urls) {
		return nil, &types.LengthMismatchError{URLs: len(urls), Names: len(names)}
	}

	out := make([]*types.FetchedMedia, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, u := range urls {
		name := ""
		if names != nil {
			name = names[i]
		}
		if name == "" {
			name = FilenameFromURL(u)
		}

		g.Go(func() error {
			data, err := f.fetch(gctx, u)
			if err != nil {
				return err
			}
			out[i] = &types.FetchedMedia{Filename: name, Data: data, SourceURL: u}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.log.Debug("Fetched media", "count", len(out))
	return out, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.DownloadError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &types.DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &types.DownloadError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &types.DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &types.DownloadError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body exceeds %d bytes", f.maxBytes),
		}
	}

	return data, nil
}

// FilenameFromURL returns the last path segment without query or the ":orig"
// style size suffix.
func FilenameFromURL(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)
	if i := strings.LastIndex(name, ":"); i > 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		return "media"
	}
	return name
}
