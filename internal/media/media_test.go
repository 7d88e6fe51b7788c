package media

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/types"
)

func mediaServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "bytes of "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAllLengthMismatchMakesNoRequests(t *testing.T) {
	var hits atomic.Int32
	srv := mediaServer(t, &hits)

	f := NewFetcher(FetcherConfig{Client: srv.Client()})
	_, err := f.FetchAll(context.Background(), []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"}, []string{"a.jpg"})

	require.Error(t, err)
	assert.True(t, types.IsLengthMismatch(err))
	assert.Zero(t, hits.Load())
}

func TestFetchAllKeepsOrderAndNames(t *testing.T) {
	srv := mediaServer(t, nil)
	f := NewFetcher(FetcherConfig{Client: srv.Client(), Concurrency: 2})

	urls := []string{srv.URL + "/one.jpg", srv.URL + "/two.mp4?tag=12", srv.URL + "/three.png"}
	got, err := f.FetchAll(context.Background(), urls, []string{"1.jpg", "", "3.png"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "1.jpg", got[0].Filename)
	assert.Equal(t, "two.mp4", got[1].Filename)
	assert.Equal(t, "3.png", got[2].Filename)
	assert.Equal(t, "bytes of /three.png", string(got[2].Data))
	assert.Equal(t, urls[1], got[1].SourceURL)
}

func TestFetchAllFailsOnNon2xx(t *testing.T) {
	srv := mediaServer(t, nil)
	f := NewFetcher(FetcherConfig{Client: srv.Client()})

	_, err := f.FetchAll(context.Background(), []string{srv.URL + "/ok.jpg", srv.URL + "/missing.jpg"}, nil)
	require.Error(t, err)

	var dl *types.DownloadError
	require.ErrorAs(t, err, &dl)
	assert.Equal(t, http.StatusNotFound, dl.StatusCode)
}

func TestFetchedMediaReaderRewinds(t *testing.T) {
	m := &types.FetchedMedia{Filename: "a.jpg", Data: []byte("abc")}

	first, err := io.ReadAll(m.Reader())
	require.NoError(t, err)
	second, err := io.ReadAll(m.Reader())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBundleKeepsInsertionOrder(t *testing.T) {
	files := []*types.FetchedMedia{
		{Filename: "z.jpg", Data: []byte("z")},
		{Filename: "a.jpg", Data: []byte("a")},
		{Filename: "m.mp4", Data: []byte("m")},
	}

	archive, err := Bundle(files, "1580000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1580000000000000000.zip", archive.Filename)

	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)

	for i, zf := range zr.File {
		assert.Equal(t, files[i].Filename, zf.Name)
		rc, err := zf.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, files[i].Data, body)
	}
}

func TestBatches(t *testing.T) {
	files := make([]*types.FetchedMedia, 23)
	for i := range files {
		files[i] = &types.FetchedMedia{}
	}

	batches := Batches(files, types.MaxAttachmentsPerMessage)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 3)
	assert.Same(t, files[20], batches[2][0])

	assert.Empty(t, Batches(nil, 10))
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "EabC.jpg", FilenameFromURL("https://pbs.twimg.com/media/EabC.jpg:orig"))
	assert.Equal(t, "vid.mp4", FilenameFromURL("https://video.twimg.com/ext/vid.mp4?tag=12"))
	assert.Equal(t, "media", FilenameFromURL(""))
}
