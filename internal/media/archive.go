package media

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"orbot/internal/types"
)

// Bundle zips files in the order given, keeping each filename verbatim.
func Bundle(files []*types.FetchedMedia, archiveName string) (*types.FetchedMedia, error) {
	if archiveName == "" {
		archiveName = "media"
	}
	if !strings.HasSuffix(archiveName, ".zip") {
		archiveName += ".zip"
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Filename,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", f.Filename, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", f.Filename, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	return &types.FetchedMedia{Filename: archiveName, Data: buf.Bytes()}, nil
}

// Batches splits media into consecutive chunks of at most size items.
func Batches(files []*types.FetchedMedia, size int) [][]*types.FetchedMedia {
	if size <= 0 {
		size = types.MaxAttachmentsPerMessage
	}
	var out [][]*types.FetchedMedia
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		out = append(out, files[start:end])
	}
	return out
}

func IsArchive(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".zip")
}
