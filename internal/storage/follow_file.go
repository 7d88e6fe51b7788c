package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FileFollowList stores one id per line, in the order they were added.
type FileFollowList struct {
	mu   sync.Mutex
	path string
}

func NewFileFollowList(path string) *FileFollowList {
	return &FileFollowList{path: path}
}

func (f *FileFollowList) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileFollowList) Add(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("follow list: empty id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.read()
	if err != nil {
		return false, err
	}
	if slices.Contains(ids, id) {
		return false, nil
	}
	return true, f.write(append(ids, id))
}

func (f *FileFollowList) Remove(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)

	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.read()
	if err != nil {
		return false, err
	}
	idx := slices.Index(ids, id)
	if idx < 0 {
		return false, nil
	}
	return true, f.write(slices.Delete(ids, idx, idx+1))
}

func (f *FileFollowList) Close() error {
	return nil
}

func (f *FileFollowList) read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read follow list: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" && !slices.Contains(ids, line) {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

func (f *FileFollowList) write(ids []string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create follow list directory: %w", err)
	}

	tmp := f.path + ".tmp"
	body := strings.Join(ids, "\n")
	if len(ids) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write follow list: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace follow list: %w", err)
	}
	return nil
}
