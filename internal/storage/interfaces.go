package storage

import (
	"context"
	"database/sql"

	"orbot/internal/types"
)

type StorageInterface interface {
	GetConnection() *sql.DB
	Posts() PostStore
	Close(ctx context.Context) error
}

// PostStore keeps the posts whose persistent control is still attached.
type PostStore interface {
	Save(ctx context.Context, post types.ActivePost) error
	Get(ctx context.Context, messageID string) (types.ActivePost, bool, error)
	Delete(ctx context.Context, messageID string) error
	List(ctx context.Context) ([]types.ActivePost, error)
}

// FollowList is the set of account ids the stream follows. Add and Remove
// report whether the set changed; repeating either is not an error.
type FollowList interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Close() error
}
