package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orbot/internal/storage"
	"orbot/internal/types"
)

type postStore struct {
	db *sql.DB
}

func newPostStore(db *sql.DB) storage.PostStore {
	return &postStore{db: db}
}

func (s *postStore) Save(ctx context.Context, post types.ActivePost) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO active_posts (message_id, channel_id, author_id, author_name, author_username, tweet_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			author_id = excluded.author_id,
			author_name = excluded.author_name,
			author_username = excluded.author_username,
			tweet_url = excluded.tweet_url
	`

	_, err := s.db.ExecContext(ctx, query,
		post.MessageID, post.ChannelID,
		post.Author.ID, post.Author.Name, post.Author.Username,
		post.TweetURL, post.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save active post: %w", err)
	}

	return nil
}

func (s *postStore) Get(ctx context.Context, messageID string) (types.ActivePost, bool, error) {
	query := `
		SELECT message_id, channel_id, author_id, author_name, author_username, tweet_url, created_at
		FROM active_posts WHERE message_id = ?
	`

	post, err := scanPost(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ActivePost{}, false, nil
	}
	if err != nil {
		return types.ActivePost{}, false, fmt.Errorf("failed to get active post: %w", err)
	}
	return post, true, nil
}

func (s *postStore) Delete(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM active_posts WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete active post: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil {
		slog.Debug("Deleted active post", "message_id", messageID, "count", rows)
	}

	return nil
}

func (s *postStore) List(ctx context.Context) ([]types.ActivePost, error) {
	query := `
		SELECT message_id, channel_id, author_id, author_name, author_username, tweet_url, created_at
		FROM active_posts ORDER BY created_at ASC, message_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active posts: %w", err)
	}
	defer rows.Close()

	var posts []types.ActivePost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active post: %w", err)
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (types.ActivePost, error) {
	var post types.ActivePost
	err := row.Scan(
		&post.MessageID, &post.ChannelID,
		&post.Author.ID, &post.Author.Name, &post.Author.Username,
		&post.TweetURL, &post.CreatedAt)
	return post, err
}
