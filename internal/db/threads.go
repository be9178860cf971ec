package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

const threadColumns = `id, user_id, stable_thread_id, subject, snippet, last_message_at, trashed_at`

func scanThread(row pgx.Row) (*models.Thread, error) {
	var thread models.Thread
	err := row.Scan(
		&thread.ID,
		&thread.UserID,
		&thread.StableThreadID,
		&thread.Subject,
		&thread.Snippet,
		&thread.LastMessageAt,
		&thread.TrashedAt,
	)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// UpsertThread creates the owner's thread for stableThreadID or advances the
// existing one. The subject is only set on creation; snippet and
// last_message_at follow the newest message. A trashed thread that receives
// new mail comes back out of the trash.
func UpsertThread(ctx context.Context, q Querier, thread *models.Thread) error {
	err := q.QueryRow(ctx, `
		INSERT INTO threads (user_id, stable_thread_id, subject, snippet, last_message_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, stable_thread_id) DO UPDATE SET
			snippet = EXCLUDED.snippet,
			last_message_at = GREATEST(threads.last_message_at, EXCLUDED.last_message_at),
			trashed_at = NULL,
			updated_at = now()
		RETURNING id, subject
	`, thread.UserID, thread.StableThreadID, thread.Subject, thread.Snippet, thread.LastMessageAt).
		Scan(&thread.ID, &thread.Subject)

	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}
	return nil
}

// GetThreadByStableID returns a thread by its stable thread ID.
func GetThreadByStableID(ctx context.Context, q Querier, userID, stableThreadID string) (*models.Thread, error) {
	thread, err := scanThread(q.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE user_id = $1 AND stable_thread_id = $2
	`, userID, stableThreadID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// GetThreadByID returns the owner's thread with the given id.
func GetThreadByID(ctx context.Context, q Querier, userID, threadID string) (*models.Thread, error) {
	thread, err := scanThread(q.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = $1 AND user_id = $2
	`, threadID, userID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread by ID: %w", err)
	}
	return thread, nil
}

// ListThreads returns the owner's non-trashed threads, newest first.
// When category is set, only threads holding at least one message of that
// category are returned.
func ListThreads(ctx context.Context, q Querier, userID string, category models.Category, limit, offset int) ([]*models.Thread, error) {
	rows, err := q.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads t
		WHERE t.user_id = $1
			AND t.trashed_at IS NULL
			AND ($2 = '' OR EXISTS (
				SELECT 1 FROM messages m
				WHERE m.thread_id = t.id AND m.category = $2 AND m.trashed_at IS NULL
			))
		ORDER BY t.last_message_at DESC, t.id
		LIMIT $3 OFFSET $4
	`, userID, string(category), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}

// TrashThread soft-deletes the owner's thread and its messages.
func TrashThread(ctx context.Context, q Querier, userID, threadID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE threads SET trashed_at = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND trashed_at IS NULL
	`, threadID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to trash thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}

	if _, err := q.Exec(ctx, `
		UPDATE messages SET trashed_at = $2, updated_at = now()
		WHERE thread_id = $1 AND trashed_at IS NULL
	`, threadID, at); err != nil {
		return fmt.Errorf("failed to trash thread messages: %w", err)
	}
	return nil
}

// PurgeTrashedThreads permanently deletes threads trashed before cutoff.
// Messages and attachment rows go with them through the foreign keys.
// The storage paths of the purged attachments are returned so the caller can
// remove the blobs.
func PurgeTrashedThreads(ctx context.Context, q Querier, cutoff time.Time) (int64, []string, error) {
	rows, err := q.Query(ctx, `
		SELECT a.storage_path
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		JOIN threads t ON t.id = m.thread_id
		WHERE t.trashed_at IS NOT NULL AND t.trashed_at < $1
	`, cutoff)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list purged attachments: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan purged attachments: %w", err)
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM threads WHERE trashed_at IS NOT NULL AND trashed_at < $1
	`, cutoff)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to purge trashed threads: %w", err)
	}
	return tag.RowsAffected(), paths, nil
}
