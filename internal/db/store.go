package db

import (
	"context"
	"errors"
	"time"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MailStore binds the query helpers to a pool. It is the durable store the
// delivery pipeline, the listener and the search service talk to.
type MailStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewMailStore(pool *pgxpool.Pool) *MailStore {
	return &MailStore{pool: pool, now: time.Now}
}

// DeliverToMailbox persists one owner's copy of a message. The thread is
// created or advanced and the message and its attachment rows are inserted in
// a single transaction, so a failed copy leaves nothing behind.
// On success msg carries its new id and thread id.
func (s *MailStore) DeliverToMailbox(ctx context.Context, msg *models.Message, stableThreadID string) error {
	at := s.now()
	switch {
	case msg.ReceivedAt != nil:
		at = *msg.ReceivedAt
	case msg.SentAt != nil:
		at = *msg.SentAt
	}

	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		thread := &models.Thread{
			UserID:         msg.UserID,
			StableThreadID: stableThreadID,
			Subject:        msg.Subject,
			Snippet:        msg.Snippet,
			LastMessageAt:  at,
		}
		if err := UpsertThread(ctx, tx, thread); err != nil {
			return err
		}

		msg.ThreadID = thread.ID
		if err := InsertMessage(ctx, tx, msg); err != nil {
			return err
		}

		for i := range msg.Attachments {
			msg.Attachments[i].MessageID = msg.ID
			if err := InsertAttachment(ctx, tx, &msg.Attachments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LookupOwner resolves a local address to its mailbox owner. ok is false when
// the address has no mailbox.
func (s *MailStore) LookupOwner(ctx context.Context, address string) (string, bool, error) {
	userID, err := GetUserIDByEmail(ctx, s.pool, address)
	if errors.Is(err, ErrUserNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// ResolveUser returns the id of the account signed in as email, creating the
// account on first sight.
func (s *MailStore) ResolveUser(ctx context.Context, email string) (string, error) {
	return GetOrCreateUser(ctx, s.pool, email)
}

func (s *MailStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return GetUserByID(ctx, s.pool, userID)
}

func (s *MailStore) ListSearchCorpus(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	return ListSearchCorpus(ctx, s.pool, userID, limit)
}

func (s *MailStore) ListThreads(ctx context.Context, userID string, category models.Category, limit, offset int) ([]*models.Thread, error) {
	return ListThreads(ctx, s.pool, userID, category, limit, offset)
}

// GetThread returns the owner's thread with its messages and their attachments.
func (s *MailStore) GetThread(ctx context.Context, userID, threadID string) (*models.Thread, error) {
	thread, err := GetThreadByID(ctx, s.pool, userID, threadID)
	if err != nil {
		return nil, err
	}

	messages, err := GetMessagesForThread(ctx, s.pool, thread.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	attachments, err := GetAttachmentsForMessages(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}

	thread.Messages = make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		msg.Attachments = attachments[msg.ID]
		thread.Messages = append(thread.Messages, *msg)
	}
	return thread, nil
}

func (s *MailStore) TrashThread(ctx context.Context, userID, threadID string) error {
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return TrashThread(ctx, tx, userID, threadID, s.now())
	})
}

// PurgeTrashed deletes threads that have been in the trash longer than
// retention and returns how many went, plus the blob paths they referenced.
func (s *MailStore) PurgeTrashed(ctx context.Context, retention time.Duration) (int64, []string, error) {
	var (
		count int64
		paths []string
	)
	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		count, paths, err = PurgeTrashedThreads(ctx, tx, s.now().Add(-retention))
		return err
	})
	return count, paths, err
}
