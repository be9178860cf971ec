package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imnothoan/verygoodmail/internal/config"
	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(userID, subject string, at time.Time) *models.Message {
	return &models.Message{
		UserID:          userID,
		MessageIDHeader: "<" + subject + "@verygoodmail.test>",
		FromName:        "Bob",
		FromAddress:     "bob@example.com",
		ToAddresses:     []string{"alice@verygoodmail.test"},
		Subject:         subject,
		BodyText:        "body of " + subject,
		Snippet:         "snippet of " + subject,
		Verdict: models.Verdict{
			Category:   models.CategoryPrimary,
			Sentiment:  models.SentimentNeutral,
			Confidence: 0.5,
			Source:     models.SourceNone,
		},
		ReceivedAt: &at,
	}
}

func TestMailStore_DeliverToMailbox(t *testing.T) {
	pool := testutil.NewTestDB(t)
	store := NewMailStore(pool)
	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "alice@verygoodmail.test")
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("creates the thread with the first message", func(t *testing.T) {
		msg := newMessage(userID, "hello", base)
		msg.Attachments = []models.Attachment{{
			Filename:    "a.txt",
			MimeType:    "text/plain",
			SizeBytes:   3,
			StoragePath: "ab/cd.txt",
			URL:         "/attachments/ab/cd.txt",
		}}

		require.NoError(t, store.DeliverToMailbox(ctx, msg, "<root@verygoodmail.test>"))
		assert.NotEmpty(t, msg.ID)
		assert.NotEmpty(t, msg.ThreadID)
		assert.Equal(t, msg.ID, msg.Attachments[0].MessageID)

		thread, err := store.GetThread(ctx, userID, msg.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, "hello", thread.Subject)
		assert.Equal(t, "snippet of hello", thread.Snippet)
		require.Len(t, thread.Messages, 1)
		assert.Equal(t, []string{"alice@verygoodmail.test"}, thread.Messages[0].ToAddresses)
		assert.Empty(t, thread.Messages[0].CCAddresses)
		require.Len(t, thread.Messages[0].Attachments, 1)
		assert.Equal(t, "ab/cd.txt", thread.Messages[0].Attachments[0].StoragePath)
	})

	t.Run("advances the existing thread", func(t *testing.T) {
		reply := newMessage(userID, "re: hello", base.Add(time.Hour))
		reply.Verdict = models.Verdict{
			Category:   models.CategorySpam,
			IsSpam:     true,
			SpamScore:  0.9,
			Sentiment:  models.SentimentNegative,
			Confidence: 0.9,
			Source:     models.SourceLocalModel,
		}
		require.NoError(t, store.DeliverToMailbox(ctx, reply, "<root@verygoodmail.test>"))

		thread, err := store.GetThread(ctx, userID, reply.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, "hello", thread.Subject, "subject stays with the first message")
		assert.Equal(t, "snippet of re: hello", thread.Snippet)
		assert.True(t, thread.LastMessageAt.Equal(base.Add(time.Hour)))
		require.Len(t, thread.Messages, 2)
		assert.Equal(t, reply.Verdict, thread.Messages[1].Verdict)
	})

	t.Run("failed copy leaves nothing behind", func(t *testing.T) {
		bad := newMessage(userID, "broken", base)
		bad.Verdict.IsSpam = true // violates is_spam => category spam

		err := store.DeliverToMailbox(ctx, bad, "<broken@verygoodmail.test>")
		require.Error(t, err)

		_, err = GetThreadByStableID(ctx, pool, userID, "<broken@verygoodmail.test>")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestMailStore_LookupOwner(t *testing.T) {
	pool := testutil.NewTestDB(t)
	store := NewMailStore(pool)
	ctx := context.Background()

	userID, err := store.ResolveUser(ctx, "bob@verygoodmail.test")
	require.NoError(t, err)

	owner, ok, err := store.LookupOwner(ctx, "Bob@VeryGoodMail.test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, userID, owner)

	_, ok, err = store.LookupOwner(ctx, "ghost@verygoodmail.test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMailStore_ListThreadsAndCorpus(t *testing.T) {
	pool := testutil.NewTestDB(t)
	store := NewMailStore(pool)
	ctx := context.Background()

	userID, err := store.ResolveUser(ctx, "carol@verygoodmail.test")
	require.NoError(t, err)
	otherID, err := store.ResolveUser(ctx, "dave@verygoodmail.test")
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	older := newMessage(userID, "older", base)
	newer := newMessage(userID, "newer", base.Add(time.Minute))
	newer.Verdict.Category = models.CategoryPromotions
	foreign := newMessage(otherID, "foreign", base)

	require.NoError(t, store.DeliverToMailbox(ctx, older, "<older@x>"))
	require.NoError(t, store.DeliverToMailbox(ctx, newer, "<newer@x>"))
	require.NoError(t, store.DeliverToMailbox(ctx, foreign, "<foreign@x>"))

	threads, err := store.ListThreads(ctx, userID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "newer", threads[0].Subject)
	assert.Equal(t, "older", threads[1].Subject)

	promos, err := store.ListThreads(ctx, userID, models.CategoryPromotions, 10, 0)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, "newer", promos[0].Subject)

	corpus, err := store.ListSearchCorpus(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, corpus, 2)

	capped, err := store.ListSearchCorpus(ctx, userID, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	require.NoError(t, store.TrashThread(ctx, userID, older.ThreadID))
	threads, err = store.ListThreads(ctx, userID, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, threads, 1)

	corpus, err = store.ListSearchCorpus(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, corpus, 1)
	assert.Equal(t, "newer", corpus[0].Subject)

	err = store.TrashThread(ctx, otherID, newer.ThreadID)
	assert.ErrorIs(t, err, ErrThreadNotFound, "owners cannot trash each other's threads")
}

func TestMailStore_PurgeTrashed(t *testing.T) {
	pool := testutil.NewTestDB(t)
	store := NewMailStore(pool)
	ctx := context.Background()

	userID, err := store.ResolveUser(ctx, "erin@verygoodmail.test")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }

	stale := newMessage(userID, "stale", now)
	stale.Attachments = []models.Attachment{{
		Filename: "x.pdf", MimeType: "application/pdf", SizeBytes: 1,
		StoragePath: "stale/x.pdf", URL: "/attachments/stale/x.pdf",
	}}
	require.NoError(t, store.DeliverToMailbox(ctx, stale, "<stale@x>"))
	require.NoError(t, store.TrashThread(ctx, userID, stale.ThreadID))

	store.now = func() time.Time { return now }
	recent := newMessage(userID, "recent", now)
	require.NoError(t, store.DeliverToMailbox(ctx, recent, "<recent@x>"))
	require.NoError(t, store.TrashThread(ctx, userID, recent.ThreadID))

	count, paths, err := store.PurgeTrashed(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []string{"stale/x.pdf"}, paths)

	_, err = GetMessageByID(ctx, pool, userID, stale.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = GetMessageByID(ctx, pool, userID, recent.ID)
	assert.NoError(t, err)
}

func TestWithTx(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := GetOrCreateUser(ctx, tx, "rolledback@verygoodmail.test"); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = GetUserIDByEmail(ctx, pool, "rolledback@verygoodmail.test")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNewConnectionInvalidConfig(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "127.0.0.1",
		DBPort:     "1",
		DBUsername: "nobody",
		DBPassword: "nothing",
		DBName:     "missing",
		DBSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := NewConnection(ctx, cfg)
	assert.Error(t, err)
	assert.Nil(t, pool)
}
