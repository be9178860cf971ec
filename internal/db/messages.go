package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	id, thread_id, user_id, message_id_header,
	from_name, from_address, to_addresses, cc_addresses, bcc_addresses,
	subject, body_text, body_html, snippet,
	category, is_spam, spam_score, sentiment, confidence, verdict_source,
	is_read, is_starred, is_draft, is_sent,
	sent_at, received_at, trashed_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.UserID,
		&msg.MessageIDHeader,
		&msg.FromName,
		&msg.FromAddress,
		&msg.ToAddresses,
		&msg.CCAddresses,
		&msg.BCCAddresses,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.Snippet,
		&msg.Verdict.Category,
		&msg.Verdict.IsSpam,
		&msg.Verdict.SpamScore,
		&msg.Verdict.Sentiment,
		&msg.Verdict.Confidence,
		&msg.Verdict.Source,
		&msg.IsRead,
		&msg.IsStarred,
		&msg.IsDraft,
		&msg.IsSent,
		&msg.SentAt,
		&msg.ReceivedAt,
		&msg.TrashedAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// InsertMessage stores a new message row. The message must already carry its
// thread and owner ids; content columns are written exactly as given.
func InsertMessage(ctx context.Context, q Querier, msg *models.Message) error {
	err := q.QueryRow(ctx, `
		INSERT INTO messages (
			thread_id, user_id, message_id_header,
			from_name, from_address, to_addresses, cc_addresses, bcc_addresses,
			subject, body_text, body_html, snippet,
			category, is_spam, spam_score, sentiment, confidence, verdict_source,
			is_read, is_starred, is_draft, is_sent,
			sent_at, received_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24
		)
		RETURNING id, created_at, updated_at
	`,
		msg.ThreadID, msg.UserID, msg.MessageIDHeader,
		msg.FromName, msg.FromAddress, nonNil(msg.ToAddresses), nonNil(msg.CCAddresses), nonNil(msg.BCCAddresses),
		msg.Subject, msg.BodyText, msg.BodyHTML, msg.Snippet,
		string(msg.Verdict.Category), msg.Verdict.IsSpam, msg.Verdict.SpamScore,
		string(msg.Verdict.Sentiment), msg.Verdict.Confidence, string(msg.Verdict.Source),
		msg.IsRead, msg.IsStarred, msg.IsDraft, msg.IsSent,
		msg.SentAt, msg.ReceivedAt,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessageByID returns the owner's message with the given id.
func GetMessageByID(ctx context.Context, q Querier, userID, messageID string) (*models.Message, error) {
	msg, err := scanMessage(q.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND user_id = $2
	`, messageID, userID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessagesForThread returns all messages of a thread in arrival order.
func GetMessagesForThread(ctx context.Context, q Querier, threadID string) ([]*models.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return collectMessages(rows)
}

// ListSearchCorpus returns up to limit of the owner's non-trashed messages,
// newest first. Content columns are returned as stored.
func ListSearchCorpus(ctx context.Context, q Querier, userID string, limit int) ([]*models.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE user_id = $1 AND trashed_at IS NULL AND is_draft = false
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list search corpus: %w", err)
	}
	return collectMessages(rows)
}

// SetMessageFlags updates the read and starred flags of the owner's message.
func SetMessageFlags(ctx context.Context, q Querier, userID, messageID string, isRead, isStarred bool) error {
	tag, err := q.Exec(ctx, `
		UPDATE messages SET is_read = $3, is_starred = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, messageID, userID, isRead, isStarred)
	if err != nil {
		return fmt.Errorf("failed to set message flags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// InsertAttachment stores an attachment row for an existing message.
func InsertAttachment(ctx context.Context, q Querier, attachment *models.Attachment) error {
	err := q.QueryRow(ctx, `
		INSERT INTO attachments (message_id, filename, mime_type, size_bytes, is_inline, content_id, storage_path, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, attachment.MessageID, attachment.Filename, attachment.MimeType, attachment.SizeBytes,
		attachment.IsInline, attachment.ContentID, attachment.StoragePath, attachment.URL).Scan(&attachment.ID)

	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

// GetAttachmentsForMessages returns the attachments of several messages in one
// query, keyed by message id.
func GetAttachmentsForMessages(ctx context.Context, q Querier, messageIDs []string) (map[string][]models.Attachment, error) {
	result := make(map[string][]models.Attachment)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, message_id, filename, mime_type, size_bytes, is_inline, content_id, storage_path, url
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, id
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.IsInline,
			&att.ContentID,
			&att.StoragePath,
			&att.URL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		result[att.MessageID] = append(result[att.MessageID], att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}
	return result, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
