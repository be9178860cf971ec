package models

import "time"

// Category is the inbox tab a message is filed under.
type Category string

const (
	CategoryPrimary    Category = "primary"
	CategoryImportant  Category = "important"
	CategorySocial     Category = "social"
	CategoryPromotions Category = "promotions"
	CategoryUpdates    Category = "updates"
	CategorySpam       Category = "spam"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryPrimary,
	CategoryImportant,
	CategorySocial,
	CategoryPromotions,
	CategoryUpdates,
	CategorySpam,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// VerdictSource records which classifier tier produced a verdict.
type VerdictSource string

const (
	SourceRemoteModel VerdictSource = "remote_model"
	SourceLocalModel  VerdictSource = "local_model"
	SourceNone        VerdictSource = "none"
)

// Verdict is the immutable classification attached to a message.
type Verdict struct {
	Category   Category      `json:"category"`
	IsSpam     bool          `json:"is_spam"`
	SpamScore  float64       `json:"spam_score"`
	Sentiment  Sentiment     `json:"sentiment"`
	Confidence float64       `json:"confidence"`
	Source     VerdictSource `json:"source"`
}

type Thread struct {
	ID             string     `json:"id"`
	StableThreadID string     `json:"stable_thread_id"`
	Subject        string     `json:"subject"`
	UserID         string     `json:"user_id"`
	Snippet        string     `json:"snippet"`
	LastMessageAt  time.Time  `json:"last_message_at"`
	TrashedAt      *time.Time `json:"trashed_at,omitempty"`
	Messages       []Message  `json:"messages,omitempty"`
}

type Message struct {
	ID              string     `json:"id"`
	ThreadID        string     `json:"thread_id"`
	UserID          string     `json:"user_id"`
	MessageIDHeader string     `json:"message_id_header"`
	FromName        string     `json:"from_name"`
	FromAddress     string     `json:"from_address"`
	ToAddresses     []string   `json:"to_addresses"`
	CCAddresses     []string   `json:"cc_addresses"`
	BCCAddresses    []string   `json:"bcc_addresses,omitempty"`
	Subject         string     `json:"subject"`
	BodyText        string     `json:"body_text"`
	BodyHTML        string     `json:"body_html,omitempty"`
	Snippet         string     `json:"snippet"`
	Verdict         Verdict    `json:"verdict"`
	IsRead          bool       `json:"is_read"`
	IsStarred       bool       `json:"is_starred"`
	IsDraft         bool       `json:"is_draft"`
	IsSent          bool       `json:"is_sent"`
	SentAt          *time.Time `json:"sent_at"`
	ReceivedAt      *time.Time `json:"received_at"`
	TrashedAt       *time.Time `json:"trashed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	IsInline  bool   `json:"is_inline"`
	ContentID string `json:"content_id,omitempty"`
	// StoragePath is the object-store key; URL is what clients download from.
	StoragePath string `json:"-"`
	URL         string `json:"url"`
	// Content is only populated in flight and never persisted in the row.
	Content []byte `json:"-"`
}
