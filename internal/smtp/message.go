package smtp

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/imnothoan/verygoodmail/internal/models"
)

// Outgoing is a message ready for submission.
type Outgoing struct {
	// FromName and FromAddress are the logical sender, which may differ from
	// the account the transport authenticates as.
	FromName    string
	FromAddress string
	// MessageID is used as the Message-ID header when set; otherwise one is
	// generated on the transport's domain.
	MessageID   string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	InReplyTo   string
	References  []string
	Attachments []models.Attachment
}

// Recipients returns every envelope recipient, deduplicated.
func (o *Outgoing) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{o.To, o.Cc, o.Bcc} {
		for _, raw := range list {
			addr, err := mail.ParseAddress(raw)
			if err != nil {
				continue
			}
			key := strings.ToLower(addr.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr.Address)
		}
	}
	return out
}

// buildMessage renders the MIME message. The From header is always the
// transport identity; a differing logical sender goes into Reply-To so
// replies still reach them.
func buildMessage(msg *Outgoing, transportName, transportAddress string, now time.Time) ([]byte, string, error) {
	messageID := msg.MessageID
	if messageID == "" {
		messageID = NewMessageID(transportAddress)
	}

	fromName := msg.FromName
	if fromName == "" {
		fromName = transportName
	}

	builder := enmime.Builder().
		From(fromName, transportAddress).
		Subject(msg.Subject).
		Date(now).
		Header("Message-ID", messageID).
		ToAddrs(parseList(msg.To)).
		CCAddrs(parseList(msg.Cc)).
		BCCAddrs(parseList(msg.Bcc))

	if msg.FromAddress != "" && !strings.EqualFold(msg.FromAddress, transportAddress) {
		builder = builder.ReplyTo(msg.FromName, msg.FromAddress)
	}
	if msg.InReplyTo != "" {
		builder = builder.Header("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		builder = builder.Header("References", strings.Join(msg.References, " "))
	}

	text := msg.Text
	if text == "" && msg.HTML == "" {
		text = " "
	}
	if text != "" {
		builder = builder.Text([]byte(text))
	}
	if msg.HTML != "" {
		builder = builder.HTML([]byte(msg.HTML))
	}

	for _, a := range msg.Attachments {
		contentType := a.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		builder = builder.AddAttachment(a.Content, contentType, a.Filename)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to encode message: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

func parseList(list []string) []mail.Address {
	out := make([]mail.Address, 0, len(list))
	for _, raw := range list {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			continue
		}
		out = append(out, *addr)
	}
	return out
}

// NewMessageID returns a fresh "<uuid@domain>" id. address may be a full
// address or a bare domain.
func NewMessageID(address string) string {
	domain := "localhost"
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		domain = address[at+1:]
	} else if at < 0 && address != "" {
		domain = address
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
