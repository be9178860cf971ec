package imap

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/imnothoan/verygoodmail/internal/delivery"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// forwardingHeaders name the original recipient when mail reaches a
// catch-all mailbox through forwarding.
var forwardingHeaders = []string{
	"Delivered-To",
	"X-Original-To",
	"X-Forwarded-To",
	"X-Envelope-To",
	"Envelope-To",
	"Original-Recipient",
}

// ParsedMessage is an inbound message ready for the delivery pipeline.
type ParsedMessage struct {
	Envelope delivery.Envelope
	// Candidates are the recipient addresses found in the headers,
	// deduplicated case-insensitively, not yet filtered by domain.
	Candidates []string
}

// ParseMessage decodes a raw RFC 5322 message. With catchAll set, the
// forwarding headers are read as recipients too.
func ParseMessage(raw []byte, catchAll bool) (*ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedMessage{
		Envelope: delivery.Envelope{
			MessageID:  strings.TrimSpace(env.GetHeader("Message-ID")),
			InReplyTo:  firstMessageID(env.GetHeader("In-Reply-To")),
			References: strings.Fields(env.GetHeader("References")),
			Subject:    env.GetHeader("Subject"),
			Text:       env.Text,
			HTML:       env.HTML,
			To:         formatAddressList(addressList(env, "To")),
			Cc:         formatAddressList(addressList(env, "Cc")),
		},
	}

	if from := addressList(env, "From"); len(from) > 0 {
		parsed.Envelope.FromName = from[0].Name
		parsed.Envelope.FromAddress = strings.ToLower(from[0].Address)
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		parsed.Envelope.Date = date
	}

	for _, part := range env.Attachments {
		parsed.Envelope.Attachments = append(parsed.Envelope.Attachments, attachmentFromPart(part, false))
	}
	for _, part := range env.Inlines {
		parsed.Envelope.Attachments = append(parsed.Envelope.Attachments, attachmentFromPart(part, true))
	}

	parsed.Candidates = Recipients(env, catchAll)
	return parsed, nil
}

// Recipients collects To and Cc addresses and, for catch-all mailboxes, the
// forwarding headers. The result is deduplicated case-insensitively and
// lower-cased.
func Recipients(env *enmime.Envelope, catchAll bool) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(address string) {
		address = strings.ToLower(strings.TrimSpace(address))
		if address == "" || !strings.Contains(address, "@") || seen[address] {
			return
		}
		seen[address] = true
		out = append(out, address)
	}

	for _, header := range []string{"To", "Cc"} {
		for _, addr := range addressList(env, header) {
			add(addr.Address)
		}
	}

	if catchAll {
		for _, header := range forwardingHeaders {
			for _, value := range env.GetHeaderValues(header) {
				for _, addr := range parseForwardingValue(value) {
					add(addr)
				}
			}
		}
	}
	return out
}

// parseForwardingValue reads a forwarding header value, which may be an
// address list, a bare address, or an RFC 3798 "rfc822;addr" form.
func parseForwardingValue(value string) []string {
	value = strings.TrimSpace(value)
	if kind, rest, ok := strings.Cut(value, ";"); ok && strings.EqualFold(strings.TrimSpace(kind), "rfc822") {
		value = strings.TrimSpace(rest)
	}
	if value == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, addr := range list {
			out = append(out, addr.Address)
		}
		return out
	}
	return []string{strings.Trim(value, "<>")}
}

func addressList(env *enmime.Envelope, header string) []*mail.Address {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	return list
}

func formatAddressList(list []*mail.Address) []string {
	out := make([]string, 0, len(list))
	for _, addr := range list {
		switch {
		case addr.Address == "":
			continue
		case addr.Name != "":
			out = append(out, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		default:
			out = append(out, addr.Address)
		}
	}
	return out
}

// firstMessageID returns the first <...> id in value, or value trimmed when
// it has no angle brackets.
func firstMessageID(value string) string {
	value = strings.TrimSpace(value)
	start := strings.Index(value, "<")
	if start < 0 {
		return value
	}
	end := strings.Index(value[start:], ">")
	if end < 0 {
		return value
	}
	return value[start : start+end+1]
}

func attachmentFromPart(part *enmime.Part, inline bool) models.Attachment {
	filename := part.FileName
	if filename == "" {
		filename = "attachment"
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return models.Attachment{
		Filename:  filename,
		MimeType:  contentType,
		SizeBytes: int64(len(part.Content)),
		IsInline:  inline || part.ContentID != "",
		ContentID: part.ContentID,
		Content:   part.Content,
	}
}
