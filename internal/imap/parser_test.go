package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParseMessage(t *testing.T) {
	t.Run("reads headers and bodies", func(t *testing.T) {
		raw := crlf(
			"From: Alice Example <Alice@Example.org>",
			"To: Bob <bob@verygoodmail.tech>, carol@verygoodmail.tech",
			"Cc: dave@elsewhere.net",
			"Subject: Quarterly numbers",
			"Message-ID: <q3@example.org>",
			"In-Reply-To: <q2@example.org> <q1@example.org>",
			"References: <q1@example.org> <q2@example.org>",
			"Date: Tue, 03 Mar 2026 10:00:00 +0100",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"See attached.",
			"",
		)

		parsed, err := ParseMessage(raw, false)
		require.NoError(t, err)

		env := parsed.Envelope
		assert.Equal(t, "<q3@example.org>", env.MessageID)
		assert.Equal(t, "<q2@example.org>", env.InReplyTo)
		assert.Equal(t, []string{"<q1@example.org>", "<q2@example.org>"}, env.References)
		assert.Equal(t, "Quarterly numbers", env.Subject)
		assert.Equal(t, "Alice Example", env.FromName)
		assert.Equal(t, "alice@example.org", env.FromAddress)
		assert.Equal(t, []string{"Bob <bob@verygoodmail.tech>", "carol@verygoodmail.tech"}, env.To)
		assert.Equal(t, []string{"dave@elsewhere.net"}, env.Cc)
		assert.Contains(t, env.Text, "See attached.")
		assert.True(t, env.Date.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)))
		assert.Equal(t, []string{"bob@verygoodmail.tech", "carol@verygoodmail.tech", "dave@elsewhere.net"}, parsed.Candidates)
	})

	t.Run("collects attachments", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.org",
			"To: bob@verygoodmail.tech",
			"Subject: Report",
			"Message-ID: <report@example.org>",
			"MIME-Version: 1.0",
			`Content-Type: multipart/mixed; boundary="b1"`,
			"",
			"--b1",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Report attached.",
			"--b1",
			`Content-Type: text/csv; name="report.csv"`,
			`Content-Disposition: attachment; filename="report.csv"`,
			"",
			"a,b",
			"1,2",
			"--b1--",
			"",
		)

		parsed, err := ParseMessage(raw, false)
		require.NoError(t, err)

		require.Len(t, parsed.Envelope.Attachments, 1)
		att := parsed.Envelope.Attachments[0]
		assert.Equal(t, "report.csv", att.Filename)
		assert.Equal(t, "text/csv", att.MimeType)
		assert.False(t, att.IsInline)
		assert.Contains(t, string(att.Content), "1,2")
		assert.Equal(t, int64(len(att.Content)), att.SizeBytes)
	})

	t.Run("leaves missing date zero", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.org",
			"To: bob@verygoodmail.tech",
			"Subject: No date",
			"",
			"Body",
		)

		parsed, err := ParseMessage(raw, false)
		require.NoError(t, err)
		assert.True(t, parsed.Envelope.Date.IsZero())
		assert.Empty(t, parsed.Envelope.MessageID)
	})
}

func TestRecipientsCatchAll(t *testing.T) {
	raw := crlf(
		"Delivered-To: catchall@verygoodmail.tech",
		"X-Original-To: Erin@VeryGoodMail.tech",
		"Original-Recipient: rfc822;frank@verygoodmail.tech",
		"From: alice@example.org",
		"To: list@lists.example.org",
		"Subject: Forwarded",
		"",
		"Body",
	)

	t.Run("ignores forwarding headers by default", func(t *testing.T) {
		parsed, err := ParseMessage(raw, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"list@lists.example.org"}, parsed.Candidates)
	})

	t.Run("reads forwarding headers for catch-all mailboxes", func(t *testing.T) {
		parsed, err := ParseMessage(raw, true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"list@lists.example.org",
			"catchall@verygoodmail.tech",
			"erin@verygoodmail.tech",
			"frank@verygoodmail.tech",
		}, parsed.Candidates)
	})
}

func TestParseForwardingValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"bare address", "bob@verygoodmail.tech", []string{"bob@verygoodmail.tech"}},
		{"angle brackets", "<bob@verygoodmail.tech>", []string{"bob@verygoodmail.tech"}},
		{"rfc822 prefix", "rfc822; bob@verygoodmail.tech", []string{"bob@verygoodmail.tech"}},
		{"address list", "Bob <bob@verygoodmail.tech>, carol@verygoodmail.tech", []string{"bob@verygoodmail.tech", "carol@verygoodmail.tech"}},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseForwardingValue(tt.value))
		})
	}
}

func TestFirstMessageID(t *testing.T) {
	assert.Equal(t, "<a@x>", firstMessageID(" <a@x> <b@x>"))
	assert.Equal(t, "a@x", firstMessageID("a@x"))
	assert.Equal(t, "<broken", firstMessageID("<broken"))
	assert.Equal(t, "", firstMessageID(""))
}
