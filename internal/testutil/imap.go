package testutil

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server. The memory backend has a single
// user "username"/"password" whose INBOX already holds one seen message.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
}

// NewTestIMAPServer starts a server on a random local port. It is shut down
// when the test finishes.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		// Serve returns once Close shuts the listener; the test may be over by then.
		_ = s.Serve(listener)
	}()

	srv := &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts the server down. Open client connections are dropped.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

func (s *TestIMAPServer) Username() string { return "username" }
func (s *TestIMAPServer) Password() string { return "password" }

// Connect opens a logged-in client. The returned func logs it out.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.DialWithDialer(&net.Dialer{Timeout: 5 * time.Second}, s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.Username(), s.Password()); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return client, func() { _ = client.Logout() }
}

// AppendRaw stores raw in INBOX and returns its UID. Unless seen is set the
// message stays unread.
func (s *TestIMAPServer) AppendRaw(t *testing.T, raw string, seen bool) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	status, err := client.Select("INBOX", false)
	if err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	uid := status.UidNext

	var flags []string
	if seen {
		flags = []string{imap.SeenFlag}
	}
	if err := client.Append("INBOX", flags, time.Now(), bytes.NewBufferString(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	return uid
}

// AppendMessage stores a simple text/plain message in INBOX and returns its UID.
func (s *TestIMAPServer) AppendMessage(t *testing.T, messageID, from, to, subject, body string, seen bool) uint32 {
	t.Helper()

	raw := strings.Join([]string{
		"Message-ID: " + messageID,
		"Date: " + time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC1123Z),
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
		"",
	}, "\r\n")
	return s.AppendRaw(t, raw, seen)
}

// SeenUIDs returns the UIDs in INBOX carrying the \Seen flag.
func (s *TestIMAPServer) SeenUIDs(t *testing.T) []uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select("INBOX", true); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.SeenFlag}
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	return uids
}

