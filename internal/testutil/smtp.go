package testutil

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by the test SMTP server.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
}

// MemoryBackend is a simple in-memory SMTP backend for testing.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []*ReceivedMessage
	sessions int
	username string
	password string
	rejected map[string]bool
}

func newMemoryBackend(username, password string) *MemoryBackend {
	return &MemoryBackend{
		username: username,
		password: password,
		rejected: make(map[string]bool),
	}
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &memorySession{backend: b}, nil
}

type memorySession struct {
	backend *MemoryBackend
	from    string
	to      []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	rejected := s.backend.rejected[strings.ToLower(to)]
	s.backend.mu.Unlock()

	if rejected {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.messages = append(s.backend.messages, &ReceivedMessage{
		From: s.from,
		To:   s.to,
		Data: data,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer represents a test SMTP server instance.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Host    string
	Port    int
	Backend *MemoryBackend
}

// NewTestSMTPServer starts a plaintext SMTP server on a random local port.
// It accepts PLAIN auth for Username()/Password() only and is closed when the test ends.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	be := newMemoryBackend("sender@verygoodmail.test", "test-pass")

	s := smtp.NewServer(be)
	s.AllowInsecureAuth = true
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	t.Cleanup(func() {
		_ = s.Close()
	})

	addr := listener.Addr().(*net.TCPAddr)
	return &TestSMTPServer{
		Server:  s,
		Address: addr.String(),
		Host:    addr.IP.String(),
		Port:    addr.Port,
		Backend: be,
	}
}

// Username returns the accepted login.
func (s *TestSMTPServer) Username() string {
	return s.Backend.username
}

// Password returns the accepted password.
func (s *TestSMTPServer) Password() string {
	return s.Backend.password
}

// RejectRecipient makes RCPT TO fail with 550 for the address.
func (s *TestSMTPServer) RejectRecipient(address string) {
	s.Backend.mu.Lock()
	defer s.Backend.mu.Unlock()
	s.Backend.rejected[strings.ToLower(address)] = true
}

// Messages returns all messages received by the server.
func (s *TestSMTPServer) Messages() []*ReceivedMessage {
	s.Backend.mu.Lock()
	defer s.Backend.mu.Unlock()
	return append([]*ReceivedMessage(nil), s.Backend.messages...)
}

// Sessions returns how many connections the server has accepted.
func (s *TestSMTPServer) Sessions() int {
	s.Backend.mu.Lock()
	defer s.Backend.mu.Unlock()
	return s.Backend.sessions
}
