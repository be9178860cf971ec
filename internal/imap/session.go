package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

const (
	inbox = "INBOX"

	dialTimeout   = 10 * time.Second
	logoutTimeout = 2 * time.Second
	// idlePollInterval is used when the server lacks IDLE and the idle
	// client falls back to polling with NOOP.
	idlePollInterval = time.Minute
)

// IdleOutcome is why an IDLE cycle ended without an error.
type IdleOutcome int

const (
	// IdleNewMail means the server announced new messages.
	IdleNewMail IdleOutcome = iota
	// IdleTimeout means the renewal interval elapsed.
	IdleTimeout
	// IdleShutdown means the context was cancelled.
	IdleShutdown
)

// errIdleEnded is returned when the server ends IDLE on its own.
var errIdleEnded = errors.New("idle ended unexpectedly")

// Session is one logged-in connection to the remote mailbox.
type Session interface {
	// SelectInbox opens INBOX read-write and returns its UIDVALIDITY.
	SelectInbox(ctx context.Context) (uint32, error)
	UnseenUIDs(ctx context.Context) ([]uint32, error)
	// NewestUID returns the UID of the last message in INBOX, or 0 if empty.
	NewestUID(ctx context.Context) (uint32, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	// Idle blocks until new mail, the renewal interval, ctx cancellation or
	// a connection error.
	Idle(ctx context.Context, renewal time.Duration) (IdleOutcome, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// ServerDialer connects to a real IMAP server.
type ServerDialer struct {
	Address  string
	Username string
	Password string
	UseTLS   bool
	// TLSConfig is used when UseTLS is set. Nil means the default config.
	TLSConfig *tls.Config
}

func (d *ServerDialer) Dial(ctx context.Context) (Session, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if d.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, d.Address, d.TLSConfig)
	} else {
		c, err = client.DialWithDialer(dialer, d.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.Address, err)
	}

	if err := c.Login(d.Username, d.Password); err != nil {
		_ = c.Terminate()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	return newClientSession(c), nil
}

// clientSession adapts a go-imap client. The client writes unilateral
// updates to a channel with blocking sends, so a forwarder drains it and turns
// mailbox updates into a coalesced new-mail signal.
type clientSession struct {
	c       *client.Client
	idle    *idle.Client
	newMail chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newClientSession(c *client.Client) *clientSession {
	s := &clientSession{
		c:       c,
		idle:    idle.NewClient(c),
		newMail: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	// Renewal is driven by Idle's own timer.
	s.idle.LogoutTimeout = 0

	updates := make(chan client.Update, 32)
	c.Updates = updates
	go s.forward(updates)
	return s
}

func (s *clientSession) forward(updates <-chan client.Update) {
	for {
		select {
		case <-s.closed:
			return
		case u := <-updates:
			if mu, ok := u.(*client.MailboxUpdate); ok && mu.Mailbox != nil {
				select {
				case s.newMail <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (s *clientSession) SelectInbox(_ context.Context) (uint32, error) {
	status, err := s.c.Select(inbox, false)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", inbox, err)
	}
	// Messages present at select time are handled by the catch-up pass.
	s.drainSignal()
	return status.UidValidity, nil
}

func (s *clientSession) UnseenUIDs(_ context.Context) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}
	return uids, nil
}

func (s *clientSession) NewestUID(_ context.Context) (uint32, error) {
	mbox := s.c.Mailbox()
	if mbox == nil {
		return 0, errors.New("no mailbox selected")
	}
	if mbox.Messages == 0 {
		return 0, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(mbox.Messages)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uid uint32
	for msg := range messages {
		uid = msg.Uid
	}
	if err := <-done; err != nil {
		return 0, fmt.Errorf("failed to fetch newest message: %w", err)
	}
	return uid, nil
}

func (s *clientSession) FetchRaw(_ context.Context, uid uint32) ([]byte, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// PEEK so fetching does not set \Seen; that happens after delivery.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", uid, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}
	return raw, nil
}

func (s *clientSession) MarkSeen(_ context.Context, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %d seen: %w", uid, err)
	}
	return nil
}

func (s *clientSession) Idle(ctx context.Context, renewal time.Duration) (IdleOutcome, error) {
	// Mail announced since the last cycle is handled without idling.
	select {
	case <-s.newMail:
		return IdleNewMail, nil
	default:
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.idle.IdleWithFallback(stop, idlePollInterval)
	}()

	timer := time.NewTimer(renewal)
	defer timer.Stop()

	finish := func(outcome IdleOutcome) (IdleOutcome, error) {
		close(stop)
		if err := <-done; err != nil {
			return outcome, fmt.Errorf("failed to end idle: %w", err)
		}
		return outcome, nil
	}

	select {
	case <-ctx.Done():
		return finish(IdleShutdown)
	case <-timer.C:
		return finish(IdleTimeout)
	case <-s.newMail:
		return finish(IdleNewMail)
	case err := <-done:
		if err == nil {
			err = errIdleEnded
		}
		return 0, fmt.Errorf("idle failed: %w", err)
	}
}

// Close logs out, dropping the connection if the server does not answer in
// time (for instance because an IDLE is still running).
func (s *clientSession) Close() error {
	var err error
	s.once.Do(func() {
		defer close(s.closed)

		done := make(chan error, 1)
		go func() { done <- s.c.Logout() }()

		select {
		case err = <-done:
			if errors.Is(err, client.ErrAlreadyLoggedOut) {
				err = nil
			}
		case <-time.After(logoutTimeout):
			err = s.c.Terminate()
		}
	})
	return err
}

func (s *clientSession) drainSignal() {
	select {
	case <-s.newMail:
	default:
	}
}
