package imap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/delivery"
)

// fakeSession serves messages from memory. Idle returns queued outcomes and
// otherwise blocks until ctx is done or the session is closed.
type fakeSession struct {
	mu       sync.Mutex
	messages map[uint32][]byte
	unseen   []uint32
	newest   uint32
	seen     []uint32
	outcomes chan IdleOutcome
	idleErr  error
	closed   chan struct{}
	once     sync.Once
}

func newFakeSession(messages map[uint32][]byte, unseen ...uint32) *fakeSession {
	return &fakeSession{
		messages: messages,
		unseen:   unseen,
		outcomes: make(chan IdleOutcome, 8),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSession) SelectInbox(context.Context) (uint32, error) { return 7, nil }

func (s *fakeSession) UnseenUIDs(context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.unseen...), nil
}

func (s *fakeSession) NewestUID(context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest, nil
}

func (s *fakeSession) FetchRaw(_ context.Context, uid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.messages[uid]
	if !ok {
		return nil, fmt.Errorf("no message %d", uid)
	}
	return raw, nil
}

func (s *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, uid)
	return nil
}

func (s *fakeSession) Seen() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.seen...)
}

func (s *fakeSession) Idle(ctx context.Context, _ time.Duration) (IdleOutcome, error) {
	if s.idleErr != nil {
		return 0, s.idleErr
	}
	select {
	case outcome := <-s.outcomes:
		return outcome, nil
	case <-ctx.Done():
		return IdleShutdown, nil
	case <-s.closed:
		return 0, errors.New("connection closed")
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// scriptedDialer hands out sessions in order; a nil entry is a failed dial.
// Once the script runs out the last entry repeats.
type scriptedDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    int
}

func (d *scriptedDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.dials
	if i >= len(d.sessions) {
		i = len(d.sessions) - 1
	}
	d.dials++

	if d.sessions[i] == nil {
		return nil, errors.New("connection refused")
	}
	return d.sessions[i], nil
}

func (d *scriptedDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingDeliverer fails whole messages listed in fail with an error and
// reports the addresses in failCopies as failed copies, the way the
// orchestrator does when a store write fails.
type recordingDeliverer struct {
	mu         sync.Mutex
	envelopes  []delivery.Envelope
	candidates [][]string
	fail       map[string]bool
	failCopies map[string]bool
}

func (d *recordingDeliverer) DeliverInbound(_ context.Context, env delivery.Envelope, candidates []string) (delivery.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail[env.MessageID] {
		return delivery.Report{}, errors.New("database unavailable")
	}
	d.envelopes = append(d.envelopes, env)
	d.candidates = append(d.candidates, append([]string(nil), candidates...))

	report := delivery.Report{Delivered: map[string]string{}}
	for _, addr := range candidates {
		if d.failCopies[addr] {
			report.Failed = append(report.Failed, addr)
			continue
		}
		report.Delivered[addr] = "msg-" + addr
	}
	return report, nil
}

func (d *recordingDeliverer) SetFailCopies(addrs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCopies = make(map[string]bool)
	for _, addr := range addrs {
		d.failCopies[addr] = true
	}
}

func (d *recordingDeliverer) Candidates() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.candidates...)
}

func (d *recordingDeliverer) MessageIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.envelopes))
	for _, env := range d.envelopes {
		ids = append(ids, env.MessageID)
	}
	return ids
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err() == nil
}

func (r *delayRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func rawMessage(messageID, to string) []byte {
	return []byte("From: Sender <sender@example.org>\r\n" +
		"To: " + to + "\r\n" +
		"Subject: Hello\r\n" +
		"Message-ID: " + messageID + "\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hi there.\r\n")
}

func testListenerConfig() ListenerConfig {
	return ListenerConfig{
		Mailbox:     "catchall@verygoodmail.tech",
		Backoff:     Backoff{Base: time.Second, Multiplier: 2, Max: time.Minute},
		MaxAttempts: 4,
		IdleRenewal: time.Minute,
	}
}

// startListener runs l until the test ends.
func startListener(t *testing.T, l *Listener) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})
}

func waitForState(t *testing.T, l *Listener, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.Status().State == want
	}, 5*time.Second, 5*time.Millisecond, "listener never reached %s", want)
}

func TestListenerCatchUpDeliversUnseenMail(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		1: rawMessage("<one@example.org>", "alice@verygoodmail.tech"),
		2: rawMessage("<two@example.org>", "bob@verygoodmail.tech"),
	}, 1, 2)
	deliverer := &recordingDeliverer{}
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)

	assert.Equal(t, []string{"<one@example.org>", "<two@example.org>"}, deliverer.MessageIDs())
	assert.Equal(t, []uint32{1, 2}, session.Seen())

	status := l.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.Listening)
	assert.Equal(t, "idle_listening", status.StateName)
	assert.Equal(t, 4, status.Processed, "uid and message-id keys for both messages")
	assert.False(t, status.LastMessageAt.IsZero())
	assert.NoError(t, l.Ready())
}

func TestListenerSkipsAlreadyDeliveredMessageID(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		1: rawMessage("<same@example.org>", "alice@verygoodmail.tech"),
		2: rawMessage("<same@example.org>", "alice@verygoodmail.tech"),
	}, 1, 2)
	deliverer := &recordingDeliverer{}
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)

	assert.Equal(t, []string{"<same@example.org>"}, deliverer.MessageIDs())
	assert.Equal(t, []uint32{1, 2}, session.Seen(), "the duplicate is still marked seen")
}

func TestListenerContinuesAfterDeliveryError(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		1: rawMessage("<broken@example.org>", "alice@verygoodmail.tech"),
		2: rawMessage("<fine@example.org>", "alice@verygoodmail.tech"),
	}, 1, 2, 3)
	deliverer := &recordingDeliverer{fail: map[string]bool{"<broken@example.org>": true}}
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)

	assert.Equal(t, []string{"<fine@example.org>"}, deliverer.MessageIDs())
	assert.Equal(t, []uint32{2}, session.Seen(), "failed and missing messages stay unseen for a retry")
}

func TestListenerRetriesFailedCopiesOnly(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		1: rawMessage("<split@example.org>", "alice@verygoodmail.tech, bob@verygoodmail.tech"),
	}, 1)
	deliverer := &recordingDeliverer{}
	deliverer.SetFailCopies("bob@verygoodmail.tech")
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())

	l.processUID(context.Background(), session, 1)

	assert.Empty(t, session.Seen(), "a message with a failed copy stays unseen")
	assert.Zero(t, l.Status().LastMessageAt)

	// The next catch-up pass retries, writing only the copy that failed.
	deliverer.SetFailCopies()
	l.processUID(context.Background(), session, 1)

	assert.Equal(t, []uint32{1}, session.Seen())
	assert.Equal(t, [][]string{
		{"alice@verygoodmail.tech", "bob@verygoodmail.tech"},
		{"bob@verygoodmail.tech"},
	}, deliverer.Candidates())

	// Fully delivered now; a third pass is a duplicate.
	l.processUID(context.Background(), session, 1)
	assert.Len(t, deliverer.Candidates(), 2)
}

func TestListenerKeepsMessageUnseenWhenEveryCopyFails(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		1: rawMessage("<outage@example.org>", "alice@verygoodmail.tech"),
	}, 1)
	deliverer := &recordingDeliverer{}
	deliverer.SetFailCopies("alice@verygoodmail.tech")
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)

	assert.Empty(t, session.Seen())
	assert.Zero(t, l.Status().Processed, "nothing is remembered for a message with no stored copy")
}

func TestListenerDeliversNewMailFromIdle(t *testing.T) {
	session := newFakeSession(map[uint32][]byte{
		5: rawMessage("<new@example.org>", "alice@verygoodmail.tech"),
	})
	deliverer := &recordingDeliverer{}
	l := NewListener(testListenerConfig(), &scriptedDialer{sessions: []*fakeSession{session}}, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)
	assert.Empty(t, deliverer.MessageIDs())

	session.mu.Lock()
	session.newest = 5
	session.mu.Unlock()
	session.outcomes <- IdleTimeout
	session.outcomes <- IdleNewMail

	require.Eventually(t, func() bool {
		return len(deliverer.MessageIDs()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint32{5}, session.Seen())

	// A repeated announcement for the same message is ignored.
	session.outcomes <- IdleNewMail
	require.Eventually(t, func() bool {
		return len(session.outcomes) == 0
	}, 5*time.Second, 5*time.Millisecond)
	waitForState(t, l, StateIdleListening)
	assert.Len(t, deliverer.MessageIDs(), 1)
}

func TestListenerBacksOffAndGivesUp(t *testing.T) {
	dialer := &scriptedDialer{sessions: []*fakeSession{nil}}
	recorder := &delayRecorder{}
	l := NewListener(testListenerConfig(), dialer, &recordingDeliverer{}, zap.NewNop())
	l.wait = recorder.wait
	startListener(t, l)

	waitForState(t, l, StateStopped)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, recorder.Delays())
	assert.Equal(t, 5, dialer.Dials(), "the first attempt plus one per backoff")
	assert.Equal(t, 4, l.Status().Attempt)
	assert.Error(t, l.Ready())
}

func TestListenerResetsBackoffAfterConnecting(t *testing.T) {
	flaky := newFakeSession(nil)
	flaky.idleErr = errors.New("connection reset by peer")
	stable := newFakeSession(nil)

	dialer := &scriptedDialer{sessions: []*fakeSession{nil, nil, flaky, stable}}
	recorder := &delayRecorder{}
	l := NewListener(testListenerConfig(), dialer, &recordingDeliverer{}, zap.NewNop())
	l.wait = recorder.wait
	startListener(t, l)

	require.Eventually(t, func() bool {
		return dialer.Dials() == 4 && l.Status().State == StateIdleListening
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, recorder.Delays())
	assert.True(t, flaky.IsClosed())
	assert.Equal(t, 0, l.Status().Attempt)
}

func TestListenerStopAndRestart(t *testing.T) {
	first := newFakeSession(nil)
	second := newFakeSession(map[uint32][]byte{
		9: rawMessage("<while-stopped@example.org>", "alice@verygoodmail.tech"),
	}, 9)
	dialer := &scriptedDialer{sessions: []*fakeSession{first, second}}
	deliverer := &recordingDeliverer{}
	l := NewListener(testListenerConfig(), dialer, deliverer, zap.NewNop())
	startListener(t, l)

	waitForState(t, l, StateIdleListening)

	l.Stop()
	waitForState(t, l, StateStopped)
	assert.True(t, first.IsClosed())
	assert.Equal(t, 1, dialer.Dials(), "a stopped listener does not reconnect")

	l.Restart()
	waitForState(t, l, StateIdleListening)
	assert.Equal(t, 2, dialer.Dials())
	assert.Equal(t, []string{"<while-stopped@example.org>"}, deliverer.MessageIDs())
}

func TestListenerCleanupTrimsProcessedCache(t *testing.T) {
	cfg := testListenerConfig()
	cfg.ProcessedCacheSize = 4
	l := NewListener(cfg, &scriptedDialer{sessions: []*fakeSession{nil}}, &recordingDeliverer{}, zap.NewNop())

	l.sessionMu.Lock()
	l.remember("a", "b", "c")
	l.sessionMu.Unlock()
	require.Equal(t, 3, l.Status().Processed)

	l.cleanup()

	assert.Equal(t, 2, l.Status().Processed)
	assert.False(t, l.processed.Contains("a"))
	assert.True(t, l.processed.Contains("c"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "idle_listening", StateIdleListening.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(42)", State(42).String())
}
