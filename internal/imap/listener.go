package imap

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/delivery"
	"github.com/imnothoan/verygoodmail/internal/metrics"
)

// State is the listener's position in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateIdleListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateIdleListening:
		return "idle_listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Deliverer takes parsed inbound mail. delivery.Orchestrator implements it.
type Deliverer interface {
	DeliverInbound(ctx context.Context, env delivery.Envelope, candidates []string) (delivery.Report, error)
}

type ListenerConfig struct {
	// Mailbox labels logs and metrics, usually the IMAP username.
	Mailbox  string
	CatchAll bool

	Backoff     Backoff
	MaxAttempts int
	// IdleRenewal is how long one IDLE command may run before it is renewed.
	IdleRenewal        time.Duration
	ProcessedCacheSize int
	CleanupInterval    time.Duration
}

func (c *ListenerConfig) setDefaults() {
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 5 * time.Second
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = 2
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.IdleRenewal <= 0 {
		c.IdleRenewal = 25 * time.Minute
	}
	if c.ProcessedCacheSize <= 0 {
		c.ProcessedCacheSize = 1000
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
}

// Status is a point-in-time view of the listener.
type Status struct {
	State         State         `json:"-"`
	StateName     string        `json:"state"`
	Connected     bool          `json:"connected"`
	Listening     bool          `json:"listening"`
	Attempt       int           `json:"reconnect_attempt"`
	Backoff       time.Duration `json:"backoff_delay"`
	LastMessageAt time.Time     `json:"last_message_at"`
	Processed     int           `json:"processed_ids"`
}

// Listener keeps one IMAP session alive and feeds new INBOX mail into the
// delivery pipeline. Run drives a state machine with one transition function
// per state; per-message failures are logged and never leave the loop.
type Listener struct {
	cfg       ListenerConfig
	dialer    Dialer
	deliverer Deliverer
	logger    *zap.Logger

	// sessionMu is held for a whole catch-up pass or IDLE cycle. The cache
	// cleanup takes it too, so the two never overlap.
	sessionMu   sync.Mutex
	processed   *processedCache
	uidValidity uint32

	// mu guards the fields below, read by Status and Stop.
	mu            sync.RWMutex
	session       Session
	state         State
	attempt       int
	backoff       time.Duration
	lastMessageAt time.Time

	processedCount  atomic.Int64
	shouldReconnect atomic.Bool
	restart         chan struct{}
	wake            chan struct{}
	now             func() time.Time
	// wait sleeps between reconnect attempts; tests replace it.
	wait func(ctx context.Context, d time.Duration) bool
}

func NewListener(cfg ListenerConfig, dialer Dialer, deliverer Deliverer, logger *zap.Logger) *Listener {
	cfg.setDefaults()
	l := &Listener{
		cfg:       cfg,
		dialer:    dialer,
		deliverer: deliverer,
		logger:    logger.Named("imap.listener").With(zap.String("mailbox", cfg.Mailbox)),
		processed: newProcessedCache(cfg.ProcessedCacheSize),
		state:     StateDisconnected,
		restart:   make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
	l.wait = l.sleep
	l.shouldReconnect.Store(true)
	return l
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.runCleanup(ctx)
	}()
	defer wg.Wait()

	state := StateConnecting
	if !l.shouldReconnect.Load() {
		state = StateStopped
	}
	l.setState(state)

	for {
		var next State
		switch state {
		case StateDisconnected:
			next = l.onDisconnected(ctx)
		case StateConnecting:
			next = l.onConnecting(ctx)
		case StateConnected:
			next = l.onConnected(ctx)
		case StateIdleListening:
			next = l.onIdleListening(ctx)
		case StateStopped:
			next = l.onStopped(ctx)
		}

		if ctx.Err() != nil {
			l.shouldReconnect.Store(false)
			l.closeSession()
			l.setState(StateStopped)
			return nil
		}

		if next != state {
			l.logger.Debug("state change", zap.Stringer("from", state), zap.Stringer("to", next))
		}
		state = next
		l.setState(state)
	}
}

// Stop ends the current session and keeps the listener from reconnecting
// until Restart. The listener ends up in StateStopped.
func (l *Listener) Stop() {
	l.shouldReconnect.Store(false)
	l.interrupt()
}

// Restart resumes a stopped listener with a fresh attempt budget.
func (l *Listener) Restart() {
	select {
	case <-l.wake:
	default:
	}
	l.shouldReconnect.Store(true)
	select {
	case l.restart <- struct{}{}:
	default:
	}
}

func (l *Listener) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Status{
		State:         l.state,
		StateName:     l.state.String(),
		Connected:     l.state == StateConnected || l.state == StateIdleListening,
		Listening:     l.state == StateIdleListening,
		Attempt:       l.attempt,
		Backoff:       l.backoff,
		LastMessageAt: l.lastMessageAt,
		Processed:     int(l.processedCount.Load()),
	}
}

// Ready reports an error unless the listener holds a live session. It has
// the shape of a readiness check.
func (l *Listener) Ready() error {
	if status := l.Status(); !status.Connected {
		return fmt.Errorf("imap listener for %s is %s", l.cfg.Mailbox, status.StateName)
	}
	return nil
}

// onDisconnected waits out the backoff before the next attempt, or gives up
// once the attempt budget is spent.
func (l *Listener) onDisconnected(ctx context.Context) State {
	l.closeSession()

	if !l.shouldReconnect.Load() {
		return StateStopped
	}

	l.mu.Lock()
	attempt := l.attempt
	if attempt >= l.cfg.MaxAttempts {
		l.mu.Unlock()
		l.logger.Error("giving up after repeated connection failures; restart required",
			zap.Int("attempts", attempt),
		)
		return StateStopped
	}
	delay := l.cfg.Backoff.Delay(attempt)
	l.attempt = attempt + 1
	l.backoff = delay
	l.mu.Unlock()

	metrics.ListenerReconnects.WithLabelValues(l.cfg.Mailbox).Inc()
	l.logger.Info("reconnecting after backoff",
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)

	if !l.wait(ctx, delay) || !l.shouldReconnect.Load() {
		return StateStopped
	}
	return StateConnecting
}

func (l *Listener) onConnecting(ctx context.Context) State {
	session, err := l.dialer.Dial(ctx)
	if err != nil {
		l.logger.Warn("failed to connect", zap.Error(err))
		return StateDisconnected
	}

	validity, err := session.SelectInbox(ctx)
	if err != nil {
		l.logger.Warn("failed to open inbox", zap.Error(err))
		_ = session.Close()
		return StateDisconnected
	}

	l.mu.Lock()
	l.session = session
	l.attempt = 0
	l.backoff = 0
	l.mu.Unlock()

	l.sessionMu.Lock()
	if l.uidValidity != 0 && l.uidValidity != validity {
		// UIDs from the old epoch no longer identify the same messages.
		l.logger.Info("uidvalidity changed", zap.Uint32("old", l.uidValidity), zap.Uint32("new", validity))
	}
	l.uidValidity = validity
	l.sessionMu.Unlock()

	// Stop may have raced with the dial.
	if !l.shouldReconnect.Load() {
		return StateDisconnected
	}

	l.logger.Info("connected")
	return StateConnected
}

// onConnected runs the catch-up pass over mail that arrived while we were
// away.
func (l *Listener) onConnected(ctx context.Context) State {
	session := l.currentSession()
	if session == nil {
		return StateDisconnected
	}

	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()

	uids, err := session.UnseenUIDs(ctx)
	if err != nil {
		l.logger.Warn("catch-up search failed", zap.Error(err))
		return StateDisconnected
	}

	if len(uids) > 0 {
		l.logger.Info("catching up on unseen mail", zap.Int("count", len(uids)))
	}
	for _, uid := range uids {
		if ctx.Err() != nil {
			return StateStopped
		}
		l.processUID(ctx, session, uid)
	}
	return StateIdleListening
}

// onIdleListening runs one IDLE cycle.
func (l *Listener) onIdleListening(ctx context.Context) State {
	session := l.currentSession()
	if session == nil {
		return StateDisconnected
	}

	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()

	outcome, err := session.Idle(ctx, l.cfg.IdleRenewal)
	if err != nil {
		if ctx.Err() != nil || !l.shouldReconnect.Load() {
			return StateStopped
		}
		l.logger.Warn("idle failed", zap.Error(err))
		return StateDisconnected
	}

	switch outcome {
	case IdleShutdown:
		return StateStopped
	case IdleTimeout:
		l.logger.Debug("renewing idle")
		return StateIdleListening
	}

	uid, err := session.NewestUID(ctx)
	if err != nil {
		l.logger.Warn("failed to find newest message", zap.Error(err))
		return StateDisconnected
	}
	if uid != 0 {
		l.processUID(ctx, session, uid)
	}
	return StateIdleListening
}

// onStopped waits for Restart.
func (l *Listener) onStopped(ctx context.Context) State {
	l.closeSession()

	select {
	case <-ctx.Done():
		return StateStopped
	case <-l.restart:
		l.mu.Lock()
		l.attempt = 0
		l.backoff = 0
		l.mu.Unlock()
		l.logger.Info("restarting")
		return StateConnecting
	}
}

// processUID delivers one message and marks it seen. Fetch errors, delivery
// errors and failed copies leave the message unseen so a later catch-up pass
// retries it.
// The caller holds sessionMu.
func (l *Listener) processUID(ctx context.Context, session Session, uid uint32) {
	uidKey := fmt.Sprintf("uid:%d:%d", l.uidValidity, uid)
	logger := l.logger.With(zap.Uint32("uid", uid))

	if l.processed.Contains(uidKey) {
		metrics.ListenerMessages.WithLabelValues("duplicate").Inc()
		return
	}

	raw, err := session.FetchRaw(ctx, uid)
	if err != nil {
		logger.Warn("failed to fetch message", zap.Error(err))
		metrics.ListenerMessages.WithLabelValues("fetch_error").Inc()
		return
	}

	parsed, err := ParseMessage(raw, l.cfg.CatchAll)
	if err != nil {
		logger.Warn("failed to parse message", zap.Error(err))
		metrics.ListenerMessages.WithLabelValues("parse_error").Inc()
		// Unparseable mail would be retried forever; record and skip it.
		l.remember(uidKey)
		l.markSeen(ctx, session, uid, logger)
		return
	}

	idKey := "msgid:" + parsed.Envelope.MessageID
	if parsed.Envelope.MessageID != "" && l.processed.Contains(idKey) {
		metrics.ListenerMessages.WithLabelValues("duplicate").Inc()
		l.remember(uidKey)
		l.markSeen(ctx, session, uid, logger)
		return
	}

	// Copies that landed on an earlier attempt are keyed per address so a
	// retry only writes the missing ones.
	copyBase := uidKey
	if parsed.Envelope.MessageID != "" {
		copyBase = idKey
	}
	candidates := l.pendingCandidates(copyBase, parsed.Candidates)

	report, err := l.deliverer.DeliverInbound(ctx, parsed.Envelope, candidates)
	if err != nil {
		logger.Error("delivery failed", zap.String("message_id", parsed.Envelope.MessageID), zap.Error(err))
		metrics.ListenerMessages.WithLabelValues("delivery_error").Inc()
		return
	}

	for _, addr := range report.Unresolved {
		logger.Info("no mailbox for recipient", zap.String("address", addr))
	}
	if len(report.Failed) > 0 {
		delivered := make([]string, 0, len(report.Delivered))
		for addr := range report.Delivered {
			delivered = append(delivered, copyKey(copyBase, addr))
		}
		l.remember(delivered...)
		logger.Warn("some copies failed, leaving message unseen",
			zap.String("message_id", parsed.Envelope.MessageID),
			zap.Strings("addresses", report.Failed),
			zap.Int("copies", len(report.Delivered)),
		)
		metrics.ListenerMessages.WithLabelValues("delivery_error").Inc()
		return
	}

	if parsed.Envelope.MessageID != "" {
		l.remember(uidKey, idKey)
	} else {
		l.remember(uidKey)
	}
	l.markSeen(ctx, session, uid, logger)

	l.mu.Lock()
	l.lastMessageAt = l.now()
	l.mu.Unlock()

	metrics.ListenerMessages.WithLabelValues("delivered").Inc()
	logger.Info("message delivered",
		zap.String("message_id", parsed.Envelope.MessageID),
		zap.Int("copies", len(report.Delivered)),
	)
}

func (l *Listener) markSeen(ctx context.Context, session Session, uid uint32, logger *zap.Logger) {
	if err := session.MarkSeen(ctx, uid); err != nil {
		logger.Warn("failed to mark message seen", zap.Error(err))
	}
}

func (l *Listener) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Listener) cleanup() {
	l.sessionMu.Lock()
	evicted := l.processed.Trim()
	l.processedCount.Store(int64(l.processed.Len()))
	l.sessionMu.Unlock()

	if evicted > 0 {
		l.logger.Debug("trimmed processed-id cache", zap.Int("evicted", evicted))
	}
}

// remember records keys in the processed cache. The caller holds sessionMu.
// pendingCandidates drops the candidates whose copy is already stored.
func (l *Listener) pendingCandidates(base string, candidates []string) []string {
	pending := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		addr := candidate
		if parsed, err := mail.ParseAddress(candidate); err == nil {
			addr = parsed.Address
		}
		if l.processed.Contains(copyKey(base, addr)) {
			continue
		}
		pending = append(pending, candidate)
	}
	return pending
}

func copyKey(base, address string) string {
	return base + ":" + strings.ToLower(address)
}

func (l *Listener) remember(keys ...string) {
	for _, key := range keys {
		if key != "" {
			l.processed.Add(key)
		}
	}
	l.processedCount.Store(int64(l.processed.Len()))
}

func (l *Listener) setState(state State) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	metrics.ListenerState.WithLabelValues(l.cfg.Mailbox).Set(float64(state))
}

func (l *Listener) currentSession() Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

func (l *Listener) closeSession() {
	l.mu.Lock()
	session := l.session
	l.session = nil
	l.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			l.logger.Debug("error closing session", zap.Error(err))
		}
	}
}

// interrupt breaks a running IDLE or backoff wait so the loop notices Stop.
func (l *Listener) interrupt() {
	select {
	case l.wake <- struct{}{}:
	default:
	}

	l.mu.RLock()
	session := l.session
	l.mu.RUnlock()
	if session != nil {
		_ = session.Close()
	}
}

// sleep waits d. It returns false when interrupted by ctx or Stop.
func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return false
	case <-timer.C:
		return true
	}
}
