// Package smtp submits outgoing mail to the configured relay.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imnothoan/verygoodmail/internal/metrics"
)

// Options configures the relay connection. Security is one of "tls" (implicit
// TLS), "starttls" or "none".
type Options struct {
	Host          string
	Port          int
	Username      string
	Password      string
	FromName      string
	Security      string
	RatePerSecond float64
	DialTimeout   time.Duration
	SendTimeout   time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	TLSConfig     *tls.Config
}

// Result is the outcome of a submission. Local is true when no relay is
// configured and the message was only stored.
type Result struct {
	Success   bool
	Local     bool
	MessageID string
	Err       *SendError
}

type Dispatcher struct {
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Security == "" {
		opts.Security = "starttls"
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &Dispatcher{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Configured reports whether a relay is set up.
func (d *Dispatcher) Configured() bool {
	return d.opts.Host != "" && d.opts.Username != "" && d.opts.Password != ""
}

// Send makes a single submission attempt.
func (d *Dispatcher) Send(ctx context.Context, msg *Outgoing) Result {
	if !d.Configured() {
		metrics.DispatchResults.WithLabelValues("local").Inc()
		return Result{Success: true, Local: true}
	}

	data, messageID, err := buildMessage(msg, d.opts.FromName, d.opts.Username, d.now())
	if err != nil {
		return d.failure(newSendError(KindInvalidMessage, err))
	}

	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return d.failure(newSendError(KindRecipientRejected, nil))
	}

	if err := d.submit(ctx, recipients, data); err != nil {
		sendErr := classifyError(err)
		d.logger.Warn("smtp submission failed",
			zap.String("kind", string(sendErr.Kind)),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		return d.failure(sendErr)
	}

	metrics.DispatchResults.WithLabelValues("sent").Inc()
	return Result{Success: true, MessageID: messageID}
}

// SendWithRetry retries transient failures with linear backoff
// (attempt × RetryDelay). Permanent failures return immediately.
func (d *Dispatcher) SendWithRetry(ctx context.Context, msg *Outgoing) Result {
	var result Result
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		result = d.Send(ctx, msg)
		if result.Success || !result.Err.Retryable() || attempt == d.opts.MaxAttempts {
			return result
		}

		delay := time.Duration(attempt) * d.opts.RetryDelay
		d.logger.Info("retrying smtp submission",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return d.failure(newSendError(KindTimeout, ctx.Err()))
		case <-time.After(delay):
		}
	}
	return result
}

func (d *Dispatcher) failure(err *SendError) Result {
	metrics.DispatchResults.WithLabelValues(string(err.Kind)).Inc()
	return Result{Err: err}
}

func (d *Dispatcher) submit(ctx context.Context, recipients []string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	client, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Auth(sasl.NewPlainClient("", d.opts.Username, d.opts.Password)); err != nil {
		return err
	}

	if err := client.SendMail(d.opts.Username, recipients, bytes.NewReader(data)); err != nil {
		return err
	}

	return client.Quit()
}

func (d *Dispatcher) dial(ctx context.Context) (*gosmtp.Client, error) {
	addr := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	dialer := &net.Dialer{Timeout: d.opts.DialTimeout}

	tlsConfig := d.opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: d.opts.Host}
	}

	var conn net.Conn
	var err error
	if d.opts.Security == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if d.opts.Security == "starttls" {
		client, err := gosmtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return client, nil
	}

	return gosmtp.NewClient(conn), nil
}
