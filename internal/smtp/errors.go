package smtp

import (
	"context"
	"errors"
	"net"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
)

// ErrorKind classifies submission failures into what the sender can act on.
type ErrorKind string

const (
	KindAuthFailed        ErrorKind = "auth_failed"
	KindRecipientRejected ErrorKind = "recipient_rejected"
	KindMessageTooLarge   ErrorKind = "message_too_large"
	KindDomainNotFound    ErrorKind = "domain_not_found"
	KindTimeout           ErrorKind = "timeout"
	KindConnection        ErrorKind = "connection_failed"
	KindInvalidMessage    ErrorKind = "invalid_message"
	KindUnknown           ErrorKind = "unknown"
)

var kindMessages = map[ErrorKind]string{
	KindAuthFailed:        "The mail server rejected our credentials.",
	KindRecipientRejected: "One or more recipient addresses were rejected.",
	KindMessageTooLarge:   "The message is too large to send.",
	KindDomainNotFound:    "The recipient's mail domain could not be found.",
	KindTimeout:           "The mail server did not respond in time.",
	KindConnection:        "Could not connect to the mail server.",
	KindInvalidMessage:    "The message could not be built.",
	KindUnknown:           "The message could not be sent.",
}

// SendError is the only error shape callers see. The transport error is kept
// for logs but never shown to users.
type SendError struct {
	Kind    ErrorKind
	Message string
	err     error
}

func newSendError(kind ErrorKind, err error) *SendError {
	return &SendError{Kind: kind, Message: kindMessages[kind], err: err}
}

func (e *SendError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *SendError) Unwrap() error {
	return e.err
}

// Retryable reports whether another attempt could succeed.
func (e *SendError) Retryable() bool {
	switch e.Kind {
	case KindAuthFailed, KindRecipientRejected, KindMessageTooLarge, KindDomainNotFound, KindInvalidMessage:
		return false
	}
	return true
}

// classifyError maps a transport error onto the taxonomy.
func classifyError(err error) *SendError {
	if err == nil {
		return nil
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return newSendError(kindForSMTP(smtpErr), err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return newSendError(KindTimeout, err)
		}
		return newSendError(KindDomainNotFound, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newSendError(KindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newSendError(KindTimeout, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newSendError(KindConnection, err)
	}

	if strings.Contains(strings.ToLower(err.Error()), "authentication") {
		return newSendError(KindAuthFailed, err)
	}

	return newSendError(KindUnknown, err)
}

func kindForSMTP(e *gosmtp.SMTPError) ErrorKind {
	enhanced := e.EnhancedCode
	switch {
	case e.Code == 535 || e.Code == 534 || e.Code == 530:
		return KindAuthFailed
	case enhanced[0] != 0 && enhanced[1] == 7 && enhanced[2] == 8:
		return KindAuthFailed
	case e.Code == 552 || (enhanced[1] == 3 && enhanced[2] == 4):
		return KindMessageTooLarge
	case enhanced[1] == 1 && enhanced[2] == 2:
		return KindDomainNotFound
	case e.Code == 550 || e.Code == 551 || e.Code == 553:
		return KindRecipientRejected
	case e.Code == 421:
		return KindConnection
	}

	if strings.Contains(strings.ToLower(e.Message), "authentication") {
		return KindAuthFailed
	}
	return KindUnknown
}
