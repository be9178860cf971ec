// Package delivery runs the per-message pipeline shared by compose and the
// inbound listener: snippet, classify, encrypt, persist, fan out, notify and,
// for compose, hand external recipients to the outbound dispatcher.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imnothoan/verygoodmail/internal/classify"
	"github.com/imnothoan/verygoodmail/internal/metrics"
	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/push"
	"github.com/imnothoan/verygoodmail/internal/smtp"
	"github.com/imnothoan/verygoodmail/internal/textproc"
)

const (
	originCompose = "compose"
	originInbound = "inbound"
)

// ErrNoRecipients is returned when a non-draft compose names nobody.
var ErrNoRecipients = errors.New("message has no valid recipients")

// Store persists one owner's copy of a message together with its thread.
type Store interface {
	DeliverToMailbox(ctx context.Context, msg *models.Message, stableThreadID string) error
}

// Directory maps a local address to its mailbox owner.
type Directory interface {
	LookupOwner(ctx context.Context, address string) (userID string, ok bool, err error)
}

type Classifier interface {
	Classify(ctx context.Context, in classify.Input) models.Verdict
}

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Blobs stores attachment content.
type Blobs interface {
	Put(ctx context.Context, filename string, content []byte) (string, error)
	Delete(ctx context.Context, storagePath string) error
	URL(storagePath string) string
}

// Sender submits mail to the outside world.
type Sender interface {
	SendWithRetry(ctx context.Context, msg *smtp.Outgoing) smtp.Result
}

type Options struct {
	// LocalDomain is the domain whose addresses are delivered internally.
	LocalDomain string
	// SnippetLength is the preview length in runes.
	SnippetLength int
	// MaxParallel bounds concurrent recipient copies.
	MaxParallel int
}

// Envelope is a logical message entering the pipeline, in plaintext.
type Envelope struct {
	MessageID   string
	InReplyTo   string
	References  []string
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	// Attachments carry their Content; storage fields are filled per copy.
	Attachments []models.Attachment
	Date        time.Time
}

// Report summarizes a fan-out.
type Report struct {
	// Delivered maps recipient address to the new message id.
	Delivered map[string]string
	// Unresolved lists local addresses without a mailbox.
	Unresolved []string
	// Failed lists addresses whose copy could not be written.
	Failed []string
}

// ComposeResult is the outcome of Compose.
type ComposeResult struct {
	// Message is the sender's stored copy.
	Message *models.Message
	Report  Report
	// Dispatch is set when the message had external recipients.
	Dispatch *smtp.Result
}

type Orchestrator struct {
	store      Store
	directory  Directory
	classifier Classifier
	cipher     Encrypter
	blobs      Blobs
	sender     Sender
	publisher  push.Publisher
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewOrchestrator(
	store Store,
	directory Directory,
	classifier Classifier,
	cipher Encrypter,
	blobs Blobs,
	sender Sender,
	publisher push.Publisher,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = 200
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 8
	}
	opts.LocalDomain = strings.ToLower(opts.LocalDomain)

	return &Orchestrator{
		store:      store,
		directory:  directory,
		classifier: classifier,
		cipher:     cipher,
		blobs:      blobs,
		sender:     sender,
		publisher:  publisher,
		opts:       opts,
		logger:     logger.Named("delivery"),
		now:        time.Now,
	}
}

// sealed is the encrypted content shared by every copy of one message.
type sealed struct {
	bodyText string
	bodyHTML string
	snippet  string
	// plainSnippet goes into push events, which never touch the store.
	plainSnippet string
}

func (o *Orchestrator) seal(env *Envelope) (*sealed, error) {
	snippet := textproc.Snippet(env.Text, o.opts.SnippetLength)

	var s sealed
	var err error
	if s.bodyText, err = o.cipher.Encrypt(env.Text); err != nil {
		return nil, fmt.Errorf("failed to encrypt body: %w", err)
	}
	if s.bodyHTML, err = o.cipher.Encrypt(env.HTML); err != nil {
		return nil, fmt.Errorf("failed to encrypt html body: %w", err)
	}
	if s.snippet, err = o.cipher.Encrypt(snippet); err != nil {
		return nil, fmt.Errorf("failed to encrypt snippet: %w", err)
	}
	s.plainSnippet = snippet
	return &s, nil
}

func (o *Orchestrator) classify(ctx context.Context, env *Envelope) models.Verdict {
	return o.classifier.Classify(ctx, classify.Input{
		SenderAddress: env.FromAddress,
		Subject:       env.Subject,
		Body:          env.Text,
	})
}

// baseMessage builds a stored row for owner from the sealed content.
func (o *Orchestrator) baseMessage(env *Envelope, content *sealed, ownerID string) *models.Message {
	return &models.Message{
		UserID:          ownerID,
		MessageIDHeader: env.MessageID,
		FromName:        env.FromName,
		FromAddress:     env.FromAddress,
		ToAddresses:     env.To,
		CCAddresses:     env.Cc,
		Subject:         env.Subject,
		BodyText:        content.bodyText,
		BodyHTML:        content.bodyHTML,
		Snippet:         content.snippet,
	}
}

// Compose stores the sender's copy and, unless it is a draft, delivers to
// local recipients and submits the message for external ones.
// The returned error covers the sender's copy only; recipient outcomes are in
// the result.
func (o *Orchestrator) Compose(ctx context.Context, senderID string, env Envelope, draft bool) (*ComposeResult, error) {
	if env.MessageID == "" {
		env.MessageID = smtp.NewMessageID(o.opts.LocalDomain)
	}
	if env.Date.IsZero() {
		env.Date = o.now()
	}

	recipients := dedupeAddresses(env.To, env.Cc, env.Bcc)
	if !draft && len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	content, err := o.seal(&env)
	if err != nil {
		return nil, err
	}

	threadKey := ThreadKey(env.MessageID, env.InReplyTo, env.References)

	own := o.baseMessage(&env, content, senderID)
	own.BCCAddresses = env.Bcc
	own.Verdict = o.classify(ctx, &env)
	own.IsRead = true
	own.IsDraft = draft
	own.IsSent = !draft
	if !draft {
		sentAt := env.Date
		own.SentAt = &sentAt
	}

	stored, err := o.storeAttachments(ctx, env.Attachments)
	if err != nil {
		return nil, err
	}
	own.Attachments = stored
	if err := o.store.DeliverToMailbox(ctx, own, threadKey); err != nil {
		o.deleteBlobs(stored)
		metrics.DeliveryFailures.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("failed to store sender copy: %w", err)
	}
	metrics.MessagesDelivered.WithLabelValues(originCompose).Inc()

	result := &ComposeResult{Message: own}
	if draft {
		return result, nil
	}

	// The sender copy says "sent" from here on; a client hanging up must not
	// stop the recipient copies or the dispatch.
	ctx = context.WithoutCancel(ctx)

	var local, external []string
	for _, addr := range recipients {
		if o.isLocal(addr) {
			local = append(local, addr)
		} else {
			external = append(external, addr)
		}
	}

	result.Report = o.fanOut(ctx, &env, content, threadKey, local, originCompose)

	if len(external) > 0 {
		dispatch := o.sender.SendWithRetry(ctx, &smtp.Outgoing{
			FromName:    env.FromName,
			FromAddress: env.FromAddress,
			MessageID:   env.MessageID,
			To:          filterAddresses(env.To, external),
			Cc:          filterAddresses(env.Cc, external),
			Bcc:         filterAddresses(env.Bcc, external),
			Subject:     env.Subject,
			Text:        env.Text,
			HTML:        env.HTML,
			InReplyTo:   env.InReplyTo,
			References:  env.References,
			Attachments: env.Attachments,
		})
		if dispatch.Err != nil {
			o.logger.Warn("outbound dispatch failed",
				zap.String("message_id", env.MessageID),
				zap.String("kind", string(dispatch.Err.Kind)),
			)
		}
		result.Dispatch = &dispatch
	}

	return result, nil
}

// DeliverInbound resolves candidates against the directory and delivers an
// independent copy to every owner found. Nothing is sent outward.
// Once started, a delivery runs to completion even if ctx is cancelled.
func (o *Orchestrator) DeliverInbound(ctx context.Context, env Envelope, candidates []string) (Report, error) {
	ctx = context.WithoutCancel(ctx)

	if env.MessageID == "" {
		env.MessageID = smtp.NewMessageID(o.opts.LocalDomain)
	}
	if env.Date.IsZero() {
		env.Date = o.now()
	}

	var local []string
	for _, addr := range dedupeAddresses(candidates) {
		if o.isLocal(addr) {
			local = append(local, addr)
		}
	}
	if len(local) == 0 {
		return Report{Delivered: map[string]string{}}, nil
	}

	content, err := o.seal(&env)
	if err != nil {
		return Report{}, err
	}

	threadKey := ThreadKey(env.MessageID, env.InReplyTo, env.References)
	return o.fanOut(ctx, &env, content, threadKey, local, originInbound), nil
}

// fanOut writes one copy per resolvable address in parallel. Each copy gets
// its own verdict and its own transaction; a failure affects only that copy.
func (o *Orchestrator) fanOut(ctx context.Context, env *Envelope, content *sealed, threadKey string, addresses []string, origin string) Report {
	report := Report{Delivered: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxParallel)

	for _, addr := range addresses {
		g.Go(func() error {
			ownerID, ok, err := o.directory.LookupOwner(gctx, addr)
			if err != nil {
				o.logger.Error("directory lookup failed", zap.String("address", addr), zap.Error(err))
				metrics.DeliveryFailures.WithLabelValues("lookup").Inc()
				mu.Lock()
				report.Failed = append(report.Failed, addr)
				mu.Unlock()
				return nil
			}
			if !ok {
				o.logger.Info("recipient not found, dropping", zap.String("address", addr))
				mu.Lock()
				report.Unresolved = append(report.Unresolved, addr)
				mu.Unlock()
				return nil
			}

			msg, err := o.deliverCopy(gctx, env, content, threadKey, ownerID)
			if err != nil {
				o.logger.Error("failed to deliver copy",
					zap.String("address", addr),
					zap.String("message_id", env.MessageID),
					zap.Error(err),
				)
				metrics.DeliveryFailures.WithLabelValues("persist").Inc()
				mu.Lock()
				report.Failed = append(report.Failed, addr)
				mu.Unlock()
				return nil
			}
			metrics.MessagesDelivered.WithLabelValues(origin).Inc()

			mu.Lock()
			report.Delivered[addr] = msg.ID
			mu.Unlock()

			o.notify(gctx, ownerID, env, content, msg)
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (o *Orchestrator) deliverCopy(ctx context.Context, env *Envelope, content *sealed, threadKey, ownerID string) (*models.Message, error) {
	msg := o.baseMessage(env, content, ownerID)
	msg.Verdict = o.classify(ctx, env)
	receivedAt := o.now()
	msg.ReceivedAt = &receivedAt
	sentAt := env.Date
	msg.SentAt = &sentAt

	stored, err := o.storeAttachments(ctx, env.Attachments)
	if err != nil {
		return nil, err
	}
	msg.Attachments = stored

	if err := o.store.DeliverToMailbox(ctx, msg, threadKey); err != nil {
		o.deleteBlobs(stored)
		return nil, err
	}
	return msg, nil
}

func (o *Orchestrator) notify(ctx context.Context, ownerID string, env *Envelope, content *sealed, msg *models.Message) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, push.UserChannel(ownerID), push.Event{
		Type: push.EventNewMessage,
		At:   o.now(),
		Data: push.NewMessageData{
			ThreadID:  msg.ThreadID,
			MessageID: msg.ID,
			Subject:   env.Subject,
			From:      env.FromAddress,
			Snippet:   content.plainSnippet,
			Category:  string(msg.Verdict.Category),
		},
	})
	if err != nil {
		o.logger.Warn("failed to publish new message event", zap.String("user_id", ownerID), zap.Error(err))
	}
}

// storeAttachments puts each attachment's content into blob storage and
// returns row-ready copies. On failure, blobs already written are removed.
func (o *Orchestrator) storeAttachments(ctx context.Context, attachments []models.Attachment) ([]models.Attachment, error) {
	if len(attachments) == 0 || o.blobs == nil {
		return nil, nil
	}

	stored := make([]models.Attachment, 0, len(attachments))
	for _, att := range attachments {
		key, err := o.blobs.Put(ctx, att.Filename, att.Content)
		if err != nil {
			o.deleteBlobs(stored)
			return nil, fmt.Errorf("failed to store attachment %q: %w", att.Filename, err)
		}
		row := att
		row.Content = nil
		row.SizeBytes = int64(len(att.Content))
		row.StoragePath = key
		row.URL = o.blobs.URL(key)
		stored = append(stored, row)
	}
	return stored, nil
}

func (o *Orchestrator) deleteBlobs(attachments []models.Attachment) {
	for _, att := range attachments {
		// Cleanup runs even when the request context is gone.
		if err := o.blobs.Delete(context.Background(), att.StoragePath); err != nil {
			o.logger.Warn("failed to remove orphaned blob", zap.String("path", att.StoragePath), zap.Error(err))
		}
	}
}

func (o *Orchestrator) isLocal(address string) bool {
	return o.opts.LocalDomain != "" && domainOf(address) == o.opts.LocalDomain
}

// dedupeAddresses flattens the lists into bare addresses, dropping
// unparsable entries and case-insensitive duplicates. The first spelling wins.
func dedupeAddresses(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
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

// filterAddresses keeps the entries of list whose address is in keep.
func filterAddresses(list, keep []string) []string {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[strings.ToLower(k)] = true
	}

	var out []string
	for _, raw := range list {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			continue
		}
		if allowed[strings.ToLower(addr.Address)] {
			out = append(out, raw)
		}
	}
	return out
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
