// Package classify assigns every message a category, spam flag and sentiment.
//
// Tiers are tried in order: the remote model service, the in-process naive
// Bayes model, then a fixed default. Classify never fails; the verdict's Source
// says which tier answered.
package classify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/metrics"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// Input is what the classifier looks at.
type Input struct {
	SenderAddress string
	Subject       string
	Body          string
}

// Remote is the first tier. RemoteClassifier is the production implementation.
type Remote interface {
	Available(ctx context.Context) bool
	Classify(ctx context.Context, in Input) (models.Verdict, error)
}

// Engine runs the classification cascade.
type Engine struct {
	remote        Remote
	local         *LocalModel
	trustedDomain string
	logger        *zap.Logger
}

// NewEngine creates an Engine. remote and local may be nil to skip that tier.
// Senders at trustedDomain skip classification entirely.
func NewEngine(remote Remote, local *LocalModel, trustedDomain string, logger *zap.Logger) *Engine {
	return &Engine{
		remote:        remote,
		local:         local,
		trustedDomain: strings.ToLower(strings.TrimSpace(trustedDomain)),
		logger:        logger,
	}
}

// DefaultVerdict is returned when no tier can judge the message.
func DefaultVerdict() models.Verdict {
	return models.Verdict{
		Category:   models.CategoryPrimary,
		Sentiment:  models.SentimentNeutral,
		Confidence: 0.5,
		Source:     models.SourceNone,
	}
}

func trustedVerdict() models.Verdict {
	return models.Verdict{
		Category:   models.CategoryPrimary,
		Sentiment:  models.SentimentNeutral,
		Confidence: 1,
		Source:     models.SourceNone,
	}
}

func (e *Engine) Classify(ctx context.Context, in Input) models.Verdict {
	verdict := e.classify(ctx, in)
	metrics.ClassifierVerdicts.WithLabelValues(string(verdict.Source)).Inc()
	return verdict
}

func (e *Engine) classify(ctx context.Context, in Input) models.Verdict {
	if e.isTrusted(in.SenderAddress) {
		return trustedVerdict()
	}

	if strings.TrimSpace(in.Subject) == "" && strings.TrimSpace(in.Body) == "" {
		return DefaultVerdict()
	}

	if e.remote != nil && e.remote.Available(ctx) {
		verdict, err := e.remote.Classify(ctx, in)
		if err == nil {
			return verdict
		}
		e.logger.Warn("remote classifier failed, falling back to local model", zap.Error(err))
	}

	if verdict, ok := e.local.Classify(in.Subject, in.Body); ok {
		return verdict
	}

	return DefaultVerdict()
}

func (e *Engine) isTrusted(sender string) bool {
	if e.trustedDomain == "" {
		return false
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(sender[at+1:], ">")))
	return domain == e.trustedDomain
}
