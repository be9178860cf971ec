package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imnothoan/verygoodmail/internal/metrics"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// healthState is the cached reachability of the remote model.
type healthState struct {
	checkedAt time.Time
	available bool
}

func (h healthState) fresh(now time.Time, ttl time.Duration) bool {
	return !h.checkedAt.IsZero() && now.Sub(h.checkedAt) < ttl
}

// RemoteOptions configures a RemoteClassifier. Zero durations get defaults.
type RemoteOptions struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	HealthTTL     time.Duration
}

// RemoteClassifier calls the model service over HTTP. Any failure marks it
// unavailable, and it is not probed again until the health window has passed.
type RemoteClassifier struct {
	baseURL       string
	client        *http.Client
	timeout       time.Duration
	healthTimeout time.Duration
	healthTTL     time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	health healthState
	probes singleflight.Group
}

func NewRemoteClassifier(opts RemoteOptions, logger *zap.Logger) *RemoteClassifier {
	r := &RemoteClassifier{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		client:        &http.Client{},
		timeout:       opts.Timeout,
		healthTimeout: opts.HealthTimeout,
		healthTTL:     opts.HealthTTL,
		logger:        logger,
		now:           time.Now,
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Second
	}
	if r.healthTimeout <= 0 {
		r.healthTimeout = 2 * time.Second
	}
	if r.healthTTL <= 0 {
		r.healthTTL = time.Minute
	}
	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// classifyResponse accepts both response shapes the model service has used.
type classifyResponse struct {
	Category            string   `json:"category"`
	IsSpam              bool     `json:"is_spam"`
	SpamScore           *float64 `json:"spam_score"`
	SpamConfidence      *float64 `json:"spam_confidence"`
	Sentiment           string   `json:"sentiment"`
	Confidence          *float64 `json:"confidence"`
	CategoryConfidence  *float64 `json:"category_confidence"`
	SentimentConfidence *float64 `json:"sentiment_confidence"`
}

// Available reports whether the remote model should be tried. A fresh cached
// answer is returned as is; otherwise /health is probed once, even when several
// callers ask at the same time.
func (r *RemoteClassifier) Available(ctx context.Context) bool {
	r.mu.Lock()
	state := r.health
	r.mu.Unlock()

	if state.fresh(r.now(), r.healthTTL) {
		return state.available
	}

	result, _, _ := r.probes.Do("health", func() (interface{}, error) {
		ok := r.checkHealth(ctx)
		r.setHealth(ok)
		return ok, nil
	})
	return result.(bool)
}

func (r *RemoteClassifier) checkHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("classifier health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}

	// A healthy service without its model still answers /classify with its
	// own rule-based fallback.
	status := strings.ToLower(health.Status)
	if !health.ModelLoaded {
		r.logger.Debug("classifier reports no model loaded", zap.String("status", status))
	}
	return status == "healthy" || status == "ok"
}

func (r *RemoteClassifier) setHealth(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = healthState{checkedAt: r.now(), available: available}
}

// Classify posts the message to /classify. Errors mark the endpoint unavailable.
func (r *RemoteClassifier) Classify(ctx context.Context, in Input) (models.Verdict, error) {
	start := time.Now()
	verdict, err := r.classify(ctx, in)
	metrics.ClassifierRemoteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.setHealth(false)
		return models.Verdict{}, err
	}
	return verdict, nil
}

func (r *RemoteClassifier) classify(ctx context.Context, in Input) (models.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(classifyRequest{Subject: in.Subject, Body: in.Body})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.Verdict{}, fmt.Errorf("classify returned status %d", resp.StatusCode)
	}

	var body classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to decode classify response: %w", err)
	}

	return body.verdict(), nil
}

func (c classifyResponse) verdict() models.Verdict {
	v := models.Verdict{
		Category:   models.Category(strings.ToLower(c.Category)),
		IsSpam:     c.IsSpam,
		Sentiment:  models.Sentiment(strings.ToLower(c.Sentiment)),
		Confidence: 0.5,
		Source:     models.SourceRemoteModel,
	}

	if !v.Category.Valid() {
		v.Category = models.CategoryPrimary
	}
	switch v.Sentiment {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
	default:
		v.Sentiment = models.SentimentNeutral
	}

	switch {
	case c.SpamScore != nil:
		v.SpamScore = *c.SpamScore
	case c.SpamConfidence != nil && c.IsSpam:
		v.SpamScore = *c.SpamConfidence
	case c.SpamConfidence != nil:
		v.SpamScore = 1 - *c.SpamConfidence
	}
	v.SpamScore = clamp01(v.SpamScore)

	switch {
	case c.Confidence != nil:
		v.Confidence = clamp01(*c.Confidence)
	case c.CategoryConfidence != nil:
		v.Confidence = clamp01(*c.CategoryConfidence)
	}

	if v.IsSpam {
		v.Category = models.CategorySpam
	} else if v.Category == models.CategorySpam {
		v.IsSpam = true
	}
	return v
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
