package search

import (
	"context"
	"fmt"
	"time"

	"github.com/imnothoan/verygoodmail/internal/metrics"
	"github.com/imnothoan/verygoodmail/internal/models"
)

// Corpus loads the messages a user can search. Implemented by db.MailStore.
type Corpus interface {
	ListSearchCorpus(ctx context.Context, userID string, limit int) ([]*models.Message, error)
}

// Decrypter opens stored message content. Implemented by crypto.Cipher.
type Decrypter interface {
	Decrypt(value string) string
}

type Service struct {
	corpus   Corpus
	cipher   Decrypter
	fetchCap int
}

func NewService(corpus Corpus, cipher Decrypter, fetchCap int) *Service {
	if fetchCap <= 0 {
		fetchCap = 500
	}
	return &Service{corpus: corpus, cipher: cipher, fetchCap: fetchCap}
}

// Search returns the user's matching messages, best first, with decrypted
// snippets and bodies.
func (s *Service) Search(ctx context.Context, userID, query string, limit int, filters Filters) ([]*models.Message, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	messages, ix, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Message, len(messages))
	for _, msg := range messages {
		byID[msg.ID] = msg
	}

	results := ix.Search(query, limit, filters)
	ranked := make([]*models.Message, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, byID[r.ID])
	}
	return ranked, nil
}

// Suggest returns search-as-you-type completions from the user's mail.
func (s *Service) Suggest(ctx context.Context, userID, prefix string, limit int) ([]string, error) {
	_, ix, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ix.Suggest(prefix, limit), nil
}

func (s *Service) build(ctx context.Context, userID string) ([]*models.Message, *Index, error) {
	messages, err := s.corpus.ListSearchCorpus(ctx, userID, s.fetchCap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load search corpus: %w", err)
	}

	docs := make([]Document, 0, len(messages))
	for _, msg := range messages {
		msg.BodyText = s.cipher.Decrypt(msg.BodyText)
		msg.BodyHTML = s.cipher.Decrypt(msg.BodyHTML)
		msg.Snippet = s.cipher.Decrypt(msg.Snippet)

		docs = append(docs, Document{
			ID:       msg.ID,
			Text:     msg.Subject + " " + msg.FromName + " " + msg.FromAddress + " " + msg.BodyText,
			Category: msg.Verdict.Category,
		})
	}

	ix := NewIndex()
	ix.Index(docs)
	return messages, ix, nil
}
