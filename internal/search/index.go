// Package search ranks a user's messages with TF-IDF. Indexes are built per
// request and thrown away, so there is nothing to keep in sync with the store.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/textproc"
)

type Document struct {
	ID       string
	Text     string
	Category models.Category
}

// Filters narrow results before the limit is applied. Zero values match everything.
type Filters struct {
	Category models.Category
}

func (f Filters) match(doc *indexedDocument) bool {
	return f.Category == "" || f.Category == doc.category
}

// Result carries the document's metadata alongside its score.
type Result struct {
	ID       string
	Score    float64
	Category models.Category
}

type indexedDocument struct {
	id       string
	category models.Category
	terms    map[string]int
	length   int
}

// Index is an in-memory TF-IDF index. It is not safe for concurrent mutation.
type Index struct {
	docs []*indexedDocument
	// df counts documents containing each term; freq counts all occurrences.
	df   map[string]int
	freq map[string]int
}

func NewIndex() *Index {
	return &Index{
		df:   make(map[string]int),
		freq: make(map[string]int),
	}
}

// Index adds documents. Insertion order is the tie-break for equal scores.
func (ix *Index) Index(docs []Document) {
	for _, doc := range docs {
		tokens := textproc.Tokenize(doc.Text)
		indexed := &indexedDocument{
			id:       doc.ID,
			category: doc.Category,
			terms:    make(map[string]int, len(tokens)),
			length:   len(tokens),
		}
		for _, token := range tokens {
			indexed.terms[token]++
			ix.freq[token]++
		}
		for term := range indexed.terms {
			ix.df[term]++
		}
		ix.docs = append(ix.docs, indexed)
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

func (ix *Index) idf(term string) float64 {
	df := ix.df[term]
	if df == 0 {
		return 0
	}
	return math.Log(float64(len(ix.docs))/float64(df)) + 1
}

// Search ranks documents matching the query. Documents with a zero score never
// appear; filters apply before the limit so a filtered page is still full.
func (ix *Index) Search(query string, limit int, filters Filters) []Result {
	queryTerms := textproc.Tokenize(query)
	if len(queryTerms) == 0 || limit <= 0 {
		return nil
	}

	var results []Result
	for _, doc := range ix.docs {
		if !filters.match(doc) || doc.length == 0 {
			continue
		}

		var score float64
		for _, term := range queryTerms {
			count := doc.terms[term]
			if count == 0 {
				continue
			}
			score += float64(count) / float64(doc.length) * ix.idf(term)
		}
		if score > 0 {
			results = append(results, Result{ID: doc.id, Score: score, Category: doc.category})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Suggest returns indexed terms starting with prefix, most frequent first.
func (ix *Index) Suggest(prefix string, limit int) []string {
	prefix = textproc.Normalize(prefix)
	if prefix == "" || limit <= 0 {
		return nil
	}

	var matches []string
	for term := range ix.freq {
		if strings.HasPrefix(term, prefix) {
			matches = append(matches, term)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, fj := ix.freq[matches[i]], ix.freq[matches[j]]
		if fi != fj {
			return fi > fj
		}
		return matches[i] < matches[j]
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
