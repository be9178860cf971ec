package classify

import (
	"math"
	"sort"

	"github.com/imnothoan/verygoodmail/internal/textproc"
)

// ClassScore is one class with its normalized probability in [0, 1].
type ClassScore struct {
	Label      string
	Confidence float64
}

// NaiveBayes is a multinomial naive Bayes text classifier with Laplace smoothing.
// It is trained once and then only read, so it is safe for concurrent Predict calls.
type NaiveBayes struct {
	labels      []string
	docCount    map[string]int
	tokenCount  map[string]map[string]int
	totalTokens map[string]int
	vocabulary  map[string]struct{}
	docs        int
}

// NewNaiveBayes creates an untrained model over the given labels.
// Label order breaks ties in Predict.
func NewNaiveBayes(labels ...string) *NaiveBayes {
	nb := &NaiveBayes{
		labels:      labels,
		docCount:    make(map[string]int, len(labels)),
		tokenCount:  make(map[string]map[string]int, len(labels)),
		totalTokens: make(map[string]int, len(labels)),
		vocabulary:  make(map[string]struct{}),
	}
	for _, label := range labels {
		nb.tokenCount[label] = make(map[string]int)
	}
	return nb
}

// Train adds one labeled document. Unknown labels are ignored.
func (nb *NaiveBayes) Train(label, text string) {
	counts, ok := nb.tokenCount[label]
	if !ok {
		return
	}

	nb.docs++
	nb.docCount[label]++
	for _, token := range textproc.Tokenize(text) {
		counts[token]++
		nb.totalTokens[label]++
		nb.vocabulary[token] = struct{}{}
	}
}

// Trained reports whether at least one document has been seen.
func (nb *NaiveBayes) Trained() bool {
	return nb.docs > 0
}

// Known counts how many of the tokens were seen during training.
func (nb *NaiveBayes) Known(tokens []string) int {
	n := 0
	for _, token := range tokens {
		if _, ok := nb.vocabulary[token]; ok {
			n++
		}
	}
	return n
}

// Predict scores every label in log space and returns the labels ranked by
// softmax-normalized probability, highest first. Tokens outside the training
// vocabulary carry no evidence and are skipped.
func (nb *NaiveBayes) Predict(tokens []string) []ClassScore {
	if !nb.Trained() {
		return nil
	}

	vocabSize := float64(len(nb.vocabulary))
	logScores := make([]float64, len(nb.labels))
	maxScore := math.Inf(-1)

	for i, label := range nb.labels {
		// Labels without documents still get a smoothed prior.
		score := math.Log(float64(nb.docCount[label]+1) / float64(nb.docs+len(nb.labels)))
		denominator := float64(nb.totalTokens[label]) + vocabSize
		for _, token := range tokens {
			if _, ok := nb.vocabulary[token]; !ok {
				continue
			}
			score += math.Log((float64(nb.tokenCount[label][token]) + 1) / denominator)
		}
		logScores[i] = score
		if score > maxScore {
			maxScore = score
		}
	}

	var sum float64
	ranked := make([]ClassScore, len(nb.labels))
	for i, label := range nb.labels {
		p := math.Exp(logScores[i] - maxScore)
		ranked[i] = ClassScore{Label: label, Confidence: p}
		sum += p
	}
	for i := range ranked {
		ranked[i].Confidence /= sum
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked
}
