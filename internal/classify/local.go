package classify

import (
	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/imnothoan/verygoodmail/internal/textproc"
)

// spamThreshold is the confidence the spam class must exceed to win.
const spamThreshold = 0.6

// LocalModel is the in-process fallback: two naive Bayes models, one over
// categories and one over sentiments, trained from the built-in corpus.
type LocalModel struct {
	categories *NaiveBayes
	sentiments *NaiveBayes
}

// NewLocalModel trains both models. It runs once at startup.
func NewLocalModel() *LocalModel {
	labels := make([]string, 0, len(models.Categories))
	for _, c := range models.Categories {
		labels = append(labels, string(c))
	}

	m := &LocalModel{
		categories: NewNaiveBayes(labels...),
		sentiments: NewNaiveBayes(
			string(models.SentimentNeutral),
			string(models.SentimentPositive),
			string(models.SentimentNegative),
		),
	}
	for _, s := range categorySamples {
		m.categories.Train(s.label, s.text)
	}
	for _, s := range sentimentSamples {
		m.sentiments.Train(s.label, s.text)
	}
	return m
}

// Classify returns a verdict and true, or false when the text gives the model
// nothing to go on (empty, or no token it has seen).
func (m *LocalModel) Classify(subject, body string) (models.Verdict, bool) {
	if m == nil || !m.categories.Trained() {
		return models.Verdict{}, false
	}

	tokens := textproc.Tokenize(subject + " " + body)
	if len(tokens) == 0 || m.categories.Known(tokens) == 0 {
		return models.Verdict{}, false
	}

	ranked := m.categories.Predict(tokens)
	category, isSpam, confidence := decideCategory(ranked)

	verdict := models.Verdict{
		Category:   category,
		IsSpam:     isSpam,
		SpamScore:  scoreOf(ranked, string(models.CategorySpam)),
		Sentiment:  models.SentimentNeutral,
		Confidence: confidence,
		Source:     models.SourceLocalModel,
	}

	if m.sentiments.Known(tokens) > 0 {
		if sentiments := m.sentiments.Predict(tokens); len(sentiments) > 0 {
			verdict.Sentiment = models.Sentiment(sentiments[0].Label)
		}
	}

	return verdict, true
}

// decideCategory picks the winning category from a ranking. Spam only wins when
// it is ranked first with more than spamThreshold confidence; otherwise the best
// non-spam class is used.
func decideCategory(ranked []ClassScore) (models.Category, bool, float64) {
	if len(ranked) == 0 {
		return models.CategoryPrimary, false, 0
	}

	top := ranked[0]
	if top.Label == string(models.CategorySpam) && top.Confidence > spamThreshold {
		return models.CategorySpam, true, top.Confidence
	}

	for _, candidate := range ranked {
		if candidate.Label != string(models.CategorySpam) {
			return models.Category(candidate.Label), false, candidate.Confidence
		}
	}
	return models.CategoryPrimary, false, 0
}

func scoreOf(ranked []ClassScore, label string) float64 {
	for _, s := range ranked {
		if s.Label == label {
			return s.Confidence
		}
	}
	return 0
}
