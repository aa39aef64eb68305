package rerank

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"quiz-rag/internal/models"
)

const (
	similarityWeight   = 0.7
	keywordWeight      = 0.2
	metadataWeight     = 0.1
	metadataFieldBonus = 0.5
)

var keywordRe = regexp.MustCompile(models.KeywordRegex)

var builtinStopWords = map[string][]string{
	"ko": {
		"그리고", "하지만", "그러나", "또는", "또한", "에서", "으로", "에게", "이다", "있다", "없다",
		"하는", "한다", "대한", "위한", "통해", "같은", "이런", "그런", "저런", "무엇", "어떤", "어떻게",
	},
	"en": {
		"the", "and", "for", "with", "what", "which", "that", "this", "are", "is", "of", "to", "in",
		"on", "an", "how", "why", "from", "by", "be", "as", "at", "or", "it", "its", "into",
	},
}

// Heuristic scores candidates without a relevance model:
// 0.7·similarity + 0.2·keyword overlap + 0.1·metadata bonus.
type Heuristic struct {
	stopWords map[string]struct{}
}

// NewHeuristic uses the built-in stop words for language plus any extra words.
// Unknown languages get only the extra words.
func NewHeuristic(language string, extra []string) *Heuristic {
	h := &Heuristic{stopWords: map[string]struct{}{}}
	for _, w := range builtinStopWords[strings.ToLower(language)] {
		h.stopWords[w] = struct{}{}
	}
	for _, w := range extra {
		h.stopWords[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return h
}

// Keywords lowercases text, keeps word tokens and drops stop words and
// single-character tokens. Order of first appearance is kept; repeats are dropped.
func (h *Heuristic) Keywords(text string) []string {
	var (
		out  []string
		seen = map[string]struct{}{}
	)
	for _, tok := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		if _, stop := h.stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Score computes the relevance of c for the given query keywords.
func (h *Heuristic) Score(keywords []string, c models.Candidate) float64 {
	overlap := 0.0
	if len(keywords) > 0 {
		content := strings.ToLower(c.Content)
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(keywords))
	}

	bonus := 0.0
	if c.Metadata[models.MetaSubject] != "" {
		bonus += metadataFieldBonus
	}
	if c.Metadata[models.MetaUnit] != "" {
		bonus += metadataFieldBonus
	}

	return similarityWeight*c.SimilarityScore + keywordWeight*overlap + metadataWeight*bonus
}

func (h *Heuristic) Rerank(_ context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	out := Dedupe(candidates)
	keywords := h.Keywords(query)
	for i := range out {
		out[i].Score = h.Score(keywords, out[i])
	}
	sortByScore(out)
	return out, nil
}
