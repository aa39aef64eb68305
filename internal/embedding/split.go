package embedding

import (
	"strings"

	"quiz-rag/internal/parser"
)

// SplitForLimit packs the sentences of text into pieces of at most maxTokens
// tokens. A sentence that alone exceeds the limit is packed word by word; a
// single word over the limit is emitted as is.
func (e *Embedder) SplitForLimit(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = e.maxTokens
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if e.counter.Count(text) <= maxTokens {
		return []string{strings.TrimSpace(text)}
	}

	var units []string
	for _, s := range parser.SplitSentences(text) {
		if e.counter.Count(s) <= maxTokens {
			units = append(units, s)
			continue
		}
		units = append(units, strings.Fields(s)...)
	}
	return e.pack(units, maxTokens)
}

func (e *Embedder) pack(units []string, maxTokens int) []string {
	var (
		pieces  []string
		current string
	)
	for _, u := range units {
		candidate := u
		if current != "" {
			candidate = current + " " + u
		}
		if current != "" && e.counter.Count(candidate) > maxTokens {
			pieces = append(pieces, current)
			current = u
			continue
		}
		current = candidate
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}
