package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"quiz-rag/internal/models"
)

var (
	sentenceRe   = regexp.MustCompile(models.SentenceRegex)
	whitespaceRe = regexp.MustCompile(models.WhitespaceRegex)
	disallowedRe = regexp.MustCompile(models.DisallowedRegex)
)

// Preprocess strips characters outside the allow-list and collapses whitespace.
// The transformation is lossy: symbols such as %, $, = and math operators are removed.
func Preprocess(text string) string {
	text = disallowedRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSentences returns the non-blank sentences of text with their terminal punctuation.
func SplitSentences(text string) []string {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Chunker packs sentences into passages of at most size runes, each new
// passage seeded with up to overlap runes from the tail of the previous one.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInput, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrInput, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into passages. Blank input yields nil.
func (c *Chunker) Chunk(text string) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if s := strings.TrimSpace(current); s != "" {
			chunks = append(chunks, s)
		}
	}

	for _, sentence := range SplitSentences(text) {
		if utf8.RuneCountInString(sentence) > c.size {
			flush()
			current = ""
			chunks = append(chunks, hardSplit(sentence, c.size)...)
			continue
		}

		candidate := sentence
		if current != "" {
			candidate = current + " " + sentence
		}
		if current != "" && utf8.RuneCountInString(candidate) > c.size {
			flush()
			current = c.seed(current, sentence)
			continue
		}
		current = candidate
	}
	flush()
	return chunks
}

// seed starts a new passage with the tail of the closed one, shortened so the
// passage never exceeds the size limit.
func (c *Chunker) seed(closed, sentence string) string {
	if c.overlap == 0 || utf8.RuneCountInString(closed) <= c.overlap {
		return sentence
	}
	room := c.size - utf8.RuneCountInString(sentence) - 1
	if room <= 0 {
		return sentence
	}
	tail := lastRunes(closed, min(c.overlap, room))
	if tail = strings.TrimSpace(tail); tail == "" {
		return sentence
	}
	return tail + " " + sentence
}

// Documents attaches provenance metadata to each chunk. Base metadata is copied
// into every chunk; the positional keys are always overwritten.
func (c *Chunker) Documents(chunks []string, base map[string]string) []models.Chunk {
	docs := make([]models.Chunk, 0, len(chunks))
	for i, content := range chunks {
		md := models.CloneMetadata(base)
		md[models.MetaChunkIndex] = strconv.Itoa(i)
		md[models.MetaChunkSize] = strconv.Itoa(utf8.RuneCountInString(content))
		md[models.MetaTotalChunks] = strconv.Itoa(len(chunks))
		docs = append(docs, models.Chunk{Content: content, Metadata: md})
	}
	return docs
}

func hardSplit(s string, size int) []string {
	runes := []rune(s)
	pieces := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		if piece := string(runes[start:end]); strings.TrimSpace(piece) != "" {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}
