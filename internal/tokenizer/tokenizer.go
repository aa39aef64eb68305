package tokenizer

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const fallbackEncoding = "cl100k_base"

// Counter reports how many model tokens a text occupies.
type Counter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Approx estimates one token per four characters. It is used when no BPE
// ranks can be loaded for the model.
type Approx struct{}

func (Approx) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(1, n/4)
}

// New returns a tiktoken counter for model, falling back to cl100k_base and
// then to Approx.
func New(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &tiktokenCounter{enc: enc}
	}
	log.Debug().Err(err).Str("model", model).Msg("No tokenizer for model, using " + fallbackEncoding)

	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err == nil {
		return &tiktokenCounter{enc: enc}
	}
	log.Warn().Err(err).Msg("Tokenizer unavailable, estimating tokens from text length")
	return Approx{}
}
