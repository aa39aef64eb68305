package generator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"quiz-rag/internal/models"
)

var requiredFields = []string{"question", "options", "correct_answer", "explanation", "difficulty", "subject", "unit"}

// clean normalizes a decoded model response into a record and validates it.
// A correct_answer that cannot be read as an integer defaults to 1.
func clean(resp map[string]any, subject, unit string, difficulty models.Difficulty) (models.QuestionRecord, error) {
	record := models.QuestionRecord{
		Question:      trimmed(resp["question"]),
		Explanation:   trimmed(resp["explanation"]),
		Hint:          trimmed(resp["hint"]),
		CorrectAnswer: coerceAnswer(resp["correct_answer"]),
		Difficulty:    difficulty,
		Subject:       subject,
		Unit:          unit,
	}
	if opts, ok := resp["options"].([]any); ok {
		record.Options = make([]string, len(opts))
		for i, o := range opts {
			record.Options[i] = strings.TrimSpace(stringify(o))
		}
	}

	if err := record.Validate(); err != nil {
		log.Warn().Err(err).Msg("Generated question failed validation")
		return models.QuestionRecord{}, err
	}
	return record, nil
}

// Validate reports whether an externally sourced question object has every
// required field and satisfies the content rules.
func Validate(q map[string]any) bool {
	for _, f := range requiredFields {
		if _, ok := q[f]; !ok {
			log.Warn().Str("field", f).Msg("Missing required field")
			return false
		}
	}

	question, ok := q["question"].(string)
	if !ok {
		log.Warn().Msg("Question text is not a string")
		return false
	}
	explanation, ok := q["explanation"].(string)
	if !ok {
		log.Warn().Msg("Explanation is not a string")
		return false
	}
	difficulty, _ := q["difficulty"].(string)
	answer, ok := integer(q["correct_answer"])
	if !ok {
		log.Warn().Msg("Correct answer must be an integer")
		return false
	}
	options, ok := stringSlice(q["options"])
	if !ok {
		log.Warn().Msg("Options must be a list of strings")
		return false
	}
	subject, _ := q["subject"].(string)
	unit, _ := q["unit"].(string)

	record := models.QuestionRecord{
		Question:      question,
		Options:       options,
		CorrectAnswer: answer,
		Explanation:   explanation,
		Difficulty:    models.Difficulty(difficulty),
		Subject:       subject,
		Unit:          unit,
	}
	if err := record.Validate(); err != nil {
		log.Warn().Err(err).Msg("Question failed validation")
		return false
	}
	return true
}

func trimmed(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func coerceAnswer(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 1
}

// integer accepts Go integers and JSON numbers with no fractional part.
func integer(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == math.Trunc(t) {
			return int(t), true
		}
	}
	return 0, false
}

func stringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, len(t))
		for i, o := range t {
			s, ok := o.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
