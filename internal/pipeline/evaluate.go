package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"quiz-rag/internal/generator"
	"quiz-rag/internal/models"
	"quiz-rag/internal/rag"
)

// Evaluation is the review of one question from an evaluated file.
// Skipped is set, and Assessment is nil, when the question was not reviewed.
type Evaluation struct {
	QuestionID string             `json:"question_id,omitempty"`
	Question   string             `json:"question"`
	Assessment *models.Assessment `json:"assessment,omitempty"`
	Skipped    string             `json:"skipped,omitempty"`
}

// Evaluate reviews every question in a JSON file (an array of question
// objects, or an object with a "questions" array). The question text is used
// as the retrieval query; subject and unit, when non-empty, override the
// values stored in each question.
func (p *Pipeline) Evaluate(ctx context.Context, path, subject, unit string) ([]Evaluation, error) {
	items, err := readQuestions(path)
	if err != nil {
		return nil, err
	}

	results := make([]Evaluation, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		question, _ := item["question"].(string)
		id, _ := item["id"].(string)
		res := Evaluation{QuestionID: id, Question: question}

		if !generator.Validate(item) {
			res.Skipped = "invalid question"
			results = append(results, res)
			continue
		}
		record, err := toRecord(item)
		if err != nil {
			res.Skipped = err.Error()
			results = append(results, res)
			continue
		}

		opts := rag.RetrieveOptions{Subject: firstNonEmpty(subject, record.Subject), Unit: firstNonEmpty(unit, record.Unit)}
		docs, err := p.retriever.Retrieve(ctx, record.Question, opts)
		if err != nil {
			res.Skipped = err.Error()
			results = append(results, res)
			continue
		}
		if len(docs) == 0 {
			res.Skipped = "no context found"
			results = append(results, res)
			continue
		}

		assessment, err := p.assessor.Assess(ctx, record, rag.FormatContext(docs))
		if err != nil {
			log.Warn().Err(err).Int("item", i+1).Msg("Assessment failed")
			res.Skipped = err.Error()
			results = append(results, res)
			continue
		}
		res.Assessment = &assessment
		results = append(results, res)
	}
	return results, nil
}

func readQuestions(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: file not found: %s", models.ErrInput, path)
		}
		return nil, err
	}

	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Questions []map[string]any `json:"questions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %s is not a question list: %v", models.ErrInput, path, err)
	}
	return wrapped.Questions, nil
}

// toRecord ignores generated_at, which external files write in varying formats.
func toRecord(item map[string]any) (models.QuestionRecord, error) {
	fields := make(map[string]any, len(item))
	for k, v := range item {
		if k != "generated_at" {
			fields[k] = v
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return models.QuestionRecord{}, err
	}
	var q models.QuestionRecord
	if err := json.Unmarshal(raw, &q); err != nil {
		return models.QuestionRecord{}, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return q, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
