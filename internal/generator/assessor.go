package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"quiz-rag/internal/models"
)

// Assessor asks the model to review a question against its source context.
type Assessor struct {
	llm StructuredLLM
}

func NewAssessor(llm StructuredLLM) *Assessor {
	return &Assessor{llm: llm}
}

func (a *Assessor) Assess(ctx context.Context, q models.QuestionRecord, sourceContext string) (models.Assessment, error) {
	questionJSON, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return models.Assessment{}, err
	}
	prompt := fmt.Sprintf(models.QualityAssessmentPromptTemplate, sourceContext, questionJSON)

	resp, err := a.llm.GenerateStructured(ctx, prompt, 0)
	if err != nil {
		return models.Assessment{}, err
	}

	// Round-trip through JSON so numeric fields decode with the struct's types.
	raw, err := json.Marshal(resp)
	if err != nil {
		return models.Assessment{}, err
	}
	var out models.Assessment
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Assessment{}, fmt.Errorf("%w: assessment: %v", models.ErrMalformedResponse, err)
	}
	return out, nil
}
