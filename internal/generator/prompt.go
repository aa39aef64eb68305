package generator

import (
	"fmt"
	"strings"

	"quiz-rag/internal/models"
)

var (
	mathSubjects    = []string{"수학", "math", "mathematics"}
	scienceSubjects = []string{"과학", "science"}
)

// BuildPrompt renders the question prompt. Mathematics and science subjects
// get extra subject rules.
func BuildPrompt(subject, unit string, difficulty models.Difficulty, context string) string {
	guideline, ok := models.DifficultyGuidelines[difficulty]
	if !ok {
		guideline = models.DifficultyGuidelines[models.DifficultyMedium]
	}
	return fmt.Sprintf(models.QuestionPromptTemplate, subject, unit, difficulty, guideline, context, subjectRules(subject))
}

func subjectRules(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	switch {
	case containsFold(mathSubjects, s):
		return models.MathRules
	case containsFold(scienceSubjects, s):
		return models.ScienceRules
	}
	return ""
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
