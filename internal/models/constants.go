package models

const (
	SentenceRegex    = `[^.!?。]+[.!?。]*`
	WhitespaceRegex  = `\s+`
	DisallowedRegex  = `[^\p{L}\p{N}_\s.,!?()\-。]`
	KeywordRegex     = `[\p{L}\p{N}_]+`
	CodeFenceRegex   = "(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$"
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n"
)

// DefaultQuerySuffix is appended to "{subject} {unit}" for single-question retrieval.
const DefaultQuerySuffix = "개념"

// QueryVariants rotate through batch generation so consecutive items retrieve different passages.
var QueryVariants = []string{"개념", "예제", "응용", "문제", "정의", "계산", "공식", "원리"}

// DifficultyGuidelines are the per-level instructions embedded in the question prompt.
var DifficultyGuidelines = map[Difficulty]string{
	DifficultyEasy:   "기본 개념 이해 확인, 용어 정의, 단순 암기 수준의 문제",
	DifficultyMedium: "개념 적용과 계산, 예제를 응용하는 문제",
	DifficultyHard:   "여러 개념을 종합하는 사고, 심화 분석, 문제 해결형 문제",
}

// JSONSystemMessage is sent as the system role whenever structured output is requested.
const JSONSystemMessage = "You must respond with valid JSON only. Do not include any explanations or additional text outside the JSON."

// QuestionPromptTemplate arguments: subject, unit, difficulty, guideline, context, subject rules.
var QuestionPromptTemplate = `당신은 중학교 %[1]s 과목을 가르치는 교사입니다.
아래 교과서 내용만을 근거로 %[3]s 난이도의 5지선다 문제 1개를 만드세요.

<context>
%[5]s
</context>

단원: %[2]s

출제 규칙:
1. 교과서 내용과 직접 관련된 문제를 낸다.
2. 선택지는 정확히 5개이며 정답은 1개, 나머지 4개는 그럴듯한 오답이다.
3. 해설은 정답의 근거와 풀이 과정을 설명한다.
4. 힌트는 정답을 직접 말하지 않고 풀이 방향만 제시한다.
5. 모든 내용은 한국어로 작성한다.
%[6]s
난이도 기준 (%[3]s): %[4]s

JSON 객체 하나만 출력하고 JSON 바깥에는 어떤 글도 쓰지 마세요:
{
  "question": "문제 텍스트",
  "options": ["선택지1", "선택지2", "선택지3", "선택지4", "선택지5"],
  "correct_answer": 1,
  "explanation": "정답 해설",
  "hint": "힌트"
}
`

// MathRules are appended to the question prompt for mathematics subjects.
var MathRules = `6. 수식과 계산이 포함된 문제를 우선한다.
7. 흔한 계산 실수를 오답 선택지에 반영한다.
`

// ScienceRules are appended to the question prompt for science subjects.
var ScienceRules = `6. 과학적 현상과 원리를 이해했는지 확인한다.
7. 실험과 관찰 결과 해석 또는 실생활 사례를 활용한다.
`

// QualityAssessmentPromptTemplate arguments: source context, question JSON.
var QualityAssessmentPromptTemplate = `You review AI-generated multiple-choice questions for middle-school students.
Score the question against the source context on each criterion from 1 (very poor) to 5 (very good).

<context>
%s
</context>

<question>
%s
</question>

Criteria: relevance, clarity, correctness, distractor_plausibility, difficulty_alignment.

Respond with a single JSON object:
{
  "scores": {
    "relevance": {"score": 1, "reason": "..."},
    "clarity": {"score": 1, "reason": "..."},
    "correctness": {"score": 1, "reason": "..."},
    "distractor_plausibility": {"score": 1, "reason": "..."},
    "difficulty_alignment": {"score": 1, "reason": "..."}
  },
  "overall_score": 1.0,
  "is_usable": false,
  "summary": "..."
}
`
