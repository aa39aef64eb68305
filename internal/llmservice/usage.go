package llmservice

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pricing is USD per 1,000 tokens.
type Pricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

const defaultPricingModel = "gpt-3.5-turbo"

var pricing = map[string]Pricing{
	"gpt-3.5-turbo":       {Prompt: 0.0015, Completion: 0.002},
	"gpt-3.5-turbo-16k":   {Prompt: 0.003, Completion: 0.004},
	"gpt-4":               {Prompt: 0.03, Completion: 0.06},
	"gpt-4-32k":           {Prompt: 0.06, Completion: 0.12},
	"gpt-4-turbo-preview": {Prompt: 0.01, Completion: 0.03},
	"gpt-4o":              {Prompt: 0.005, Completion: 0.015},
}

// PricingFor returns the price table entry for model; unknown models are
// priced as gpt-3.5-turbo.
func PricingFor(model string) Pricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing[defaultPricingModel]
}

func (p Pricing) cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*p.Prompt + float64(completionTokens)/1000*p.Completion
}

// Usage is a point-in-time copy of the tracked counters.
type Usage struct {
	Model                   string         `json:"model"`
	TotalRequests           int            `json:"total_requests"`
	TotalPromptTokens       int            `json:"total_prompt_tokens"`
	TotalCompletionTokens   int            `json:"total_completion_tokens"`
	TotalTokens             int            `json:"total_tokens"`
	TotalCostUSD            float64        `json:"total_cost_usd"`
	AverageTokensPerRequest float64        `json:"average_tokens_per_request"`
	RequestsByHour          map[string]int `json:"requests_by_hour"`
	LastRequestTime         *time.Time     `json:"last_request_time"`
}

// UsageTracker accumulates token and cost counters across requests.
// It is safe for concurrent use.
type UsageTracker struct {
	mu               sync.Mutex
	model            string
	price            Pricing
	requests         int
	promptTokens     int
	completionTokens int
	cost             float64
	byHour           map[string]int
	last             time.Time
	now              func() time.Time
}

func NewUsageTracker(model string) *UsageTracker {
	return &UsageTracker{
		model:  model,
		price:  PricingFor(model),
		byHour: map[string]int{},
		now:    time.Now,
	}
}

// Record adds one completed request.
func (u *UsageTracker) Record(promptTokens, completionTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.requests++
	u.promptTokens += promptTokens
	u.completionTokens += completionTokens
	u.cost += u.price.cost(promptTokens, completionTokens)

	now := u.now()
	u.last = now
	u.byHour[now.Format("2006-01-02 15")]++
}

func (u *UsageTracker) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := u.promptTokens + u.completionTokens
	s := Usage{
		Model:                   u.model,
		TotalRequests:           u.requests,
		TotalPromptTokens:       u.promptTokens,
		TotalCompletionTokens:   u.completionTokens,
		TotalTokens:             total,
		TotalCostUSD:            round6(u.cost),
		AverageTokensPerRequest: float64(total) / float64(max(u.requests, 1)),
		RequestsByHour:          make(map[string]int, len(u.byHour)),
	}
	for k, v := range u.byHour {
		s.RequestsByHour[k] = v
	}
	if !u.last.IsZero() {
		last := u.last
		s.LastRequestTime = &last
	}
	return s
}

func (u *UsageTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.requests, u.promptTokens, u.completionTokens = 0, 0, 0
	u.cost = 0
	u.byHour = map[string]int{}
	u.last = time.Time{}
	log.Info().Str("model", u.model).Msg("Usage statistics reset")
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
