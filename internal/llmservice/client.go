package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"quiz-rag/internal/config"
	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
	"quiz-rag/internal/tokenizer"
)

const (
	// per-message and reply-priming overhead of the chat format
	tokensPerMessage = 4
	tokensPerReply   = 2

	DefaultCompletionEstimate = 500
)

var (
	codeFenceRe = regexp.MustCompile(models.CodeFenceRegex)
	thinkTagRe  = regexp.MustCompile(models.ThinkTag)
)

// GenerateOptions overrides the client defaults for one call.
type GenerateOptions struct {
	MaxTokens     int
	Temperature   *float64
	SystemMessage string
	JSONMode      bool
}

// CostEstimate is the projected price of one request.
type CostEstimate struct {
	Model                     string  `json:"model"`
	PromptTokens              int     `json:"prompt_tokens"`
	EstimatedCompletionTokens int     `json:"estimated_completion_tokens"`
	PromptCostUSD             float64 `json:"prompt_cost_usd"`
	CompletionCostUSD         float64 `json:"completion_cost_usd"`
	TotalCostUSD              float64 `json:"total_cost_usd"`
}

// Client wraps a langchaingo model with retries, token accounting and
// structured output parsing.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	retry       helper.RetryPolicy
	counter     tokenizer.Counter
	usage       *UsageTracker
}

type Option func(*Client)

func WithTokenCounter(c tokenizer.Counter) Option {
	return func(cl *Client) { cl.counter = c }
}

func NewClient(llm llms.Model, cfg config.LLMConfig, policy helper.RetryPolicy, opts ...Option) *Client {
	c := &Client{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       policy,
		usage:       NewUsageTracker(cfg.Model),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		c.counter = tokenizer.New(cfg.Model)
	}
	return c
}

// NewFromConfig creates the provider model named in cfg.
func NewFromConfig(cfg config.LLMConfig, policy helper.RetryPolicy) (*Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating LLM client")

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s llm: %w", cfg.Provider, err)
	}
	return NewClient(llm, cfg, policy), nil
}

func (c *Client) Model() string { return c.model }

// Generate sends prompt as a user message and returns the reply text.
// Transport failures are retried; the final failure wraps models.ErrGeneration.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var msgs []llms.MessageContent
	if opts.SystemMessage != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, opts.SystemMessage))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	callOpts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	promptTokens := c.countMessages(opts.SystemMessage, prompt)
	start := time.Now()

	var choice *llms.ContentChoice
	err := c.retry.Do(ctx, "generate", func(ctx context.Context) error {
		resp, err := c.llm.GenerateContent(ctx, msgs, callOpts...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return errors.New("empty response from model")
		}
		choice = resp.Choices[0]
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("Error generating response")
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}

	if n := infoInt(choice.GenerationInfo, "PromptTokens"); n > 0 {
		promptTokens = n
	}
	completionTokens := infoInt(choice.GenerationInfo, "CompletionTokens")
	if completionTokens == 0 {
		completionTokens = c.counter.Count(choice.Content)
	}
	c.usage.Record(promptTokens, completionTokens)

	log.Info().
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("Generated response")
	return choice.Content, nil
}

// GenerateStructured requests a JSON object. If the reply does not parse, it
// is cleaned once (reasoning tags and Markdown fences removed) and parsed
// again; a second failure is models.ErrMalformedResponse.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, maxTokens int) (map[string]any, error) {
	text, err := c.Generate(ctx, prompt, GenerateOptions{
		MaxTokens:     maxTokens,
		SystemMessage: models.JSONSystemMessage,
		JSONMode:      true,
	})
	if err != nil {
		return nil, err
	}
	return ParseJSONObject(text)
}

// ParseJSONObject decodes text as a JSON object, allowing one cleanup pass.
func ParseJSONObject(text string) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal([]byte(text), &out)
	if err == nil && out != nil {
		return out, nil
	}
	log.Warn().Err(err).Msg("JSON parsing failed, cleaning response")

	cleaned := CleanJSON(text)
	out = nil
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
	}
	return out, nil
}

// CleanJSON strips reasoning tags and a surrounding Markdown code fence.
func CleanJSON(text string) string {
	text = strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// EstimateCost projects the price of sending prompt and receiving
// completionTokens tokens back.
func (c *Client) EstimateCost(prompt string, completionTokens int) CostEstimate {
	if completionTokens <= 0 {
		completionTokens = DefaultCompletionEstimate
	}
	p := PricingFor(c.model)
	promptTokens := c.counter.Count(prompt)
	promptCost := float64(promptTokens) / 1000 * p.Prompt
	completionCost := float64(completionTokens) / 1000 * p.Completion
	return CostEstimate{
		Model:                     c.model,
		PromptTokens:              promptTokens,
		EstimatedCompletionTokens: completionTokens,
		PromptCostUSD:             round6(promptCost),
		CompletionCostUSD:         round6(completionCost),
		TotalCostUSD:              round6(promptCost + completionCost),
	}
}

func (c *Client) Usage() Usage { return c.usage.Snapshot() }

func (c *Client) ResetUsage() { c.usage.Reset() }

func (c *Client) countMessages(system, user string) int {
	n := tokensPerReply
	if system != "" {
		n += tokensPerMessage + c.counter.Count("system") + c.counter.Count(system)
	}
	n += tokensPerMessage + c.counter.Count("user") + c.counter.Count(user)
	return n
}

func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
