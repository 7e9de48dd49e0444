package aisvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
)

const classifyPrompt = `You moderate messages posted on an online learning platform (courses, chats, instructor applications).
Classify the user's message and answer with a single JSON object:
{"verdict": "allowed" | "blocked" | "review", "categories": {"<category>": <score 0..1>}, "score": <overall score 0..1>, "action": "none" | "flag" | "block_and_flag"}
Use "blocked" for insults, harassment, threats or explicit content, "review" when unsure, "allowed" otherwise.`

const replyPrompt = `You are the assistant of the course %q on an online learning platform. No instructor is available right now.
Answer the learner's message helpfully and politely, in the language of the message, in at most %d words.
Never repeat the message back.`

// OpenAI talks to any OpenAI compatible chat completion API.
type OpenAI struct {
	client   *openai.Client
	model    string
	maxWords int
	breaker  *gobreaker.CircuitBreaker
	logger   core.Logger
}

var (
	_ moderation.Classifier = (*OpenAI)(nil)
	_ autoreply.Replier     = (*OpenAI)(nil)
)

func NewOpenAI(conf *core.Config, logger core.Logger) *OpenAI {
	cfg := openai.DefaultConfig(conf.AI.APIKey)
	if conf.AI.BaseURL != "" {
		cfg.BaseURL = conf.AI.BaseURL
	}
	return &OpenAI{
		client:   openai.NewClientWithConfig(cfg),
		model:    conf.AI.Model,
		maxWords: conf.AI.ReplyMaxWords,
		breaker:  newBreaker("openai", conf, logger),
		logger:   logger,
	}
}

func newBreaker(name string, conf *core.Config, logger core.Logger) *gobreaker.CircuitBreaker {
	maxFailures := conf.AI.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: conf.AI.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// the caller giving up says nothing about the API health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("circuit breaker %s: %s -> %s", name, from, to))
		},
	})
}

// complete runs one chat completion through the circuit breaker and returns the first choice.
func (c *OpenAI) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	resp := res.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAI) Classify(ctx context.Context, text string) (moderation.Classification, error) {
	content, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return moderation.Classification{}, err
	}
	return parseClassification(content)
}

func parseClassification(content string) (moderation.Classification, error) {
	content = strings.TrimSpace(content)
	// some models wrap JSON in a markdown fence
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")

	var cls moderation.Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return moderation.Classification{}, errors.Wrapf(moderation.ErrMalformedVerdict, "decoding %q: %v", content, err)
	}
	cls.Verdict = moderation.Verdict(strings.ToLower(strings.TrimSpace(string(cls.Verdict))))
	cls.Action = moderation.Action(strings.ToLower(strings.TrimSpace(string(cls.Action))))
	if !cls.IsWellFormed() {
		return moderation.Classification{}, errors.Wrapf(moderation.ErrMalformedVerdict, "invalid verdict %q", content)
	}
	return cls, nil
}

func (c *OpenAI) Reply(ctx context.Context, cc autoreply.ConversationContext) (string, error) {
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(replyPrompt, cc.FormationID, c.maxWords)},
			{Role: openai.ChatMessageRoleUser, Content: cc.Text},
		},
		User:        cc.FromUID,
		Temperature: 0.4,
		MaxTokens:   c.maxWords * 3,
	})
}
