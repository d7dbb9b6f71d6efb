package generation

import (
	"context"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAI generates with an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client    *openai.Client
	model     string
	system    string
	maxTokens int
}

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(cfg Config) *OpenAI {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cc),
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
	}
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt string) Result {
	var msgs []openai.ChatCompletionMessage
	if o.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return Failed{Reason: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return Incomplete{}
	}
	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Incomplete{FinishReason: string(choice.FinishReason)}
	}
	return Completed{Text: text}
}
