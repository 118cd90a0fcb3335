// Package llmclient provides chat-completion access to the LLM models
// used by the pipeline's filter/extend stages.
package llmclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/retry"
)

// Message is one chat turn.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Client issues chat completions against one named model, retrying
// transient upstream failures with the shared backoff policy.
type Client struct {
	cfg    config.LLMModelConfig
	policy retry.Policy
}

// New builds a Client for the given model config. The underlying
// openai.Client is created fresh per call (see Complete), matching the
// disposable-client pattern the pipeline's original ask_llm used: no
// long-lived connection pool to leak across pipeline runs.
func New(cfg config.LLMModelConfig, policy retry.Policy) *Client {
	return &Client{cfg: cfg, policy: policy}
}

// Complete sends messages to the configured model and returns the
// first choice's content, retried with exponential backoff on
// upstream I/O failure.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	clientConfig := openai.DefaultConfig(c.cfg.APIKey)
	if c.cfg.BaseURL != "" {
		clientConfig.BaseURL = c.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	if temp, ok := c.cfg.Params["temperature"].(float64); ok {
		req.Temperature = float32(temp)
	}
	if maxTokens, ok := c.cfg.Params["max_tokens"].(float64); ok {
		req.MaxTokens = int(maxTokens)
	}

	var content string
	err := retry.Do(ctx, c.policy, errs.Retryable, func(ctx context.Context) error {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return errs.New(errs.KindUpstreamIO, "llm_complete", err)
		}
		if len(resp.Choices) == 0 {
			return errs.New(errs.KindData, "llm_complete", fmt.Errorf("no choices returned"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
