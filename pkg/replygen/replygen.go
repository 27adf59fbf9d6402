// Package replygen asks an OpenAI-compatible chat endpoint for a
// character reply, using the connection details stored in a World's config.
// The data layer never calls it; UI code does, then saves the cleaned text
// as a chat message.
package replygen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
)

// Generator produces replies. The zero value is usable.
type Generator struct {
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
	// Temperature defaults to DefaultTemperature when zero.
	Temperature float32
}

// Reply sends prompt as a single user message and returns the raw reply
// text. When the model returns no content, its reasoning content is used.
func (g *Generator) Reply(ctx context.Context, prompt string, cfg store.Config) (string, error) {
	const op = "generateReply"
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.Validation(op, "empty prompt")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIURL, "/")
	}
	if g.HTTPClient != nil {
		oc.HTTPClient = g.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temp := g.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}

	resp, err := openai.NewClientWithConfig(oc).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temp,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", op, errors.New("no choices in response"))
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		return msg.Content, nil
	}
	return msg.ReasoningContent, nil
}

// Generate is Reply followed by Clean.
func (g *Generator) Generate(ctx context.Context, prompt string, cfg store.Config) (string, error) {
	raw, err := g.Reply(ctx, prompt, cfg)
	if err != nil {
		return "", err
	}
	return Clean(raw), nil
}
