package solve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"quizzer/internal/config"
)

// GeminiClient implements LLMClient on the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction, requesting a
// JSON response at low temperature.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}
