package reasoning

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI ORACLE
// =============================================================================

// GenAIOracle implements Oracle over Google's Gemini API.
type GenAIOracle struct {
	client *genai.Client
	model  string
}

// NewGenAIOracle creates a Gemini-backed oracle.
func NewGenAIOracle(ctx context.Context, apiKey, model string) (*GenAIOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIOracle{client: client, model: model}, nil
}

// Infer implements Oracle.
func (o *GenAIOracle) Infer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	var config *genai.GenerateContentConfig
	if systemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	result, err := o.client.Models.GenerateContent(ctx, o.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("GenAI inference failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}

// Model returns the current model.
func (o *GenAIOracle) Model() string { return o.model }
