package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiClient is the planning collaborator: it turns prompts into JSON
// slide-plan payloads. Responses are requested in JSON mode, but the output
// still goes through the repair pass downstream because models leak fences
// and raw newlines anyway.
type GeminiClient struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	retrier *Retrier
}

func NewGeminiClient(ctx context.Context, apiKey string, retrier *Retrier) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.7)
	model.GenerationConfig.ResponseMIMEType = "application/json"

	return &GeminiClient{
		client:  client,
		model:   model,
		retrier: retrier,
	}, nil
}

func (g *GeminiClient) Close() {
	g.client.Close()
}

// Complete sends a system instruction plus user prompt and returns the raw
// response text. Rate-limit and server errors are retried with backoff;
// auth and bad-request errors fail immediately.
func (g *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	g.model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}

	return RetryDo(ctx, g.retrier, "gemini generate", func(ctx context.Context) (string, error) {
		resp, err := g.model.GenerateContent(ctx, genai.Text(user))
		if err != nil {
			return "", classifyGoogleAPIError(err)
		}
		return extractTextFromResponse(resp)
	})
}

func classifyGoogleAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && TransientHTTPStatus(apiErr.Code) {
		return &RateLimitError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini generation error: %w", err)
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}
