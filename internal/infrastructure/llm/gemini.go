package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"BiblioScanner/internal/config"
)

// GeminiClient calls the hosted Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient builds a client from configuration. baseURL and httpClient
// are optional and only set when talking to a non-default endpoint.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, baseURL string, httpClient *http.Client) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

// Backend implements Generator.
func (c *GeminiClient) Backend() string { return config.BackendGemini }

// Paid implements Generator.
func (c *GeminiClient) Paid() bool { return true }

// Generate runs one GenerateContent call and reports token usage.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Stop) > 0 {
		gc.StopSequences = req.Stop
	}
	if req.NoThinking {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return Completion{}, fmt.Errorf("gemini generate: %w", err)
	}

	out := Completion{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount)
	}
	if strings.TrimSpace(out.Text) == "" {
		return out, fmt.Errorf("gemini returned an empty response")
	}
	return out, nil
}
