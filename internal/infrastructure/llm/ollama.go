package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"BiblioScanner/internal/config"
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Format  string          `json:"format,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// OllamaClient talks to a local Ollama server over /api/generate.
type OllamaClient struct {
	host  string
	model string
	http  *http.Client
}

var _ Generator = (*OllamaClient)(nil)

// NewOllamaClient builds a client from configuration; timeout defaults to five minutes.
func NewOllamaClient(cfg config.OllamaConfig) *OllamaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaClient{
		host:  strings.TrimSuffix(cfg.Host, "/"),
		model: cfg.Model,
		http:  &http.Client{Timeout: timeout},
	}
}

// Backend implements Generator.
func (c *OllamaClient) Backend() string { return config.BackendOllama }

// Paid implements Generator.
func (c *OllamaClient) Paid() bool { return false }

// Generate sends one non-streaming completion request.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (Completion, error) {
	if c == nil || c.host == "" {
		return Completion{}, fmt.Errorf("ollama client misconfigured")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	payload := generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
	}
	if req.JSON {
		payload.Format = "json"
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", payload, &resp); err != nil {
		return Completion{}, err
	}
	if !resp.Done {
		return Completion{}, fmt.Errorf("ollama returned an incomplete response")
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return Completion{
		Text:             resp.Response,
		Model:            model,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
