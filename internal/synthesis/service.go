package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/infrastructure/llm"
	"BiblioScanner/internal/ports"
)

const (
	defaultTimeout       = 10 * time.Minute
	defaultMaxInputChars = 120_000
	defaultMaxTokens     = 4096
)

// ErrEmptySummary is returned when the backend produced no usable text.
var ErrEmptySummary = errors.New("model returned an empty summary")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Options configures where summaries go and how the model is prompted.
type Options struct {
	SummariesDir  string
	Prompt        string
	Models        map[string]string
	Timeout       time.Duration
	MaxInputChars int
	MaxTokens     int
	Clock         func() time.Time
}

// Sidecar is the structured record written next to every summary.
type Sidecar struct {
	Title           string          `json:"title"`
	Published       string          `json:"published"`
	Authors         []string        `json:"authors"`
	AuthorIDs       []string        `json:"author_ids"`
	Journal         string          `json:"journal"`
	DOI             string          `json:"doi,omitempty"`
	Link            string          `json:"link"`
	FullText        bool            `json:"full_text"`
	Strategy        domain.Strategy `json:"strategy"`
	Backend         string          `json:"backend"`
	Model           string          `json:"model"`
	RelevanceReason string          `json:"relevance_reason"`
	GeneratedAt     string          `json:"generated_at"`
}

// Service turns acquired text into a Markdown summary plus a JSON sidecar.
type Service struct {
	opts       Options
	generators *llm.Registry
	pricing    llm.Pricing
	usage      ports.UsageRecorder
	logger     *slog.Logger
}

var _ ports.Synthesizer = (*Service)(nil)

// NewService wires the synthesis step.
func NewService(opts Options, generators *llm.Registry, pricing llm.Pricing, usage ports.UsageRecorder, log *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = defaultMaxInputChars
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{opts: opts, generators: generators, pricing: pricing, usage: usage, logger: log}
}

// Synthesize asks the requested backend for a summary and writes
// summaries/{YYYY}/{identity}.md and .json. Nothing is written on failure.
func (s *Service) Synthesize(ctx context.Context, req ports.SynthesisRequest) (domain.SynthesisResult, error) {
	generator, err := s.generators.Resolve(req.Backend)
	if err != nil {
		return domain.SynthesisResult{}, err
	}
	if strings.TrimSpace(req.Acquisition.Text) == "" {
		return domain.SynthesisResult{}, fmt.Errorf("no text to summarise for %q", req.Paper.Title)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	completion, err := generator.Generate(callCtx, llm.Request{
		Model:       s.opts.Models[req.Backend],
		System:      s.opts.Prompt,
		Prompt:      s.prompt(req),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: 0.2,
	})
	if generator.Paid() && (completion.PromptTokens > 0 || completion.CompletionTokens > 0) {
		s.recordUsage(ctx, completion)
	}
	if err != nil {
		return domain.SynthesisResult{}, fmt.Errorf("generate summary: %w", err)
	}

	body := strings.TrimSpace(thinkBlock.ReplaceAllString(completion.Text, ""))
	if body == "" {
		return domain.SynthesisResult{}, ErrEmptySummary
	}

	dir := filepath.Join(s.opts.SummariesDir, req.Paper.Year())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.SynthesisResult{}, fmt.Errorf("create summaries directory: %w", err)
	}
	base := filepath.Join(dir, req.Paper.IdentityFilename())
	result := domain.SynthesisResult{
		SummaryPath: base + ".md",
		SidecarPath: base + ".json",
		Backend:     generator.Backend(),
	}

	sidecar, err := json.MarshalIndent(s.sidecar(req, generator.Backend(), completion.Model), "", "  ")
	if err != nil {
		return domain.SynthesisResult{}, fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := writeFile(result.SummaryPath, []byte(renderMarkdown(req, body))); err != nil {
		return domain.SynthesisResult{}, err
	}
	if err := writeFile(result.SidecarPath, append(sidecar, '\n')); err != nil {
		return domain.SynthesisResult{}, err
	}

	s.info("summary written", "title", req.Paper.Title, "path", result.SummaryPath, "backend", result.Backend, "full_text", req.Acquisition.FullText)
	return result, nil
}

func (s *Service) prompt(req ports.SynthesisRequest) string {
	text := req.Acquisition.Text
	if r := []rune(text); len(r) > s.opts.MaxInputChars {
		text = string(r[:s.opts.MaxInputChars])
	}
	kind := "full text"
	if !req.Acquisition.FullText {
		kind = "abstract only"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", req.Paper.Title)
	fmt.Fprintf(&b, "Journal: %s\n", req.Paper.Source)
	if len(req.Paper.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(req.Paper.Authors, ", "))
	}
	fmt.Fprintf(&b, "Source text (%s):\n\n%s\n", kind, text)
	return b.String()
}

func (s *Service) sidecar(req ports.SynthesisRequest, backend, model string) Sidecar {
	p := req.Paper
	authors := p.Authors
	if authors == nil {
		authors = []string{}
	}
	ids := p.AuthorIDs
	if ids == nil {
		ids = []string{}
	}
	return Sidecar{
		Title:           p.Title,
		Published:       p.Published.Format("2006-01-02"),
		Authors:         authors,
		AuthorIDs:       ids,
		Journal:         p.Source,
		DOI:             p.DOI,
		Link:            p.Link,
		FullText:        req.Acquisition.FullText,
		Strategy:        req.Acquisition.Strategy,
		Backend:         backend,
		Model:           model,
		RelevanceReason: req.Verdict.Reason,
		GeneratedAt:     s.opts.Clock().UTC().Format(time.RFC3339),
	}
}

func (s *Service) recordUsage(ctx context.Context, c llm.Completion) {
	if s.usage == nil {
		return
	}
	s.usage.RecordUsage(ctx, domain.UsageRecord{
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		Cost:             s.pricing.Cost(c.Model, c.PromptTokens, c.CompletionTokens),
	})
}

func (s *Service) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// writeFile replaces path atomically so a crash never leaves half a summary.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("move %s into place: %w", path, err)
	}
	return nil
}
