package relevance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/infrastructure/llm"
	"BiblioScanner/internal/ports"
)

const (
	defaultTimeout   = 5 * time.Minute
	verdictMaxTokens = 200
)

// Recorder receives failure events and paid usage.
type Recorder interface {
	ports.EventRecorder
	ports.UsageRecorder
}

// Options configures the cascade.
type Options struct {
	Criteria         string
	JournalBlacklist []string
	TopicWhitelist   []string
	TopicBlacklist   []string
	// Backend names the generator used for the LLM stage; Model overrides its default model.
	Backend string
	Model   string
	Timeout time.Duration
}

// Filter runs journal blacklist, topic whitelist, topic blacklist and then an LLM judgment.
type Filter struct {
	opts       Options
	generators *llm.Registry
	pricing    llm.Pricing
	recorder   Recorder
	logger     *slog.Logger
}

var _ ports.RelevanceFilter = (*Filter)(nil)

// NewFilter wires the cascade.
func NewFilter(opts Options, generators *llm.Registry, pricing llm.Pricing, recorder Recorder, log *slog.Logger) *Filter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Filter{
		opts:       opts,
		generators: generators,
		pricing:    pricing,
		recorder:   recorder,
		logger:     log,
	}
}

// Check returns the first decisive verdict. Stages before the LLM never call it,
// and any LLM failure yields a not-relevant verdict.
func (f *Filter) Check(ctx context.Context, paper domain.Paper) domain.Verdict {
	if v, ok := f.journalBlacklist(paper); ok {
		return v
	}
	if v, ok := f.topicWhitelist(paper); ok {
		return v
	}
	if v, ok := f.topicBlacklist(paper); ok {
		return v
	}
	return f.judge(ctx, paper)
}

func (f *Filter) journalBlacklist(paper domain.Paper) (domain.Verdict, bool) {
	venue := strings.ToLower(paper.Source)
	for _, entry := range f.opts.JournalBlacklist {
		term := strings.ToLower(strings.TrimSpace(entry))
		if term != "" && strings.Contains(venue, term) {
			return domain.Verdict{
				Relevant: false,
				Reason:   fmt.Sprintf("Journal blacklisted: %s", entry),
				Stage:    domain.StageJournalBlacklist,
			}, true
		}
	}
	return domain.Verdict{}, false
}

func (f *Filter) topicWhitelist(paper domain.Paper) (domain.Verdict, bool) {
	if len(paper.Topics) == 0 || len(f.opts.TopicWhitelist) == 0 {
		return domain.Verdict{}, false
	}
	if _, _, ok := matchTopic(paper.Topics, f.opts.TopicWhitelist); ok {
		return domain.Verdict{}, false
	}
	return domain.Verdict{
		Relevant: false,
		Reason:   fmt.Sprintf("No whitelisted topic among: %s", strings.Join(paper.Topics, ", ")),
		Stage:    domain.StageTopicWhitelist,
	}, true
}

func (f *Filter) topicBlacklist(paper domain.Paper) (domain.Verdict, bool) {
	topic, term, ok := matchTopic(paper.Topics, f.opts.TopicBlacklist)
	if !ok {
		return domain.Verdict{}, false
	}
	return domain.Verdict{
		Relevant: false,
		Reason:   fmt.Sprintf("Topic blacklisted: %s (matched %q)", topic, term),
		Stage:    domain.StageTopicBlacklist,
	}, true
}

// matchTopic reports the first topic containing any term, case-insensitively.
func matchTopic(topics, terms []string) (string, string, bool) {
	for _, topic := range topics {
		lower := strings.ToLower(topic)
		for _, term := range terms {
			t := strings.ToLower(strings.TrimSpace(term))
			if t != "" && strings.Contains(lower, t) {
				return topic, term, true
			}
		}
	}
	return "", "", false
}

func (f *Filter) judge(ctx context.Context, paper domain.Paper) domain.Verdict {
	generator, err := f.generators.Resolve(f.opts.Backend)
	if err != nil {
		return f.failClosed(ctx, paper, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	completion, err := generator.Generate(callCtx, llm.Request{
		Model:       f.opts.Model,
		System:      f.opts.Criteria,
		Prompt:      fmt.Sprintf("Title: %s\n\nAbstract: %s\n", paper.Title, paper.Abstract),
		JSON:        true,
		MaxTokens:   verdictMaxTokens,
		Stop:        []string{"<think>", "</think>"},
		Temperature: 0,
		NoThinking:  true,
	})
	if generator.Paid() && (completion.PromptTokens > 0 || completion.CompletionTokens > 0) {
		f.recordUsage(ctx, completion)
	}
	if err != nil {
		return f.failClosed(ctx, paper, err)
	}

	relevant, reason, err := parseVerdict(completion.Text)
	if err != nil {
		return f.failClosed(ctx, paper, err)
	}

	f.debug("llm verdict", "title", paper.Title, "relevant", relevant, "backend", generator.Backend())
	return domain.Verdict{Relevant: relevant, Reason: reason, Stage: domain.StageLLM}
}

func (f *Filter) recordUsage(ctx context.Context, c llm.Completion) {
	if f.recorder == nil {
		return
	}
	f.recorder.RecordUsage(ctx, domain.UsageRecord{
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		Cost:             f.pricing.Cost(c.Model, c.PromptTokens, c.CompletionTokens),
	})
}

func (f *Filter) failClosed(ctx context.Context, paper domain.Paper, err error) domain.Verdict {
	msg := fmt.Sprintf("Relevance check failed for %q: %v", paper.Title, err)
	if f.logger != nil {
		f.logger.Error("relevance check failed", "title", paper.Title, "error", err)
	}
	if f.recorder != nil {
		f.recorder.RecordEvent(ctx, domain.EventError, msg)
	}
	return domain.Verdict{
		Relevant: false,
		Reason:   fmt.Sprintf("Relevance check failed: %v", err),
		Stage:    domain.StageError,
	}
}

func (f *Filter) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
