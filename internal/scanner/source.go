package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

const (
	promotedJournalsTask = "Auto-Promoted Journals"
	promotedAuthorsTask  = "Auto-Promoted Authors"
)

// DirectFetcher resolves a single DOI to paper metadata.
type DirectFetcher interface {
	FetchByDOI(ctx context.Context, doi string) ([]domain.Paper, error)
}

// SourceLedger is the slice of the ledger discovery depends on.
type SourceLedger interface {
	ports.SeenChecker
	ports.EventRecorder
	ports.MonitoredSource
}

// StrategySource implements PaperSource via registered scanner strategies.
type StrategySource struct {
	registry *Registry
	tasks    []domain.Task
	ledger   SourceLedger
	direct   DirectFetcher
	logger   *slog.Logger
}

var _ ports.PaperSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with configured tasks.
func NewStrategySource(reg *Registry, tasks []domain.Task, ledger SourceLedger, direct DirectFetcher, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		tasks:    tasks,
		ledger:   ledger,
		direct:   direct,
		logger:   log,
	}
}

// Discover runs static and promoted tasks sequentially and concatenates their
// unseen results in task order. A failing task contributes nothing.
func (s *StrategySource) Discover(ctx context.Context, req ports.DiscoverRequest) ([]domain.Paper, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	tasks := s.plan(ctx, req.LegacyRSS)
	s.debug("discover", "tasks", len(tasks), "from", req.Window.From.Format("2006-01-02"), "to", req.Window.To.Format("2006-01-02"))

	var aggregated []domain.Paper
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return aggregated, err
		}

		strategy, err := s.registry.Resolve(task.Type)
		if err != nil {
			s.fail(ctx, task, err)
			continue
		}

		s.info("running discovery task", "task", task.Name, "type", task.Type, "scanner", strategy.Name())
		results, err := strategy.Scan(ctx, Request{Task: task, Window: req.Window})
		if err != nil {
			s.fail(ctx, task, err)
		}

		kept := s.dropSeen(ctx, results, req.IgnoreSeen)
		s.debug("task produced papers", "task", task.Name, "raw", len(results), "kept", len(kept))
		aggregated = append(aggregated, kept...)
	}

	s.info("discovery complete", "papers", len(aggregated))
	return aggregated, nil
}

// FetchByDOI loads one paper for manual processing; the seen check is skipped.
func (s *StrategySource) FetchByDOI(ctx context.Context, doi string) ([]domain.Paper, error) {
	if s.direct == nil {
		return nil, fmt.Errorf("direct DOI fetch is not configured")
	}
	papers, err := s.direct.FetchByDOI(ctx, domain.NormalizeDOI(doi))
	if err != nil {
		return nil, fmt.Errorf("fetch doi %s: %w", doi, err)
	}
	return papers, nil
}

func (s *StrategySource) plan(ctx context.Context, legacyRSS bool) []domain.Task {
	tasks := make([]domain.Task, 0, len(s.tasks)+2)
	for _, task := range s.tasks {
		if task.Type == domain.TaskRSS && !legacyRSS {
			continue
		}
		tasks = append(tasks, task)
	}

	if s.ledger == nil {
		return tasks
	}

	journals, err := s.ledger.MonitoredJournals(ctx)
	if err != nil {
		s.warn("load monitored journals", "error", err)
	} else if len(journals) > 0 {
		tasks = append(tasks, domain.Task{Name: promotedJournalsTask, Type: domain.TaskJournal, ID: strings.Join(journals, "|")})
	}

	authors, err := s.ledger.MonitoredAuthors(ctx)
	if err != nil {
		s.warn("load monitored authors", "error", err)
	} else if len(authors) > 0 {
		tasks = append(tasks, domain.Task{Name: promotedAuthorsTask, Type: domain.TaskAuthor, ID: strings.Join(authors, "|")})
	}

	return tasks
}

func (s *StrategySource) dropSeen(ctx context.Context, papers []domain.Paper, ignoreSeen bool) []domain.Paper {
	if ignoreSeen || s.ledger == nil {
		return papers
	}

	kept := papers[:0:0]
	for _, paper := range papers {
		seen, err := s.ledger.IsSeen(ctx, paper.Link, paper.DOI)
		if err != nil {
			s.warn("seen check failed, keeping paper", "link", paper.Link, "error", err)
		}
		if seen {
			continue
		}
		kept = append(kept, paper)
	}
	return kept
}

func (s *StrategySource) fail(ctx context.Context, task domain.Task, err error) {
	msg := fmt.Sprintf("Discovery task %q (%s) failed: %v", task.Name, task.Type, err)
	if s.logger != nil {
		s.logger.Error("discovery task failed", "task", task.Name, "type", task.Type, "error", err)
	}
	if s.ledger != nil {
		s.ledger.RecordEvent(ctx, domain.EventError, msg)
	}
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
