package openalex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/scanner"
)

const (
	perPageSearch   = 20
	perPageAuthor   = 10
	perPageVenue    = 50
	perPageCitation = 50
	perPageCorpus   = 100
)

// Options tunes citation batching.
type Options struct {
	CitationBatch int
	CitationDelay time.Duration
	Clock         func() time.Time
}

// Scanner runs every OpenAlex query shape.
type Scanner struct {
	client  *Client
	limiter *rate.Limiter
	batch   int
	now     func() time.Time
	logger  *slog.Logger
}

var _ scanner.Scanner = (*Scanner)(nil)

// NewScanner wraps a client; citation batches default to 50 ids, 500ms apart.
func NewScanner(client *Client, opts Options, log *slog.Logger) *Scanner {
	if opts.CitationBatch <= 0 || opts.CitationBatch > 50 {
		opts.CitationBatch = 50
	}
	if opts.CitationDelay <= 0 {
		opts.CitationDelay = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scanner{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.CitationDelay), 1),
		batch:   opts.CitationBatch,
		now:     opts.Clock,
		logger:  log,
	}
}

// Name identifies the strategy inside the registry.
func (s *Scanner) Name() string {
	return "openalex"
}

// Supports lists the task types served by OpenAlex.
func (s *Scanner) Supports() []domain.TaskType {
	return []domain.TaskType{
		domain.TaskSearch,
		domain.TaskAuthor,
		domain.TaskCitation,
		domain.TaskAuthorCitations,
		domain.TaskJournal,
		domain.TaskISSN,
	}
}

// Scan dispatches a task to its query shape.
func (s *Scanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Paper, error) {
	task := req.Task
	switch task.Type {
	case domain.TaskSearch:
		return s.windowed(ctx, "title_and_abstract.search:"+task.Query, perPageSearch, req.Window)
	case domain.TaskAuthor:
		return s.windowed(ctx, "author.id:"+task.ID, perPageAuthor, req.Window)
	case domain.TaskJournal:
		return s.windowed(ctx, "primary_location.source.id:"+task.ID, perPageVenue, req.Window)
	case domain.TaskISSN:
		return s.windowed(ctx, "primary_location.source.issn:"+task.ISSN, perPageVenue, req.Window)
	case domain.TaskCitation:
		return s.citationsOfDOI(ctx, task.DOI, req.Window)
	case domain.TaskAuthorCitations:
		return s.citationsOfAuthor(ctx, task.ID, req.Window)
	default:
		return nil, fmt.Errorf("openalex: unsupported task type %q", task.Type)
	}
}

// FetchByDOI loads metadata for one DOI without a date window.
func (s *Scanner) FetchByDOI(ctx context.Context, doi string) ([]domain.Paper, error) {
	params := url.Values{}
	params.Set("filter", "doi:"+domain.NormalizeDOI(doi))
	return s.query(ctx, params)
}

func (s *Scanner) windowed(ctx context.Context, filter string, perPage int, window domain.Window) ([]domain.Paper, error) {
	params := url.Values{}
	params.Set("filter", fmt.Sprintf("%s,from_publication_date:%s,to_publication_date:%s",
		filter, window.From.Format("2006-01-02"), window.To.Format("2006-01-02")))
	params.Set("sort", "publication_date:desc")
	params.Set("per_page", strconv.Itoa(perPage))
	return s.query(ctx, params)
}

func (s *Scanner) query(ctx context.Context, params url.Values) ([]domain.Paper, error) {
	works, err := s.client.Works(ctx, params)
	if err != nil {
		return nil, err
	}
	now := s.now()
	papers := make([]domain.Paper, 0, len(works))
	for _, w := range works {
		papers = append(papers, toPaper(w, now))
	}
	return papers, nil
}

func (s *Scanner) citationsOfDOI(ctx context.Context, doi string, window domain.Window) ([]domain.Paper, error) {
	params := url.Values{}
	params.Set("filter", "doi:"+domain.NormalizeDOI(doi))
	params.Set("select", "id")

	works, err := s.client.Works(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("resolve doi %s: %w", doi, err)
	}
	if len(works) == 0 || works[0].ID == "" {
		s.warn("doi not found in openalex", "doi", doi)
		return nil, nil
	}

	return s.windowed(ctx, "cites:"+shortID(works[0].ID), perPageCitation, window)
}

// citationsOfAuthor resolves the author's corpus, then queries citing works in
// rate-limited batches. Failed batches are skipped and reported together.
func (s *Scanner) citationsOfAuthor(ctx context.Context, authorID string, window domain.Window) ([]domain.Paper, error) {
	params := url.Values{}
	params.Set("filter", "author.id:"+authorID)
	params.Set("select", "id")
	params.Set("per_page", strconv.Itoa(perPageCorpus))

	works, err := s.client.Works(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("resolve works of author %s: %w", authorID, err)
	}

	ids := make([]string, 0, len(works))
	for _, w := range works {
		if id := shortID(w.ID); id != "" {
			ids = append(ids, id)
		}
	}
	s.info("resolved author corpus", "author", authorID, "works", len(ids))

	var (
		citing []domain.Paper
		errs   []error
	)
	total := (len(ids) + s.batch - 1) / s.batch
	for i := 0; i < len(ids); i += s.batch {
		end := min(i+s.batch, len(ids))
		if err := s.limiter.Wait(ctx); err != nil {
			return citing, errors.Join(append(errs, err)...)
		}

		s.debug("checking citation batch", "batch", i/s.batch+1, "of", total)
		batch, err := s.windowed(ctx, "cites:"+strings.Join(ids[i:end], "|"), perPageCitation, window)
		if err != nil {
			s.warn("citation batch failed", "author", authorID, "batch", i/s.batch+1, "error", err)
			errs = append(errs, fmt.Errorf("batch %d: %w", i/s.batch+1, err))
			continue
		}
		citing = append(citing, batch...)
	}

	return citing, errors.Join(errs...)
}

func (s *Scanner) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scanner) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scanner) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
