package feeds

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/scanner"
)

const unknownJournal = "Unknown Journal"

var excludedSources = []string{"Zenodo", "Figshare", "Unknown Source", unknownJournal}

// Scanner reads journal RSS/Atom feeds for the legacy rss task type.
type Scanner struct {
	client *http.Client
	strip  *bluemonday.Policy
	now    func() time.Time
	logger *slog.Logger
}

var _ scanner.Scanner = (*Scanner)(nil)

// NewScanner wires an HTTP client; a nil client gets a 30s timeout.
func NewScanner(client *http.Client, log *slog.Logger) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scanner{
		client: client,
		strip:  bluemonday.StrictPolicy(),
		now:    time.Now,
		logger: log,
	}
}

// Name identifies the strategy inside the registry.
func (s *Scanner) Name() string {
	return "rss"
}

// Supports lists the task types served by feeds.
func (s *Scanner) Supports() []domain.TaskType {
	return []domain.TaskType{domain.TaskRSS}
}

// Scan parses one feed. Entries from excluded repositories are dropped.
func (s *Scanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Paper, error) {
	feedURL := strings.TrimSpace(req.Task.FeedURL)
	if feedURL == "" {
		return nil, fmt.Errorf("task %s has no feed url", req.Task.Name)
	}

	fp := gofeed.NewParser()
	fp.Client = s.client
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = unknownJournal
	}
	for _, excl := range excludedSources {
		if strings.Contains(source, excl) {
			s.debug("skip excluded feed source", "feed", feedURL, "source", source)
			return nil, nil
		}
	}

	papers := make([]domain.Paper, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		papers = append(papers, s.toPaper(item, source))
	}

	s.debug("feed parsed", "feed", feedURL, "source", source, "items", len(feed.Items), "papers", len(papers))
	return papers, nil
}

func (s *Scanner) toPaper(item *gofeed.Item, source string) domain.Paper {
	published := s.now()
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	authors := itemAuthors(item)
	abstract := summary

	// Copernicus-style summaries: "<b>Title</b><br /> Authors <br /> Abstract".
	if parts := strings.Split(summary, "<br />"); len(parts) >= 2 {
		if len(authors) == 0 {
			if candidate := strings.TrimSpace(s.text(parts[1])); len(candidate) > 0 && len(candidate) < 300 {
				authors = splitNames(candidate)
			}
		}
		if len(parts) >= 3 {
			abstract = strings.Join(parts[2:], "<br />")
		} else {
			abstract = parts[1]
		}
	}

	title := item.Title
	if strings.TrimSpace(title) == "" {
		title = "No Title"
	}

	return domain.NewPaper(domain.Paper{
		Title:     s.text(title),
		Link:      strings.TrimSpace(item.Link),
		Published: published,
		Source:    source,
		Abstract:  s.text(abstract),
		Authors:   authors,
		DOI:       extractDOI(item),
		WorkType:  "article",
	})
}

func (s *Scanner) text(fragment string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s.strip.Sanitize(fragment))), " ")
}

func itemAuthors(item *gofeed.Item) []string {
	var authors []string
	for _, person := range item.Authors {
		if person != nil && strings.TrimSpace(person.Name) != "" {
			authors = append(authors, strings.TrimSpace(person.Name))
		}
	}
	if len(authors) == 1 {
		return splitNames(authors[0])
	}
	return authors
}

func splitNames(raw string) []string {
	sep := ""
	switch {
	case strings.Contains(raw, ";"):
		sep = ";"
	case strings.Contains(raw, ","):
		sep = ","
	default:
		return []string{strings.TrimSpace(raw)}
	}
	var names []string
	for _, name := range strings.Split(raw, sep) {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// extractDOI looks at prism:doi, dc:identifier and the entry id in that order.
func extractDOI(item *gofeed.Item) string {
	if prism, ok := item.Extensions["prism"]; ok {
		for _, ext := range prism["doi"] {
			if v := strings.TrimSpace(ext.Value); v != "" {
				return domain.NormalizeDOI(v)
			}
		}
	}

	if item.DublinCoreExt != nil {
		for _, id := range item.DublinCoreExt.Identifier {
			if strings.Contains(strings.ToLower(id), "doi") {
				return domain.NormalizeDOI(id)
			}
		}
	}

	id := strings.TrimSpace(item.GUID)
	if i := strings.Index(id, "doi.org/"); i >= 0 {
		return domain.NormalizeDOI(id[i+len("doi.org/"):])
	}
	if strings.HasPrefix(id, "doi:") {
		return domain.NormalizeDOI(id)
	}
	return ""
}

func (s *Scanner) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
