package openalex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/scanner"
)

func TestReconstructAbstract(t *testing.T) {
	t.Parallel()

	got := reconstructAbstract(map[string][]int{"hydrology": {0, 2}, "water": {1}})
	assert.Equal(t, "hydrology water hydrology", got)
	assert.Empty(t, reconstructAbstract(nil))
}

func TestToPaper(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	work := Work{
		ID:              "https://openalex.org/W42",
		DOI:             "https://doi.org/10.5194/HESS-1",
		Title:           "FLOOD RISK IN THE ALPS",
		PublicationDate: "2024-03-05",
		Type:            "article",
		PrimaryLocation: &Location{Source: &Source{ID: "https://openalex.org/S7", DisplayName: "HESS"}},
		Authorships: []Authorship{
			{Author: Author{ID: "https://openalex.org/A1", DisplayName: "Jane Doe"}},
			{Author: Author{DisplayName: "No Id"}},
		},
		Topics: []Topic{{DisplayName: "Flood Risk"}},
	}

	p := toPaper(work, now)
	assert.Equal(t, "https://doi.org/10.5194/HESS-1", p.Link, "link keeps the resolver URL")
	assert.Equal(t, "10.5194/HESS-1", p.DOI)
	assert.Equal(t, "Flood Risk in the Alps", p.Title)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), p.Published)
	assert.Equal(t, "HESS", p.Source)
	assert.Equal(t, "S7", p.SourceID)
	assert.Equal(t, []string{"Jane Doe", "No Id"}, p.Authors)
	assert.Equal(t, []string{"A1"}, p.AuthorIDs)
	assert.Equal(t, []string{"Flood Risk"}, p.Topics)

	bare := toPaper(Work{ID: "https://openalex.org/W1"}, now)
	assert.Equal(t, "https://openalex.org/W1", bare.Link)
	assert.Equal(t, now, bare.Published)
	assert.Equal(t, unknownSource, bare.Source)
}

type recordedQuery struct {
	filter  string
	perPage string
	sel     string
	mailto  string
}

func newOpenAlexServer(t *testing.T, handle func(q recordedQuery) string) (*httptest.Server, *[]recordedQuery) {
	t.Helper()
	var (
		mu      sync.Mutex
		queries []recordedQuery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works" {
			http.NotFound(w, r)
			return
		}
		q := recordedQuery{
			filter:  r.URL.Query().Get("filter"),
			perPage: r.URL.Query().Get("per_page"),
			sel:     r.URL.Query().Get("select"),
			mailto:  r.URL.Query().Get("mailto"),
		}
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handle(q)))
	}))
	t.Cleanup(srv.Close)
	return srv, &queries
}

func testWindow() domain.Window {
	return domain.Window{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestScanSearchBuildsWindowedFilter(t *testing.T) {
	t.Parallel()

	srv, queries := newOpenAlexServer(t, func(recordedQuery) string {
		return `{"results":[{"id":"https://openalex.org/W1","title":"A","publication_date":"2024-01-10","abstract_inverted_index":{"karst":[0]}}]}`
	})
	s := NewScanner(NewClient(srv.URL, "me@example.org", srv.Client(), nil), Options{}, nil)

	papers, err := s.Scan(context.Background(), scanner.Request{
		Task:   domain.Task{Type: domain.TaskSearch, Query: "karst"},
		Window: testWindow(),
	})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "karst", papers[0].Abstract)

	require.Len(t, *queries, 1)
	q := (*queries)[0]
	assert.Equal(t, "title_and_abstract.search:karst,from_publication_date:2024-01-01,to_publication_date:2024-02-01", q.filter)
	assert.Equal(t, "20", q.perPage)
	assert.Equal(t, "me@example.org", q.mailto)
}

func TestScanAuthorCitationsBatches(t *testing.T) {
	t.Parallel()

	srv, queries := newOpenAlexServer(t, func(q recordedQuery) string {
		if q.sel == "id" {
			return `{"results":[{"id":"https://openalex.org/W1"},{"id":"https://openalex.org/W2"},{"id":"https://openalex.org/W3"}]}`
		}
		if strings.Contains(q.filter, "W3") {
			return `{"results":[{"id":"https://openalex.org/W30","title":"Cites three"}]}`
		}
		return `{"results":[{"id":"https://openalex.org/W10","title":"Cites one"}]}`
	})
	s := NewScanner(NewClient(srv.URL, "", srv.Client(), nil), Options{CitationBatch: 2, CitationDelay: time.Millisecond}, nil)

	papers, err := s.Scan(context.Background(), scanner.Request{
		Task:   domain.Task{Type: domain.TaskAuthorCitations, ID: "A9"},
		Window: testWindow(),
	})
	require.NoError(t, err)
	require.Len(t, papers, 2)

	require.Len(t, *queries, 3)
	assert.Equal(t, "author.id:A9", (*queries)[0].filter)
	assert.Equal(t, "100", (*queries)[0].perPage)
	assert.True(t, strings.HasPrefix((*queries)[1].filter, "cites:W1|W2,"))
	assert.True(t, strings.HasPrefix((*queries)[2].filter, "cites:W3,"))
	assert.Equal(t, "50", (*queries)[2].perPage)
}

func TestScanCitationResolvesDOI(t *testing.T) {
	t.Parallel()

	srv, queries := newOpenAlexServer(t, func(q recordedQuery) string {
		if strings.HasPrefix(q.filter, "doi:") {
			return `{"results":[{"id":"https://openalex.org/W77"}]}`
		}
		return `{"results":[]}`
	})
	s := NewScanner(NewClient(srv.URL, "", srv.Client(), nil), Options{}, nil)

	_, err := s.Scan(context.Background(), scanner.Request{
		Task:   domain.Task{Type: domain.TaskCitation, DOI: "https://doi.org/10.1/abc"},
		Window: testWindow(),
	})
	require.NoError(t, err)
	require.Len(t, *queries, 2)
	assert.Equal(t, "doi:10.1/abc", (*queries)[0].filter)
	assert.True(t, strings.HasPrefix((*queries)[1].filter, "cites:W77,"))
}

func TestFetchByDOIHasNoWindow(t *testing.T) {
	t.Parallel()

	srv, queries := newOpenAlexServer(t, func(recordedQuery) string {
		return `{"results":[{"id":"https://openalex.org/W5","doi":"https://doi.org/10.2/x"}]}`
	})
	s := NewScanner(NewClient(srv.URL, "", srv.Client(), nil), Options{}, nil)

	papers, err := s.FetchByDOI(context.Background(), "doi:10.2/x")
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "10.2/x", papers[0].DOI)
	assert.Equal(t, "doi:10.2/x", (*queries)[0].filter)
}

func TestWorksParseErrors(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"missing results": `{"meta":{}}`,
		"anonymous work":  `{"results":[{"title":"no ids"}]}`,
		"not json":        `<html>`,
	}
	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newOpenAlexServer(t, func(recordedQuery) string { return body })
			c := NewClient(srv.URL, "", srv.Client(), nil)

			_, err := c.Works(context.Background(), map[string][]string{})
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), fmt.Sprintf("expected ParseError, got %v", err))
		})
	}
}

func TestWorksStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", srv.Client(), nil)
	_, err := c.Works(context.Background(), map[string][]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
