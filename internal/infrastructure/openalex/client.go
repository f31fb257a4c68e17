package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openalex.org"

// ParseError reports a response that lacks fields the mapper depends on.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("openalex: parse %s: %s", e.Field, e.Reason)
}

// Work is the subset of an OpenAlex work object that discovery consumes.
type Work struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	PublicationDate       string           `json:"publication_date"`
	Type                  string           `json:"type"`
	PrimaryLocation       *Location        `json:"primary_location"`
	Authorships           []Authorship     `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Topics                []Topic          `json:"topics"`
}

// Location is where a work is hosted.
type Location struct {
	Source *Source `json:"source"`
}

// Source is a venue (journal, repository, conference).
type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Authorship ties an author to a work.
type Authorship struct {
	Author Author `json:"author"`
}

// Author is an OpenAlex author stub.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Topic is a classification label.
type Topic struct {
	DisplayName string `json:"display_name"`
}

type worksResponse struct {
	Results *[]Work `json:"results"`
}

// Client performs GET /works queries.
type Client struct {
	baseURL string
	email   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient wires an HTTP client; a nil client gets a 30s timeout.
func NewClient(baseURL, email string, client *http.Client, log *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		email:   email,
		http:    client,
		logger:  log,
	}
}

// Works runs one query and validates the response shape.
func (c *Client) Works(ctx context.Context, params url.Values) ([]Work, error) {
	if c.email != "" {
		params.Set("mailto", c.email)
	}
	endpoint := c.baseURL + "/works?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "BiblioScanner/1.0")

	if c.logger != nil {
		c.logger.Debug("openalex request", "filter", params.Get("filter"), "per_page", params.Get("per_page"))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request works: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openalex returned %s", resp.Status)
	}

	var payload worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ParseError{Field: "body", Reason: err.Error()}
	}
	if payload.Results == nil {
		return nil, &ParseError{Field: "results", Reason: "missing"}
	}

	works := *payload.Results
	for i, w := range works {
		if w.ID == "" && w.DOI == "" {
			return nil, &ParseError{Field: fmt.Sprintf("results[%d]", i), Reason: "work has neither id nor doi"}
		}
	}
	return works, nil
}
