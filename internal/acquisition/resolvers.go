package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type unpaywallLocation struct {
	URLForPDF string `json:"url_for_pdf"`
}

type unpaywallResponse struct {
	BestOALocation *unpaywallLocation  `json:"best_oa_location"`
	OALocations    []unpaywallLocation `json:"oa_locations"`
}

type coreLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type coreWork struct {
	DownloadURL string     `json:"downloadUrl"`
	Links       []coreLink `json:"links"`
}

type coreResponse struct {
	Results []coreWork `json:"results"`
}

// fromElsevier fetches the article PDF from the Elsevier full-text API.
func (a *Acquirer) fromElsevier(ctx context.Context, doi, dest string) error {
	if a.opts.ElsevierAPIKey == "" || doi == "" {
		return errSkipped
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.DownloadTimeout)
	defer cancel()

	endpoint := strings.TrimSuffix(a.opts.ElsevierURL, "/") + "/content/article/doi/" + doi
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build elsevier request: %w", err)
	}
	req.Header.Set("X-ELS-APIKey", a.opts.ElsevierAPIKey)
	if a.opts.ElsevierInstToken != "" {
		req.Header.Set("X-ELS-Insttoken", a.opts.ElsevierInstToken)
	}
	req.Header.Set("Accept", "application/pdf")
	return a.savePDF(req, dest)
}

// unpaywallPDF asks Unpaywall for an open-access PDF location.
func (a *Acquirer) unpaywallPDF(ctx context.Context, doi string) (string, error) {
	if doi == "" || a.opts.UnpaywallEmail == "" {
		return "", errSkipped
	}

	endpoint := fmt.Sprintf("%s/v2/%s?email=%s", strings.TrimSuffix(a.opts.UnpaywallURL, "/"), doi, url.QueryEscape(a.opts.UnpaywallEmail))
	var payload unpaywallResponse
	if err := a.resolverJSON(ctx, http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		return "", fmt.Errorf("unpaywall: %w", err)
	}

	if payload.BestOALocation != nil && payload.BestOALocation.URLForPDF != "" {
		return payload.BestOALocation.URLForPDF, nil
	}
	for _, loc := range payload.OALocations {
		if loc.URLForPDF != "" {
			return loc.URLForPDF, nil
		}
	}
	return "", fmt.Errorf("unpaywall: no open-access pdf for %s", doi)
}

// corePDF searches CORE for a downloadable copy.
func (a *Acquirer) corePDF(ctx context.Context, doi string) (string, error) {
	if doi == "" || a.opts.CoreAPIKey == "" {
		return "", errSkipped
	}

	body, err := json.Marshal(map[string]any{"q": fmt.Sprintf("doi:%q", doi), "limit": 5})
	if err != nil {
		return "", fmt.Errorf("marshal core query: %w", err)
	}
	endpoint := strings.TrimSuffix(a.opts.CoreURL, "/") + "/v3/search/works"
	headers := map[string]string{
		"Authorization": "Bearer " + a.opts.CoreAPIKey,
		"Content-Type":  "application/json",
	}

	var payload coreResponse
	if err := a.resolverJSON(ctx, http.MethodPost, endpoint, body, headers, &payload); err != nil {
		return "", fmt.Errorf("core: %w", err)
	}

	for _, work := range payload.Results {
		if work.DownloadURL != "" {
			return work.DownloadURL, nil
		}
		for _, link := range work.Links {
			if strings.EqualFold(link.Type, "download") && link.URL != "" {
				return link.URL, nil
			}
		}
	}
	return "", fmt.Errorf("core: no download link for %s", doi)
}

func (a *Acquirer) resolverJSON(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.ResolverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptJSON)
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := a.http.do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: endpoint, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
