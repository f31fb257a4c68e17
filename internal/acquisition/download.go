package acquisition

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// downloadDirect applies the publisher heuristics to target and downloads the PDF.
// Resolver links are followed first so a PII anywhere in the chain can be used.
func (a *Acquirer) downloadDirect(ctx context.Context, target, referer, dest string) error {
	if strings.TrimSpace(target) == "" {
		return errSkipped
	}

	candidate := target
	if needsResolution(target) {
		final, hops, err := a.resolveChain(ctx, target)
		if err != nil {
			a.debug("redirect resolution failed", "url", target, "error", err)
		}
		if pdfURL, ok := sciencedirectPDF(hops); ok {
			candidate = pdfURL
		} else if final != "" {
			candidate = final
		}
	}
	candidate = rewriteForPDF(candidate)

	ctx, cancel := context.WithTimeout(ctx, a.opts.DownloadTimeout)
	defer cancel()

	req, err := a.http.newRequest(ctx, http.MethodGet, candidate, acceptPDF, referer, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	a.debug("downloading pdf", "url", candidate)
	return a.savePDF(req, dest)
}

// resolveChain follows redirects from target and returns the final URL and every hop.
func (a *Acquirer) resolveChain(ctx context.Context, target string) (string, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.ResolverTimeout)
	defer cancel()

	req, err := a.http.newRequest(ctx, http.MethodGet, target, acceptHTML, "", nil)
	if err != nil {
		return "", nil, err
	}
	resp, hops, err := a.http.doTracking(req)
	if err != nil {
		return "", hops, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Request.URL.String(), hops, nil
}

// savePDF executes req and stores the body at dest only when the response is a PDF.
// The file is written to a temporary sibling and renamed into place.
func (a *Acquirer) savePDF(req *http.Request, dest string) error {
	resp, err := a.http.do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
	}
	if !isPDFContentType(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: %s served %q", ErrNotPDF, req.URL, resp.Header.Get("Content-Type"))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create papers directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.pdf")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close pdf: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move pdf into place: %w", err)
	}
	return nil
}

func isPDFContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == "application/pdf" || mediaType == "application/x-pdf"
}
