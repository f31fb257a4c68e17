package acquisition

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"
)

const maxHTMLRedirects = 1

var (
	jsRedirectExprs = []*regexp.Regexp{
		regexp.MustCompile(`location\.replace\(\s*["']([^"']+)["']\s*\)`),
		regexp.MustCompile(`(?:window\.|document\.)?location\.href\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`(?:window|document)\.location\s*=\s*["']([^"']+)["']`),
	}
	refreshURLExpr = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'";]+)`)
)

// scrapeHTML fetches a landing page and returns its visible text. At most one
// meta-refresh or JavaScript redirect is followed; short pages yield ErrTooShort.
func (a *Acquirer) scrapeHTML(ctx context.Context, link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", errSkipped
	}

	target := link
	for hop := 0; ; hop++ {
		doc, final, err := a.fetchDocument(ctx, target)
		if err != nil {
			return "", err
		}

		if hop < maxHTMLRedirects {
			if next := redirectTarget(doc, final); next != "" && next != final.String() {
				a.debug("following html redirect", "from", final.String(), "to", next)
				target = next
				continue
			}
		}

		text := a.pageText(doc)
		if n := utf8.RuneCountInString(text); n < a.opts.MinHTMLChars {
			return "", fmt.Errorf("%w: %d chars from %s", ErrTooShort, n, final)
		}
		return text, nil
	}
}

func (a *Acquirer) fetchDocument(ctx context.Context, target string) (*goquery.Document, *url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()

	req, err := a.http.newRequest(ctx, http.MethodGet, target, acceptHTML, "", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build page request: %w", err)
	}
	resp, err := a.http.do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, resp.Request.URL, nil
}

// redirectTarget finds a meta refresh or a literal JavaScript redirect.
func redirectTarget(doc *goquery.Document, base *url.URL) string {
	var found string
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		if m := refreshURLExpr.FindStringSubmatch(content); m != nil {
			found = strings.TrimSpace(m[1])
			return false
		}
		return true
	})

	if found == "" {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src := s.Text()
			for _, expr := range jsRedirectExprs {
				if m := expr.FindStringSubmatch(src); m != nil {
					found = m[1]
					return false
				}
			}
			return true
		})
	}

	if found == "" {
		return ""
	}
	ref, err := url.Parse(html.UnescapeString(found))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// pageText drops non-visible elements and all markup, then collapses whitespace.
func (a *Acquirer) pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, iframe").Remove()
	markup, err := doc.Html()
	if err != nil {
		return ""
	}
	return collapseSpace(html.UnescapeString(a.strip.Sanitize(markup)))
}

func newStripPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}
