package acquisition

import (
	"net/url"
	"regexp"
	"strings"
)

var piiExpr = regexp.MustCompile(`(?i)/pii/(S?[0-9][0-9X]{14,16})`)

// rewriteForPDF maps a landing-page URL to the publisher's direct PDF endpoint
// when a known pattern applies; other URLs are returned unchanged.
func rewriteForPDF(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	p := u.Path

	switch {
	case strings.Contains(host, "wiley.com"):
		switch {
		case strings.Contains(p, "/pdfdirect/") || strings.Contains(p, "/pdf/") || strings.Contains(p, "/epdf/"):
			return raw
		case strings.Contains(p, "/abs/"):
			u.Path = strings.Replace(p, "/abs/", "/pdfdirect/", 1)
		case strings.Contains(p, "/full/"):
			u.Path = strings.Replace(p, "/full/", "/pdfdirect/", 1)
		case strings.HasPrefix(p, "/doi/"):
			u.Path = "/doi/pdfdirect/" + strings.TrimPrefix(p, "/doi/")
		default:
			return raw
		}
		u.RawQuery = ""
		return u.String()

	case strings.Contains(host, "springer.com") && strings.HasPrefix(p, "/article/"):
		doi := strings.TrimPrefix(p, "/article/")
		u.Path = "/content/pdf/" + doi + ".pdf"
		u.RawQuery = ""
		return u.String()

	case strings.Contains(host, "mdpi.com"):
		trimmed := strings.TrimSuffix(p, "/")
		if strings.HasSuffix(trimmed, "/pdf") || strings.HasSuffix(strings.ToLower(trimmed), ".pdf") || strings.Count(trimmed, "/") < 3 {
			return raw
		}
		u.Path = trimmed + "/pdf"
		u.RawQuery = ""
		return u.String()
	}

	return raw
}

// needsResolution reports links that only redirect to the publisher page.
func needsResolution(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "doi.org" || host == "dx.doi.org" || strings.HasSuffix(host, "linkinghub.elsevier.com")
}

// sciencedirectPDF returns the ScienceDirect PDF endpoint for the first Elsevier
// PII found in any hop of a redirect chain.
func sciencedirectPDF(hops []string) (string, bool) {
	for _, hop := range hops {
		if m := piiExpr.FindStringSubmatch(hop); m != nil {
			return "https://www.sciencedirect.com/science/article/pii/" + strings.ToUpper(m[1]) + "/pdfft", true
		}
	}
	return "", false
}
