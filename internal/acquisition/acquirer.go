package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

// Options configures endpoints, credentials, thresholds and timeouts.
type Options struct {
	PapersDir         string
	UnpaywallURL      string
	UnpaywallEmail    string
	CoreURL           string
	CoreAPIKey        string
	ElsevierURL       string
	ElsevierAPIKey    string
	ElsevierInstToken string
	MinHTMLChars      int
	MinRenderedChars  int
	DownloadTimeout   time.Duration
	PageTimeout       time.Duration
	ResolverTimeout   time.Duration
}

// OptionsFromConfig maps the acquisition config section.
func OptionsFromConfig(cfg config.AcquisitionConfig, papersDir string) Options {
	return Options{
		PapersDir:         papersDir,
		UnpaywallURL:      cfg.UnpaywallURL,
		UnpaywallEmail:    cfg.UnpaywallEmail,
		CoreURL:           cfg.CoreURL,
		CoreAPIKey:        cfg.CoreAPIKey,
		ElsevierURL:       cfg.ElsevierURL,
		ElsevierAPIKey:    cfg.ElsevierAPIKey,
		ElsevierInstToken: cfg.ElsevierInstToken,
		MinHTMLChars:      cfg.MinHTMLChars,
		MinRenderedChars:  cfg.MinRenderedChars,
		DownloadTimeout:   cfg.DownloadTimeout,
		PageTimeout:       cfg.PageTimeout,
		ResolverTimeout:   cfg.ResolverTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.UnpaywallURL == "" {
		o.UnpaywallURL = "https://api.unpaywall.org"
	}
	if o.CoreURL == "" {
		o.CoreURL = "https://api.core.ac.uk"
	}
	if o.ElsevierURL == "" {
		o.ElsevierURL = "https://api.elsevier.com"
	}
	if o.MinHTMLChars <= 0 {
		o.MinHTMLChars = 500
	}
	if o.MinRenderedChars <= 0 {
		o.MinRenderedChars = 1500
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 45 * time.Second
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	if o.ResolverTimeout <= 0 {
		o.ResolverTimeout = 20 * time.Second
	}
}

// Acquirer obtains the best available text for a paper.
type Acquirer struct {
	opts     Options
	http     *browserClient
	strip    *bluemonday.Policy
	renderer PageRenderer
	extract  func(path string) (string, error)
	logger   *slog.Logger
}

var _ ports.Acquirer = (*Acquirer)(nil)

// NewAcquirer wires the cascade. renderer may be nil to disable headless rendering.
func NewAcquirer(opts Options, userAgents, insecureHosts []string, renderer PageRenderer, log *slog.Logger) *Acquirer {
	opts.applyDefaults()
	return &Acquirer{
		opts:     opts,
		http:     newBrowserClient(userAgents, insecureHosts),
		strip:    newStripPolicy(),
		renderer: renderer,
		extract:  extractPDFText,
		logger:   log,
	}
}

type pdfStrategy struct {
	name  domain.Strategy
	fetch func(ctx context.Context, paper domain.Paper, dest string) error
}

// Acquire walks cached PDF, direct download, Elsevier, Unpaywall, CORE, HTML
// scrape and headless render in order, falling back to the abstract.
func (a *Acquirer) Acquire(ctx context.Context, paper domain.Paper) domain.Acquisition {
	pdfPath := a.pdfPath(paper)

	if _, err := os.Stat(pdfPath); err == nil {
		if text := a.textFromPDF(pdfPath); text != "" {
			a.info("using cached pdf", "path", pdfPath)
			return domain.Acquisition{Text: text, FullText: true, Strategy: domain.StrategyCache, PDFPath: pdfPath}
		}
	}

	for _, s := range a.pdfStrategies() {
		if ctx.Err() != nil {
			break
		}
		err := s.fetch(ctx, paper, pdfPath)
		if errors.Is(err, errSkipped) {
			a.debug("strategy skipped", "strategy", s.name, "title", paper.Title)
			continue
		}
		if err != nil {
			a.warn("strategy failed", "strategy", s.name, "title", paper.Title, "error", err)
			continue
		}

		if text := a.textFromPDF(pdfPath); text != "" {
			a.info("pdf acquired", "strategy", s.name, "path", pdfPath, "chars", utf8.RuneCountInString(text))
			return domain.Acquisition{Text: text, FullText: true, Strategy: s.name, PDFPath: pdfPath}
		}
		_ = os.Remove(pdfPath)
	}

	text, err := a.scrapeHTML(ctx, paper.Link)
	if err == nil {
		a.info("html text acquired", "title", paper.Title, "chars", utf8.RuneCountInString(text))
		return domain.Acquisition{Text: text, FullText: true, Strategy: domain.StrategyHTML}
	}
	if !errors.Is(err, errSkipped) {
		a.warn("html scrape failed", "title", paper.Title, "error", err)
	}

	if errors.Is(err, ErrTooShort) && a.renderer != nil {
		text, err := a.render(ctx, paper.Link)
		if err == nil {
			a.info("rendered text acquired", "title", paper.Title, "chars", utf8.RuneCountInString(text))
			return domain.Acquisition{Text: text, FullText: true, Strategy: domain.StrategyRendered}
		}
		a.warn("headless render failed", "title", paper.Title, "error", err)
	}

	a.warn("no full text, using abstract", "title", paper.Title)
	return domain.Acquisition{Text: paper.Abstract, FullText: false, Strategy: domain.StrategyAbstract}
}

func (a *Acquirer) pdfStrategies() []pdfStrategy {
	return []pdfStrategy{
		{name: domain.StrategyDirect, fetch: func(ctx context.Context, p domain.Paper, dest string) error {
			return a.downloadDirect(ctx, p.Link, p.Link, dest)
		}},
		{name: domain.StrategyElsevier, fetch: func(ctx context.Context, p domain.Paper, dest string) error {
			return a.fromElsevier(ctx, p.DOI, dest)
		}},
		{name: domain.StrategyUnpaywall, fetch: a.viaResolver(a.unpaywallPDF)},
		{name: domain.StrategyCORE, fetch: a.viaResolver(a.corePDF)},
	}
}

// viaResolver turns a DOI -> URL lookup into a download strategy.
func (a *Acquirer) viaResolver(lookup func(ctx context.Context, doi string) (string, error)) func(context.Context, domain.Paper, string) error {
	return func(ctx context.Context, p domain.Paper, dest string) error {
		pdfURL, err := lookup(ctx, p.DOI)
		if err != nil {
			return err
		}
		return a.downloadDirect(ctx, pdfURL, p.Link, dest)
	}
}

func (a *Acquirer) render(ctx context.Context, link string) (string, error) {
	text, err := a.renderer.Render(ctx, link)
	if err != nil {
		return "", err
	}
	text = collapseSpace(text)
	if kw, blocked := blockedKeyword(text); blocked {
		return "", fmt.Errorf("%w: contains %q", ErrBlocked, kw)
	}
	if n := utf8.RuneCountInString(text); n < a.opts.MinRenderedChars {
		return "", fmt.Errorf("%w: rendered %d chars", ErrTooShort, n)
	}
	return text, nil
}

func (a *Acquirer) textFromPDF(path string) string {
	text, err := a.extract(path)
	if err != nil {
		a.warn("pdf text extraction failed", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (a *Acquirer) pdfPath(paper domain.Paper) string {
	return filepath.Join(a.opts.PapersDir, paper.Year(), paper.IdentityFilename()+".pdf")
}

func (a *Acquirer) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}

func (a *Acquirer) info(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
	}
}

func (a *Acquirer) warn(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
