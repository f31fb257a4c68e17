package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// PageRenderer returns the visible text of a page after client-side rendering.
type PageRenderer interface {
	Render(ctx context.Context, target string) (string, error)
}

var blockingKeywords = []string{
	"captcha",
	"access denied",
	"robot check",
	"are you a robot",
	"verify you are human",
	"unusual traffic",
}

const consentScript = `(() => {
	const selectors = ['#onetrust-accept-btn-handler', '#accept-cookies', 'button[id*="accept"]', 'button[class*="accept"]'];
	for (const s of selectors) {
		const el = document.querySelector(s);
		if (el) { el.click(); return true; }
	}
	const button = Array.from(document.querySelectorAll('button, a')).find(b => /^(accept|agree|allow)( all)?( cookies)?$/i.test((b.innerText || '').trim()));
	if (button) { button.click(); return true; }
	return false;
})()`

// ChromeRenderer drives a headless Chrome through chromedp.
type ChromeRenderer struct {
	userAgent string
	settle    time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

var _ PageRenderer = (*ChromeRenderer)(nil)

// NewChromeRenderer builds a renderer; settle bounds the wait for the page to load.
func NewChromeRenderer(userAgent string, settle, timeout time.Duration, log *slog.Logger) *ChromeRenderer {
	if settle <= 0 {
		settle = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChromeRenderer{userAgent: userAgent, settle: settle, timeout: timeout, logger: log}
}

// Render navigates to target, waits for the body (proceeding on timeout),
// tries to dismiss a cookie banner and returns document.body.innerText.
func (r *ChromeRenderer) Render(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if r.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	navCtx, cancelNav := context.WithTimeout(browserCtx, r.settle)
	err := chromedp.Run(navCtx, chromedp.Navigate(target), chromedp.WaitReady("body"))
	cancelNav()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("navigate %s: %w", target, err)
	}

	var clicked bool
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(consentScript, &clicked)); err != nil {
		r.debug("cookie consent script failed", "url", target, "error", err)
	} else if clicked {
		_ = chromedp.Run(browserCtx, chromedp.Sleep(2*time.Second))
	}

	var text string
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("read rendered text: %w", err)
	}
	return text, nil
}

func (r *ChromeRenderer) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

// blockedKeyword returns the first blocking keyword found in text.
func blockedKeyword(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range blockingKeywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
