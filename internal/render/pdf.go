package render

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Printer turns HTML into PDF bytes
type Printer interface {
	Print(ctx context.Context, html string) ([]byte, error)
}

// A4 in inches
const (
	a4Width  = 8.27
	a4Height = 11.69
)

// DefaultPrintTimeout bounds one headless Chromium run
const DefaultPrintTimeout = 15 * time.Second

// ChromePrinter prints through headless Chromium. If Chromium is unavailable
// Print returns an error so the caller can decide to retry or skip.
type ChromePrinter struct {
	ExecPath string
	Timeout  time.Duration
}

// NewChromePrinter creates a printer; an empty execPath lets chromedp find the browser
func NewChromePrinter(execPath string, timeout time.Duration) *ChromePrinter {
	if timeout <= 0 {
		timeout = DefaultPrintTimeout
	}
	return &ChromePrinter{ExecPath: execPath, Timeout: timeout}
}

// Print renders html to an A4 PDF
func (p *ChromePrinter) Print(ctx context.Context, html string) ([]byte, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if p.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(p.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, p.Timeout)
	defer cancelTimeout()

	var out []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				Do(ctx)
			if err != nil {
				return err
			}
			out = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return out, nil
}
