// Package capture renders the printable grid page to a PNG with headless
// Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	appLog "studentcal/internal/log"
)

// Defaults match an A4 landscape page at 96 dpi.
const (
	DefaultWidth   = 1123
	DefaultHeight  = 794
	DefaultTimeout = 30 * time.Second

	readySelector = `[data-ready="true"]`
)

// Options defines one screenshot.
type Options struct {
	// URL of the print page, e.g. from PrintURL.
	URL string
	// OutputPath receives the PNG.
	OutputPath string

	// Viewport size; zero uses the defaults.
	Width  int
	Height int

	// Timeout bounds the whole capture; zero uses DefaultTimeout.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// PrintURL builds the print page URL for a student on the server at base.
// An empty granularity or a zero date leaves the server defaults.
func PrintURL(base, studentID, granularity string, date time.Time) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("students", studentID, "print")
	q := u.Query()
	if granularity != "" {
		q.Set("granularity", granularity)
	}
	if !date.IsZero() {
		q.Set("date", date.Format("2006-01-02"))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PrintPNG navigates to the print page, waits for data-ready="true" and
// writes a full-page screenshot.
func PrintPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	appLog.Info("print view captured", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
