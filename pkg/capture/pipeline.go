// Package capture rasterizes a page region into an image file within a byte
// budget, stepping down a fixed quality ladder when a lossy capture comes
// out too large.
package capture

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cardsync/cardsync/pkg/browser"
	"github.com/cardsync/cardsync/pkg/logging"
)

// overlayScript hides known sticky chrome (headers, toolbars) before the
// screenshot. Best-effort: absent elements are simply not matched.
const overlayScript = `(() => {
	const selectors = ['header', '.AppHeader', '.js-position-sticky', '.gh-header-sticky', '[class*="sticky-header"]'];
	let hidden = 0;
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			el.style.setProperty('visibility', 'hidden', 'important');
			hidden++;
		}
	}
	return hidden;
})()`

// Pipeline produces byte-budgeted captures from fresh page drivers.
type Pipeline struct {
	Factory PageFactory
	Log     *logging.Logger

	// ContentTimeout bounds the content-region visibility wait.
	// Zero means DefaultContentTimeout.
	ContentTimeout time.Duration

	// SettleDelay is the pause between scrolling the region into view and
	// suppressing overlays, letting lazy-rendered sub-elements finish
	// painting. Zero means DefaultSettleDelay.
	SettleDelay time.Duration
}

// Run captures req and returns the kept result. The returned file satisfies
// the byte budget whenever any attempt did; otherwise the smallest observed
// capture is kept and Result.Oversized is set. Size alone never fails a run.
func (p *Pipeline) Run(req Request) (*Result, error) {
	budget := req.ByteBudget
	if budget <= 0 {
		budget = DefaultByteBudget
	}

	staging := req.OutputPath + ".attempt"
	best := req.OutputPath + ".best"
	defer os.Remove(staging)
	defer os.Remove(best)

	keep := func(result *Result) (*Result, error) {
		if err := os.Rename(best, req.OutputPath); err != nil {
			return nil, fmt.Errorf("failed to finalize capture file: %w", err)
		}
		result.Path = req.OutputPath
		return result, nil
	}

	size, err := p.attempt(req, req.Quality, staging)
	if err != nil {
		return nil, err
	}

	bestResult := &Result{ByteSize: size, Quality: req.Quality, Viewport: req.Viewport}
	if err := os.Rename(staging, best); err != nil {
		return nil, fmt.Errorf("failed to stage capture file: %w", err)
	}

	if size <= budget {
		return keep(bestResult)
	}

	if req.Format != "jpeg" {
		p.Log.Warnf("lossless capture is %s, over the %s budget; keeping it anyway",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(budget)))
		bestResult.Oversized = true
		return keep(bestResult)
	}

	for _, quality := range qualityLadder {
		if quality >= bestResult.Quality {
			continue
		}

		p.Log.Infof("capture is %s, over the %s budget; retrying at quality %d",
			humanize.Bytes(uint64(bestResult.ByteSize)), humanize.Bytes(uint64(budget)), quality)

		size, err := p.attempt(req, quality, staging)
		if err != nil {
			return nil, err
		}

		if size < bestResult.ByteSize {
			bestResult = &Result{ByteSize: size, Quality: quality, Viewport: req.Viewport}
			if err := os.Rename(staging, best); err != nil {
				return nil, fmt.Errorf("failed to stage capture file: %w", err)
			}
		}

		if size <= budget {
			return keep(bestResult)
		}
	}

	p.Log.Warnf("quality ladder exhausted; keeping smallest capture (%s at quality %d) over the %s budget",
		humanize.Bytes(uint64(bestResult.ByteSize)), bestResult.Quality, humanize.Bytes(uint64(budget)))
	bestResult.Oversized = true
	return keep(bestResult)
}

// attempt performs one full navigate-and-screenshot cycle on a fresh page.
func (p *Pipeline) attempt(req Request, quality int, path string) (int64, error) {
	drv, release, err := p.Factory()
	if err != nil {
		return 0, fmt.Errorf("failed to open capture page: %w", err)
	}
	defer release()

	// The parsed milestone is enough: overlay suppression runs afterwards,
	// and waiting for full network idle is slower for no benefit.
	if err := drv.Navigate(req.URL, browser.MilestoneParsed); err != nil {
		return 0, err
	}

	contentTimeout := p.ContentTimeout
	if contentTimeout <= 0 {
		contentTimeout = DefaultContentTimeout
	}

	if err := drv.WaitVisible(req.Selector, contentTimeout); err != nil {
		p.logLandingPage(drv)
		return 0, fmt.Errorf("%w: %q never became visible within %s", ErrContentNotFound, req.Selector, contentTimeout)
	}

	if err := drv.ScrollIntoView(req.Selector); err != nil {
		p.Log.Warnf("could not scroll content region into view: %v", err)
	}

	settle := p.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	time.Sleep(settle)

	if hidden, err := drv.Evaluate(overlayScript); err != nil {
		p.Log.Warnf("overlay suppression failed: %v", err)
	} else {
		p.Log.Debugf("overlay suppression hid %v elements", hidden)
	}

	size, err := drv.Screenshot(path, browser.ScreenshotOptions{
		Format:  req.Format,
		Quality: quality,
	})
	if err != nil {
		return 0, err
	}

	p.Log.Debugf("captured %s at quality %d (%s)", req.URL, quality, humanize.Bytes(uint64(size)))
	return size, nil
}

// logLandingPage records the coarse shape of the page the wait failed on.
func (p *Pipeline) logLandingPage(drv browser.Driver) {
	content, err := drv.Content()
	if err != nil {
		return
	}
	summary := browser.SummarizeDOM(content)
	p.Log.Warnf("content wait failed on %q (title %q, login form: %v)", drv.URL(), summary.Title, summary.LoginForm)
}
