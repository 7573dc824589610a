package browser

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session wraps one browser, one isolated context, and one page, and
// implements Driver on top of them.
type Session struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

var _ Driver = (*Session)(nil)

// Close releases the page, context, and browser. Errors are ignored so Close
// can run unconditionally on every exit path.
func (s *Session) Close() {
	_ = s.page.Close()
	_ = s.context.Close()
	_ = s.browser.Close()
}

// StorageState serializes the context's full session state (cookies, local
// storage) and returns the raw blob. Used by bootstrap after a successful
// interactive login.
func (s *Session) StorageState(tmpPath string) ([]byte, error) {
	if _, err := s.context.StorageState(tmpPath); err != nil {
		return nil, fmt.Errorf("failed to serialize storage state: %w", err)
	}
	blob, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read serialized storage state: %w", err)
	}
	return blob, nil
}

// Navigate opens url and waits for the given milestone.
func (s *Session) Navigate(url string, milestone Milestone) error {
	waitUntil := playwright.WaitUntilState(milestone)
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	return s.page.URL()
}

func (s *Session) waitForSelector(selector string, state *playwright.WaitForSelectorState, timeout time.Duration) error {
	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("wait for %q failed: %w", selector, err)
	}
	return nil
}

// WaitVisible blocks until the selector matches a visible element.
func (s *Session) WaitVisible(selector string, timeout time.Duration) error {
	return s.waitForSelector(selector, playwright.WaitForSelectorStateVisible, timeout)
}

// WaitAttached blocks until the selector matches an element in the DOM.
func (s *Session) WaitAttached(selector string, timeout time.Duration) error {
	return s.waitForSelector(selector, playwright.WaitForSelectorStateAttached, timeout)
}

// Exists reports whether the selector currently matches any element.
func (s *Session) Exists(selector string) bool {
	element, err := s.page.QuerySelector(selector)
	return err == nil && element != nil
}

// FieldValue reads a form field's value; present is false when the field is
// not in the DOM.
func (s *Session) FieldValue(selector string) (string, bool) {
	element, err := s.page.QuerySelector(selector)
	if err != nil || element == nil {
		return "", false
	}

	value, err := element.InputValue()
	if err != nil {
		// Not an input-like element; fall back to the attribute.
		attr, attrErr := element.GetAttribute("value")
		if attrErr != nil {
			return "", true
		}
		return attr, true
	}
	return value, true
}

// Click clicks the first element matching the selector.
func (s *Session) Click(selector string, timeout time.Duration) error {
	err := s.page.Click(selector, playwright.PageClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// ScrollIntoView scrolls the first match into the viewport if needed.
func (s *Session) ScrollIntoView(selector string) error {
	element, err := s.page.QuerySelector(selector)
	if err != nil {
		return fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return fmt.Errorf("no element found matching selector: %s", selector)
	}
	if err := element.ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("scroll into view failed: %w", err)
	}
	return nil
}

// Evaluate runs a script in the page and returns its result.
func (s *Session) Evaluate(script string) (interface{}, error) {
	result, err := s.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return result, nil
}

// Screenshot captures the current viewport to path and returns the number of
// bytes written.
func (s *Session) Screenshot(path string, opts ScreenshotOptions) (int64, error) {
	screenshotOpts := playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(false),
	}

	switch opts.Format {
	case "jpeg":
		screenshotOpts.Type = playwright.ScreenshotTypeJpeg
		screenshotOpts.Quality = playwright.Int(opts.Quality)
	default:
		screenshotOpts.Type = playwright.ScreenshotTypePng
	}

	buf, err := s.page.Screenshot(screenshotOpts)
	if err != nil {
		return 0, fmt.Errorf("screenshot failed: %w", err)
	}
	return int64(len(buf)), nil
}

// responseWatch delivers the first matching response on a buffered channel.
// The listener observes read-only network state, so an abandoned watch needs
// no compensating action.
type responseWatch struct {
	ch   chan *ResponseInfo
	once sync.Once
}

// Wait blocks until a matching response arrives or the timeout elapses.
func (w *responseWatch) Wait(timeout time.Duration) (*ResponseInfo, error) {
	select {
	case info := <-w.ch:
		return info, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no matching response within %s", timeout)
	}
}

// ArmResponseWatch starts observing responses matching the predicate. It must
// be called before the action that may produce the response.
func (s *Session) ArmResponseWatch(match func(url string, status int) bool) ResponseWatch {
	watch := &responseWatch{ch: make(chan *ResponseInfo, 1)}

	s.page.OnResponse(func(response playwright.Response) {
		if !match(response.URL(), response.Status()) {
			return
		}
		watch.once.Do(func() {
			info := &ResponseInfo{
				URL:    response.URL(),
				Status: response.Status(),
			}
			// The body is diagnostic only; ignore read failures.
			if body, err := response.Body(); err == nil {
				info.Body = body
			}
			watch.ch <- info
		})
	})

	return watch
}

// SetInputFiles assigns a local file directly to a file-input element.
func (s *Session) SetInputFiles(selector, path string, timeout time.Duration) error {
	err := s.page.SetInputFiles(selector, []string{path}, playwright.PageSetInputFilesOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("file assignment to %q failed: %w", selector, err)
	}
	return nil
}

// SubmitViaChooser clicks the trigger, intercepts the native file chooser it
// opens, and supplies the file there.
func (s *Session) SubmitViaChooser(trigger, path string, timeout time.Duration) error {
	chooser, err := s.page.ExpectFileChooser(func() error {
		return s.Click(trigger, timeout)
	}, playwright.PageExpectFileChooserOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("file chooser did not open: %w", err)
	}

	if err := chooser.SetFiles([]string{path}); err != nil {
		return fmt.Errorf("file chooser submission failed: %w", err)
	}
	return nil
}

// Content returns the page's current HTML.
func (s *Session) Content() (string, error) {
	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}
