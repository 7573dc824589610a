// Package browser owns the automation-engine lifecycle and exposes the
// narrow page-driver facade the capture and upload flows are written
// against.
package browser

import (
	"fmt"
	"io"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright runtime and creates isolated sessions from it.
// A run creates one manager, any number of sessions, and shuts the manager
// down on every exit path.
type Manager struct {
	playwright  *playwright.Playwright
	initialized bool
}

// NewManager creates an uninitialized manager.
func NewManager() *Manager {
	return &Manager{}
}

// Initialize installs (if needed) and starts the Playwright runtime.
// Driver output is discarded so it cannot pollute the CLI's own streams.
func (m *Manager) Initialize() error {
	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// NewSession launches a browser, creates an isolated context at the requested
// viewport, and opens a page. The returned session must be closed by the
// caller; Close is safe on every partial-failure path because NewSession
// tears down whatever it already acquired before returning an error.
func (m *Manager) NewSession(opts SessionOptions) (*Session, error) {
	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	}
	if opts.StorageStatePath != "" {
		contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if opts.Stealth {
		if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealth.JS)}); err != nil {
			context.Close()
			browser.Close()
			return nil, fmt.Errorf("failed to add stealth script: %w", err)
		}
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Session{
		browser: browser,
		context: context,
		page:    page,
	}, nil
}

// Shutdown stops the Playwright runtime. Sessions must be closed first.
func (m *Manager) Shutdown() error {
	if !m.initialized || m.playwright == nil {
		return nil
	}
	if err := m.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	m.initialized = false
	return nil
}
