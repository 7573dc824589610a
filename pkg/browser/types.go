package browser

import "time"

// Milestone identifies the point at which a navigation is considered done.
type Milestone string

const (
	// MilestoneParsed resolves once the document is parsed, before all
	// subresources have loaded. Preferred for capture, where overlay
	// suppression happens afterwards anyway.
	MilestoneParsed Milestone = "domcontentloaded"

	// MilestoneLoaded resolves after the load event.
	MilestoneLoaded Milestone = "load"
)

// ScreenshotOptions configures a viewport-bound raster capture.
type ScreenshotOptions struct {
	// Format is "png" (lossless) or "jpeg" (lossy).
	Format string

	// Quality is the jpeg encoding quality (1-100). Ignored for png.
	Quality int
}

// ResponseInfo describes an observed network response.
type ResponseInfo struct {
	URL    string
	Status int
	Body   []byte
}

// ResponseWatch is an armed listener for a matching network response. It is
// armed before the action that may produce the response, so the response
// cannot slip past between action and wait.
type ResponseWatch interface {
	// Wait blocks until a matching response arrives or the timeout elapses.
	// A nil ResponseInfo with a nil error never occurs: timeout is an error.
	Wait(timeout time.Duration) (*ResponseInfo, error)
}

// Driver is the narrow page facade the capture and upload flows consume.
// It models the remote page as a set of capability queries rather than typed
// bindings to its markup, which is out of this system's control.
type Driver interface {
	// Navigate opens url and waits for the given milestone.
	Navigate(url string, milestone Milestone) error

	// URL returns the page's current URL, after any redirects.
	URL() string

	// WaitVisible blocks until the selector matches a visible element.
	WaitVisible(selector string, timeout time.Duration) error

	// WaitAttached blocks until the selector matches an element in the DOM,
	// visible or not.
	WaitAttached(selector string, timeout time.Duration) error

	// Exists reports whether the selector currently matches any element.
	Exists(selector string) bool

	// FieldValue reads the value of a form field. present is false when the
	// field is not in the DOM at all.
	FieldValue(selector string) (value string, present bool)

	// Click clicks the first element matching the selector.
	Click(selector string, timeout time.Duration) error

	// ScrollIntoView scrolls the first match into the viewport if needed.
	ScrollIntoView(selector string) error

	// Evaluate runs a script in the page and returns its result.
	Evaluate(script string) (interface{}, error)

	// Screenshot captures the current viewport (never the full page) to path
	// and returns the number of bytes written.
	Screenshot(path string, opts ScreenshotOptions) (int64, error)

	// ArmResponseWatch starts observing responses matching the predicate.
	ArmResponseWatch(match func(url string, status int) bool) ResponseWatch

	// SetInputFiles assigns a local file directly to a file-input element.
	SetInputFiles(selector, path string, timeout time.Duration) error

	// SubmitViaChooser clicks the trigger selector, intercepts the native
	// file chooser it opens, and supplies the file there.
	SubmitViaChooser(trigger, path string, timeout time.Duration) error

	// Content returns the page's current HTML, used for diagnostics.
	Content() (string, error)
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// Viewport sets the initial viewport size.
	Viewport Viewport

	// StorageStatePath seeds the context from a persisted session blob.
	// Empty means a fresh, unauthenticated context.
	StorageStatePath string

	// Stealth injects an init script that masks common automation markers.
	// Used by session bootstrap, where the login surface must see an
	// ordinary-looking browser.
	Stealth bool
}

// Default values for browser operations.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 640
	DefaultTimeout        = 30 * time.Second
)
