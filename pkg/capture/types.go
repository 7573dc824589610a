package capture

import (
	"errors"
	"time"

	"github.com/cardsync/cardsync/pkg/browser"
)

// ErrContentNotFound indicates the content region never became visible
// within the bounded wait. Fatal: retrying against an unchanged remote page
// would not help.
var ErrContentNotFound = errors.New("content region not found")

// DefaultByteBudget is the platform-imposed upload ceiling in bytes.
const DefaultByteBudget = 1_000_000

// DefaultContentSelector locates the rendered document on the repository
// landing page.
const DefaultContentSelector = "article.markdown-body"

// qualityLadder is the fixed descending sequence of jpeg qualities tried when
// the initial capture exceeds the byte budget.
var qualityLadder = []int{70, 60, 50, 40, 30}

// Default bounds for the pipeline's waits.
const (
	DefaultContentTimeout = 20 * time.Second
	DefaultSettleDelay    = 1500 * time.Millisecond
)

// Request describes one capture. Immutable once constructed.
type Request struct {
	// URL is the page holding the document to rasterize.
	URL string

	// Selector locates the content region on that page.
	Selector string

	// Viewport is the exact capture size in pixels.
	Viewport browser.Viewport

	// Format is "png" (lossless) or "jpeg" (lossy).
	Format string

	// Quality is the initial jpeg quality (1-100). Ignored for png.
	Quality int

	// OutputPath is where the final image lands.
	OutputPath string

	// ByteBudget caps the acceptable file size. Zero means DefaultByteBudget.
	ByteBudget int64
}

// Result describes the capture that was kept.
type Result struct {
	// Path is the written image file.
	Path string

	// ByteSize is the final file size.
	ByteSize int64

	// Quality is the jpeg quality actually used (initial quality for png).
	Quality int

	// Viewport is the dimensions captured.
	Viewport browser.Viewport

	// Oversized is set when ByteSize still exceeds the budget: either the
	// format is lossless or the quality ladder was exhausted. Never fails
	// the run on its own.
	Oversized bool
}

// PageFactory produces a fresh page driver bound to the request's viewport.
// Every quality rung gets its own page: the engine does not guarantee an
// in-place re-screenshot at a different quality, and a fresh navigation
// avoids state leakage between attempts.
type PageFactory func() (drv browser.Driver, release func(), err error)
