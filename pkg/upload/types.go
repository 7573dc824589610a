package upload

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Fatal errors of the upload flow. Everything else in this package is either
// best-effort (swallowed) or has an explicit fallback path.
var (
	// ErrNotAuthenticated indicates the settings surface redirected to a
	// login page. A credential problem, not a timing problem: no retry.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUploadUnconfirmed indicates the identifier field never populated
	// after submission. The one hard success gate.
	ErrUploadUnconfirmed = errors.New("upload unconfirmed")
)

// Signal records which completion-detection path fired first.
type Signal string

const (
	SignalNetworkResponse Signal = "networkResponse"
	SignalIDPoll          Signal = "idPoll"
	SignalNone            Signal = "none"
)

// Target identifies one submission.
type Target struct {
	// SettingsURL is the settings surface holding the preview card section.
	SettingsURL string

	// FilePath is the image to submit.
	FilePath string
}

// Validate checks that the file exists and is non-empty before any
// submission is attempted.
func (t Target) Validate() error {
	info, err := os.Stat(t.FilePath)
	if err != nil {
		return fmt.Errorf("upload file %s: %w", t.FilePath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("upload file %s is empty", t.FilePath)
	}
	return nil
}

// CardState is the add-vs-replace mode of the preview card, derived from the
// hidden identifier field before any mutation. The sole source of truth for
// that branching.
type CardState struct {
	// Present is true when a card already exists.
	Present bool

	// PriorID is the identifier of the existing card, empty when absent.
	PriorID string
}

// Outcome describes a verified submission.
type Outcome struct {
	// NewID is the identifier after submission. Non-empty on success.
	NewID string

	// IDChanged is true when NewID differs from the prior identifier.
	IDChanged bool

	// Signal records which detection path confirmed completion, for
	// diagnostics.
	Signal Signal
}

// Selectors locates the pieces of the settings surface. The remote markup is
// versioned and out of this system's control, so every selector is a
// replaceable default rather than a baked-in assumption.
type Selectors struct {
	// SectionHeading anchors the preview card section.
	SectionHeading string

	// IdentifierField is the hidden input whose value encodes the attached
	// image's identity; empty value means no image attached.
	IdentifierField string

	// EditTrigger is the direct disclosure control, when the UI exposes one.
	EditTrigger string

	// SectionEdit is the structural fallback: a generically-labelled edit
	// control located relative to the section, since its exact shape varies
	// by mode.
	SectionEdit string

	// FileInput is the direct file-input element.
	FileInput string

	// UploadAffordance is the textual alternative that opens a native file
	// chooser.
	UploadAffordance string

	// ImageContainer shows the attached image; used only for a cosmetic
	// post-verification wait.
	ImageContainer string
}

// DefaultSelectors returns the selectors matching the current shape of the
// target's settings surface.
func DefaultSelectors() Selectors {
	return Selectors{
		SectionHeading:   "#social-preview-heading",
		IdentifierField:  `input[name="repository[social_preview_id]"]`,
		EditTrigger:      "#social-preview-edit",
		SectionEdit:      `section:has(#social-preview-heading) summary:has-text("Edit")`,
		FileInput:        `input[type="file"][accept*="image"]`,
		UploadAffordance: "text=upload an image",
		ImageContainer:   ".social-preview-card img",
	}
}

// DefaultEndpointFragments are the URL fragments a successful upload response
// may match: the flow routes through either a policy-creation endpoint or a
// direct attach endpoint.
func DefaultEndpointFragments() []string {
	return []string{"*/upload/policies/*", "*/social_preview*"}
}

// Timeouts bounds every suspension point of the state machine.
type Timeouts struct {
	// Section bounds the settings-section wait. The slowest wait in the
	// system; the settings surface can be heavy.
	Section time.Duration

	// Controls bounds the upload-controls readiness race.
	Controls time.Duration

	// Network bounds the upload-response wait.
	Network time.Duration

	// IDPoll bounds the identifier-mutation fallback poll.
	IDPoll time.Duration

	// Verify bounds the final identifier re-read.
	Verify time.Duration

	// Cosmetic bounds the non-fatal image-container visibility wait.
	Cosmetic time.Duration

	// Click bounds individual best-effort clicks.
	Click time.Duration

	// PollInterval is the delay between identifier-field reads.
	PollInterval time.Duration
}

// DefaultTimeouts returns the production bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Section:      60 * time.Second,
		Controls:     30 * time.Second,
		Network:      20 * time.Second,
		IDPoll:       20 * time.Second,
		Verify:       20 * time.Second,
		Cosmetic:     30 * time.Second,
		Click:        5 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}
