// Package upload submits a captured image through the target's multi-state
// settings form and confirms the submission actually took effect. It is the
// one part of the system that reasons about racing signals and alternate UI
// states on a page it does not control.
package upload

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/tidwall/gjson"

	"github.com/cardsync/cardsync/pkg/browser"
	"github.com/cardsync/cardsync/pkg/logging"
)

// Machine drives one submission through its states:
//
//	NAVIGATE → SECTION_FOUND → MODE_DETECTED → {EDIT_OPENED} → CONTROLS_READY
//	         → SUBMITTED → COMPLETION_DETECTED → VERIFIED
type Machine struct {
	Driver    browser.Driver
	Log       *logging.Logger
	Selectors Selectors
	Timeouts  Timeouts

	// EndpointFragments are glob patterns a 2xx upload response URL may
	// match. Nil means DefaultEndpointFragments.
	EndpointFragments []string
}

// NewMachine creates a machine with default selectors and timeouts.
func NewMachine(driver browser.Driver, log *logging.Logger) *Machine {
	return &Machine{
		Driver:    driver,
		Log:       log,
		Selectors: DefaultSelectors(),
		Timeouts:  DefaultTimeouts(),
	}
}

// Run submits target and returns a verified outcome.
func (m *Machine) Run(target Target) (*Outcome, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	// NAVIGATE → SECTION_FOUND
	if err := m.Driver.Navigate(target.SettingsURL, browser.MilestoneParsed); err != nil {
		return nil, err
	}
	if isLoginRedirect(m.Driver.URL()) {
		m.logLandingPage("settings navigation redirected")
		return nil, fmt.Errorf("%w: settings page redirected to %s", ErrNotAuthenticated, m.Driver.URL())
	}
	if err := m.Driver.WaitAttached(m.Selectors.SectionHeading, m.Timeouts.Section); err != nil {
		m.logLandingPage("settings section never attached")
		return nil, fmt.Errorf("settings section not found: %w", err)
	}

	// SECTION_FOUND → MODE_DETECTED. The identifier must be read before any
	// click: opening the disclosure can mutate the subtree holding the field.
	state := m.readCardState()
	if state.Present {
		m.Log.Infof("existing card detected (id %s); replacing", state.PriorID)
	} else {
		m.Log.Infof("no existing card; adding")
	}

	// MODE_DETECTED → EDIT_OPENED. Best-effort: some UI states expose the
	// upload controls without any disclosure step, and the readiness wait
	// below is the authoritative check.
	m.openDisclosure()

	// EDIT_OPENED → CONTROLS_READY. Two valid UI shapes; whichever signals
	// first wins.
	_, err := raceFirst(m.Timeouts.Controls,
		func(timeout time.Duration) error {
			return m.Driver.WaitAttached(m.Selectors.FileInput, timeout)
		},
		func(timeout time.Duration) error {
			return m.Driver.WaitVisible(m.Selectors.UploadAffordance, timeout)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("upload controls never became ready: %w", err)
	}

	// Arm the response listener before the submission action so a fast
	// response cannot arrive before anyone is listening.
	watch := m.Driver.ArmResponseWatch(m.endpointMatcher())

	// CONTROLS_READY → SUBMITTED. Direct file assignment is deterministic
	// and preferred; the chooser path handles the textual-affordance shape.
	if m.Driver.Exists(m.Selectors.FileInput) {
		if err := m.Driver.SetInputFiles(m.Selectors.FileInput, target.FilePath, m.Timeouts.Controls); err != nil {
			return nil, fmt.Errorf("file submission failed: %w", err)
		}
		m.Log.Debugf("submitted via direct file input")
	} else {
		if err := m.Driver.SubmitViaChooser(m.Selectors.UploadAffordance, target.FilePath, m.Timeouts.Controls); err != nil {
			return nil, fmt.Errorf("file submission failed: %w", err)
		}
		m.Log.Debugf("submitted via file chooser")
	}

	// SUBMITTED → COMPLETION_DETECTED. Network response first; identifier
	// poll as fallback; absence of both is not proof of failure.
	signal, idChangeObserved := m.detectCompletion(watch, state)

	// COMPLETION_DETECTED → VERIFIED. The hard gate: the identifier field
	// must be non-empty, whatever signalled before.
	finalID, ok := m.pollIdentifier(m.Timeouts.Verify, func(v string) bool { return v != "" })
	if !ok {
		m.logLandingPage("identifier never populated")
		return nil, fmt.Errorf("%w: identifier field still empty after submission", ErrUploadUnconfirmed)
	}

	// Cosmetic confirmation only; never fatal.
	if err := m.Driver.WaitVisible(m.Selectors.ImageContainer, m.Timeouts.Cosmetic); err != nil {
		m.Log.Warnf("image container not visible after upload: %v", err)
	}

	outcome := &Outcome{
		NewID:     finalID,
		IDChanged: finalID != state.PriorID,
		Signal:    signal,
	}

	if state.Present && !outcome.IDChanged && !idChangeObserved {
		// A content-identical replace is plausible and not an error.
		m.Log.Warnf("identifier unchanged after replace (id %s)", finalID)
	}

	m.Log.Infof("upload verified: id %s (changed: %v, signal: %s)", outcome.NewID, outcome.IDChanged, outcome.Signal)
	return outcome, nil
}

// readCardState derives the add-vs-replace mode from the hidden identifier
// field. Idempotent: reading twice without an intervening submission yields
// the same state.
func (m *Machine) readCardState() CardState {
	value, present := m.Driver.FieldValue(m.Selectors.IdentifierField)
	if !present || value == "" {
		return CardState{}
	}
	return CardState{Present: true, PriorID: value}
}

// openDisclosure clicks whichever disclosure control the current UI state
// exposes. Click failures are swallowed: the controls-readiness race is the
// authoritative check.
func (m *Machine) openDisclosure() {
	switch {
	case m.Driver.Exists(m.Selectors.EditTrigger):
		if err := m.Driver.Click(m.Selectors.EditTrigger, m.Timeouts.Click); err != nil {
			m.Log.Debugf("edit trigger click failed: %v", err)
		}
	case m.Driver.Exists(m.Selectors.SectionEdit):
		if err := m.Driver.Click(m.Selectors.SectionEdit, m.Timeouts.Click); err != nil {
			m.Log.Debugf("section edit click failed: %v", err)
		}
	default:
		m.Log.Debugf("no disclosure control present; upload controls assumed exposed")
	}
}

// detectCompletion resolves the completion signal. The network watch is
// consulted first; if it fired, the identifier poll is skipped entirely.
func (m *Machine) detectCompletion(watch browser.ResponseWatch, state CardState) (Signal, bool) {
	if resp, err := watch.Wait(m.Timeouts.Network); err == nil {
		idChange := false
		if id := uploadedID(resp.Body); id != "" {
			m.Log.Debugf("upload response %d from %s carried id %s", resp.Status, resp.URL, id)
			idChange = id != state.PriorID
		} else {
			m.Log.Debugf("upload response %d from %s", resp.Status, resp.URL)
		}
		return SignalNetworkResponse, idChange
	}

	m.Log.Debugf("no upload response observed; polling identifier field")
	_, ok := m.pollIdentifier(m.Timeouts.IDPoll, func(v string) bool {
		return v != "" && v != state.PriorID
	})
	if ok {
		return SignalIDPoll, true
	}

	// Neither signal resolved. Proceed to verification anyway; its hard
	// gate decides.
	m.Log.Warnf("no completion signal observed within bounds")
	return SignalNone, false
}

// pollIdentifier reads the identifier field until accept returns true or the
// deadline passes.
func (m *Machine) pollIdentifier(deadline time.Duration, accept func(string) bool) (string, bool) {
	interval := m.Timeouts.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	expiry := time.Now().Add(deadline)
	for {
		if value, present := m.Driver.FieldValue(m.Selectors.IdentifierField); present && accept(value) {
			return value, true
		}
		if time.Now().After(expiry) {
			return "", false
		}
		time.Sleep(interval)
	}
}

// endpointMatcher accepts any 2xx response whose URL matches one of the
// configured endpoint patterns.
func (m *Machine) endpointMatcher() func(url string, status int) bool {
	fragments := m.EndpointFragments
	if fragments == nil {
		fragments = DefaultEndpointFragments()
	}

	globs := make([]glob.Glob, 0, len(fragments))
	for _, fragment := range fragments {
		g, err := glob.Compile(fragment)
		if err != nil {
			m.Log.Warnf("invalid endpoint pattern %q: %v", fragment, err)
			continue
		}
		globs = append(globs, g)
	}

	return func(url string, status int) bool {
		if status < 200 || status >= 300 {
			return false
		}
		for _, g := range globs {
			if g.Match(url) {
				return true
			}
		}
		return false
	}
}

// uploadedID extracts the attachment identifier from an upload response body,
// whichever endpoint shape produced it. Diagnostic only.
func uploadedID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range []string{"id", "asset.id", "model.id"} {
		if v := gjson.GetBytes(body, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// isLoginRedirect reports whether a post-navigation URL indicates an
// authentication redirect.
func isLoginRedirect(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(u.Path, "/")
	return strings.HasSuffix(path, "/login") || strings.HasSuffix(path, "/session") ||
		strings.Contains(path, "/login/") || strings.Contains(path, "/sessions/")
}

// logLandingPage records the coarse shape of the page a fatal wait failed on.
func (m *Machine) logLandingPage(reason string) {
	content, err := m.Driver.Content()
	if err != nil {
		return
	}
	summary := browser.SummarizeDOM(content)
	m.Log.Warnf("%s on %q (title %q, login form: %v)", reason, m.Driver.URL(), summary.Title, summary.LoginForm)
}
