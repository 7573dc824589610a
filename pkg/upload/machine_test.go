package upload

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/pkg/browser"
	"github.com/cardsync/cardsync/pkg/logging"
)

// testSelectors keeps the fake driver's dispatch readable.
var testSelectors = Selectors{
	SectionHeading:   "#heading",
	IdentifierField:  "#identifier",
	EditTrigger:      "#edit",
	SectionEdit:      "#section-edit",
	FileInput:        "#file",
	UploadAffordance: "#affordance",
	ImageContainer:   "#image",
}

func testTimeouts() Timeouts {
	return Timeouts{
		Section:      100 * time.Millisecond,
		Controls:     100 * time.Millisecond,
		Network:      100 * time.Millisecond,
		IDPoll:       100 * time.Millisecond,
		Verify:       100 * time.Millisecond,
		Cosmetic:     50 * time.Millisecond,
		Click:        50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

// fakeDriver is a scriptable settings surface. It records every operation so
// tests can assert ordering guarantees.
type fakeDriver struct {
	mu  sync.Mutex
	ops []string

	// landing configuration
	landedURL       string
	headingAttached bool

	// identifier field
	fieldPresent     bool
	fieldValue       string
	fieldAfterSubmit string

	// controls
	editTrigger       bool
	sectionEdit       bool
	fileInput         bool
	affordanceVisible bool
	imageVisible      bool

	// response delivered to a matching armed watch
	response *browser.ResponseInfo

	submitted bool
}

func (d *fakeDriver) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *fakeDriver) opIndex(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, o := range d.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func (d *fakeDriver) Navigate(url string, milestone browser.Milestone) error {
	d.record("navigate")
	if d.landedURL == "" {
		d.landedURL = url
	}
	return nil
}

func (d *fakeDriver) URL() string { return d.landedURL }

func (d *fakeDriver) WaitAttached(selector string, timeout time.Duration) error {
	d.record("wait-attached " + selector)
	switch selector {
	case testSelectors.SectionHeading:
		if d.headingAttached {
			return nil
		}
	case testSelectors.FileInput:
		if d.fileInput {
			return nil
		}
	}
	time.Sleep(timeout)
	return assert.AnError
}

func (d *fakeDriver) WaitVisible(selector string, timeout time.Duration) error {
	d.record("wait-visible " + selector)
	switch selector {
	case testSelectors.UploadAffordance:
		if d.affordanceVisible {
			return nil
		}
	case testSelectors.ImageContainer:
		if d.imageVisible {
			return nil
		}
	}
	time.Sleep(timeout)
	return assert.AnError
}

func (d *fakeDriver) Exists(selector string) bool {
	switch selector {
	case testSelectors.EditTrigger:
		return d.editTrigger
	case testSelectors.SectionEdit:
		return d.sectionEdit
	case testSelectors.FileInput:
		return d.fileInput
	}
	return false
}

func (d *fakeDriver) FieldValue(selector string) (string, bool) {
	d.record("read-identifier")
	if !d.fieldPresent {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return d.fieldAfterSubmit, true
	}
	return d.fieldValue, true
}

func (d *fakeDriver) Click(selector string, timeout time.Duration) error {
	d.record("click " + selector)
	return nil
}

func (d *fakeDriver) ScrollIntoView(selector string) error { return nil }

func (d *fakeDriver) Evaluate(script string) (interface{}, error) { return nil, nil }

func (d *fakeDriver) Screenshot(path string, opts browser.ScreenshotOptions) (int64, error) {
	return 0, nil
}

type fakeWatch struct {
	info *browser.ResponseInfo
}

func (w *fakeWatch) Wait(timeout time.Duration) (*browser.ResponseInfo, error) {
	if w.info != nil {
		return w.info, nil
	}
	time.Sleep(timeout)
	return nil, assert.AnError
}

func (d *fakeDriver) ArmResponseWatch(match func(url string, status int) bool) browser.ResponseWatch {
	d.record("arm-watch")
	if d.response != nil && match(d.response.URL, d.response.Status) {
		return &fakeWatch{info: d.response}
	}
	return &fakeWatch{}
}

func (d *fakeDriver) markSubmitted() {
	d.mu.Lock()
	d.submitted = true
	d.mu.Unlock()
}

func (d *fakeDriver) SetInputFiles(selector, path string, timeout time.Duration) error {
	d.record("set-input-files")
	d.markSubmitted()
	return nil
}

func (d *fakeDriver) SubmitViaChooser(trigger, path string, timeout time.Duration) error {
	d.record("submit-via-chooser")
	d.markSubmitted()
	return nil
}

func (d *fakeDriver) Content() (string, error) { return "<html></html>", nil }

var _ browser.Driver = (*fakeDriver)(nil)

func testMachine(d *fakeDriver) *Machine {
	return &Machine{
		Driver:    d,
		Log:       logging.NewWriterLogger("test", io.Discard),
		Selectors: testSelectors,
		Timeouts:  testTimeouts(),
	}
}

func testTarget(t *testing.T) Target {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0600))
	return Target{SettingsURL: "https://example.com/octocat/hello/settings", FilePath: path}
}

func TestMachineAddsCardWithNetworkSignal(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "",
		fieldAfterSubmit: "abc123",
		editTrigger:      true,
		fileInput:        true,
		imageVisible:     true,
		response: &browser.ResponseInfo{
			URL:    "https://example.com/upload/policies/assets",
			Status: 201,
			Body:   []byte(`{"id": "abc123"}`),
		},
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, "abc123", outcome.NewID)
	assert.True(t, outcome.IDChanged)
	assert.Equal(t, SignalNetworkResponse, outcome.Signal)
}

func TestMachineReplacesCardViaIDPoll(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "abc123",
		fieldAfterSubmit: "def456",
		editTrigger:      true,
		fileInput:        true,
		imageVisible:     true,
		// no response: the network watch times out and the id poll wins
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, "def456", outcome.NewID)
	assert.True(t, outcome.IDChanged)
	assert.Equal(t, SignalIDPoll, outcome.Signal)
}

func TestMachineUnchangedIdentifierIsNotAnError(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "abc123",
		fieldAfterSubmit: "abc123", // content-identical replace
		editTrigger:      true,
		fileInput:        true,
		imageVisible:     true,
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, "abc123", outcome.NewID)
	assert.False(t, outcome.IDChanged)
	// The id never changed, so the poll fallback cannot have fired.
	assert.Equal(t, SignalNone, outcome.Signal)
}

func TestMachineNetworkSignalShortCircuitsIDPoll(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "abc123",
		fieldAfterSubmit: "abc123",
		fileInput:        true,
		imageVisible:     true,
		response: &browser.ResponseInfo{
			URL:    "https://example.com/octocat/hello/settings/social_preview",
			Status: 200,
		},
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	// The network response resolved, so the unchanged identifier is
	// reported under the network signal rather than falling through to the
	// poll.
	assert.Equal(t, SignalNetworkResponse, outcome.Signal)
	assert.False(t, outcome.IDChanged)
}

func TestMachineFailsWhenIdentifierNeverPopulates(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "",
		fieldAfterSubmit: "", // submission took no effect
		fileInput:        true,
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.ErrorIs(t, err, ErrUploadUnconfirmed)
	assert.Nil(t, outcome)
}

func TestMachineLoginRedirectFailsBeforeAnyUploadAttempt(t *testing.T) {
	d := &fakeDriver{
		landedURL: "https://example.com/login",
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Nil(t, outcome)

	assert.Equal(t, -1, d.opIndex("set-input-files"))
	assert.Equal(t, -1, d.opIndex("submit-via-chooser"))
	assert.Equal(t, -1, d.opIndex("arm-watch"))
}

func TestMachineReadsIdentifierBeforeAnyClick(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldValue:       "abc123",
		fieldAfterSubmit: "def456",
		editTrigger:      true,
		fileInput:        true,
		imageVisible:     true,
	}

	_, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	readIdx := d.opIndex("read-identifier")
	clickIdx := d.opIndex("click " + testSelectors.EditTrigger)
	require.NotEqual(t, -1, readIdx)
	require.NotEqual(t, -1, clickIdx)
	assert.Less(t, readIdx, clickIdx, "identifier must be read before any UI mutation")
}

func TestMachineArmsWatchBeforeSubmitting(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldAfterSubmit: "abc123",
		fileInput:        true,
		imageVisible:     true,
	}

	_, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	armIdx := d.opIndex("arm-watch")
	submitIdx := d.opIndex("set-input-files")
	require.NotEqual(t, -1, armIdx)
	require.NotEqual(t, -1, submitIdx)
	assert.Less(t, armIdx, submitIdx, "response watch must be armed before the submission action")
}

func TestMachineFallsBackToFileChooser(t *testing.T) {
	d := &fakeDriver{
		headingAttached:   true,
		fieldPresent:      true,
		fieldAfterSubmit:  "abc123",
		affordanceVisible: true, // no file input at all
		imageVisible:      true,
	}

	outcome, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, "abc123", outcome.NewID)
	assert.NotEqual(t, -1, d.opIndex("submit-via-chooser"))
	assert.Equal(t, -1, d.opIndex("set-input-files"))
}

func TestMachineSkipsDisclosureWhenControlsAlreadyExposed(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldAfterSubmit: "abc123",
		fileInput:        true,
		imageVisible:     true,
		// no edit trigger, no section edit
	}

	_, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)

	for _, op := range d.ops {
		assert.NotContains(t, op, "click #edit")
	}
}

func TestMachineUsesStructuralEditFallback(t *testing.T) {
	d := &fakeDriver{
		headingAttached:  true,
		fieldPresent:     true,
		fieldAfterSubmit: "abc123",
		sectionEdit:      true,
		fileInput:        true,
		imageVisible:     true,
	}

	_, err := testMachine(d).Run(testTarget(t))
	require.NoError(t, err)
	assert.NotEqual(t, -1, d.opIndex("click "+testSelectors.SectionEdit))
}

func TestMachineFailsWhenControlsNeverReady(t *testing.T) {
	d := &fakeDriver{
		headingAttached: true,
		fieldPresent:    true,
		// neither a file input nor an affordance ever shows up
	}

	_, err := testMachine(d).Run(testTarget(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.NotErrorIs(t, err, ErrUploadUnconfirmed)
}

func TestCardStateDetectionIsIdempotent(t *testing.T) {
	d := &fakeDriver{fieldPresent: true, fieldValue: "abc123"}
	m := testMachine(d)

	first := m.readCardState()
	second := m.readCardState()
	assert.Equal(t, first, second)
	assert.Equal(t, CardState{Present: true, PriorID: "abc123"}, first)
}

func TestCardStateAbsentField(t *testing.T) {
	m := testMachine(&fakeDriver{fieldPresent: false})
	assert.Equal(t, CardState{}, m.readCardState())
}

func TestTargetValidate(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		target := Target{FilePath: filepath.Join(t.TempDir(), "absent.png")}
		assert.Error(t, target.Validate())
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.png")
		require.NoError(t, os.WriteFile(path, nil, 0600))
		target := Target{FilePath: path}
		assert.Error(t, target.Validate())
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "card.png")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0600))
		target := Target{FilePath: path}
		assert.NoError(t, target.Validate())
	})
}

func TestIsLoginRedirect(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/login", true},
		{"https://example.com/login/", true},
		{"https://example.com/session", true},
		{"https://example.com/login/oauth", true},
		{"https://example.com/octocat/hello/settings", false},
		{"https://example.com/octocat/login-tools/settings", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoginRedirect(tt.url))
		})
	}
}

func TestEndpointMatcher(t *testing.T) {
	m := testMachine(&fakeDriver{})
	match := m.endpointMatcher()

	assert.True(t, match("https://example.com/upload/policies/assets", 201))
	assert.True(t, match("https://example.com/octocat/hello/settings/social_preview", 200))
	assert.False(t, match("https://example.com/upload/policies/assets", 422))
	assert.False(t, match("https://example.com/octocat/hello", 200))
}

func TestUploadedID(t *testing.T) {
	assert.Equal(t, "abc123", uploadedID([]byte(`{"id":"abc123"}`)))
	assert.Equal(t, "42", uploadedID([]byte(`{"asset":{"id":42}}`)))
	assert.Equal(t, "", uploadedID([]byte(`not json`)))
	assert.Equal(t, "", uploadedID(nil))
}
