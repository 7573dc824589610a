// Package config resolves the effective settings for a cardsync run from
// built-in defaults, an optional YAML file, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ByteBudget is the maximum accepted size of the uploaded image in bytes.
// It is imposed by the target platform and is not configurable.
const ByteBudget = 1_000_000

// Output formats for the captured image.
const (
	FormatPNG  = "png"  // lossless
	FormatJPEG = "jpeg" // lossy, quality applies
)

// ErrInvalidInput marks settings that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// repoPattern matches "owner/name" repository identifiers.
var repoPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)

// Settings holds the resolved configuration for one run.
type Settings struct {
	// BaseURL is the root of the target site, e.g. https://github.com
	BaseURL string `yaml:"base_url"`

	// Repo is the repository identifier in owner/name form (flag only).
	Repo string `yaml:"-"`

	// SessionPath is the location of the persisted session blob.
	SessionPath string `yaml:"session_path"`

	// Width and Height are the capture viewport dimensions in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Format is the output image format: "png" or "jpeg".
	Format string `yaml:"format"`

	// Quality is the initial encoding quality (1-100, jpeg only).
	Quality int `yaml:"quality"`

	// OutputPath is where the captured image is written.
	OutputPath string `yaml:"output_path"`

	// HistoryPath is the location of the run-history database.
	HistoryPath string `yaml:"history_path"`

	// Headless controls whether the browser runs without a visible window.
	Headless bool `yaml:"headless"`

	// CopyToClipboard places the output path on the clipboard after a
	// verified run.
	CopyToClipboard bool `yaml:"copy_to_clipboard"`
}

// Defaults returns the built-in settings. Paths under ~/.cardsync are left
// empty when the home directory cannot be determined; validation catches
// missing required paths later.
func Defaults() Settings {
	s := Settings{
		BaseURL:  "https://github.com",
		Width:    1280,
		Height:   640,
		Format:   FormatPNG,
		Quality:  80,
		Headless: true,
	}

	if home, err := os.UserHomeDir(); err == nil {
		s.SessionPath = filepath.Join(home, ".cardsync", "session.json")
		s.OutputPath = filepath.Join(home, ".cardsync", "preview.png")
		s.HistoryPath = filepath.Join(home, ".cardsync", "history.db")
	}

	return s
}

// DefaultFilePath returns the default location of the YAML config file.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cardsync", "config.yaml")
}

// LoadFile overlays values from a YAML file onto s. A missing file is not an
// error; the defaults simply stand.
func LoadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings required by the update flow. All violations
// wrap ErrInvalidInput.
func (s *Settings) Validate() error {
	if s.Repo == "" || !repoPattern.MatchString(s.Repo) {
		return fmt.Errorf("%w: repository must be in owner/name form, got %q", ErrInvalidInput, s.Repo)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("%w: base URL is required", ErrInvalidInput)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: viewport dimensions must be positive, got %dx%d", ErrInvalidInput, s.Width, s.Height)
	}
	if s.Format != FormatPNG && s.Format != FormatJPEG {
		return fmt.Errorf("%w: format must be %q or %q, got %q", ErrInvalidInput, FormatPNG, FormatJPEG, s.Format)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 1 and 100, got %d", ErrInvalidInput, s.Quality)
	}
	if s.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	if s.SessionPath == "" {
		return fmt.Errorf("%w: session path is required", ErrInvalidInput)
	}
	return nil
}

// RepoURL returns the repository landing page URL (the capture target).
func (s *Settings) RepoURL() string {
	return s.BaseURL + "/" + s.Repo
}

// SettingsURL returns the repository settings surface URL (the upload target).
func (s *Settings) SettingsURL() string {
	return s.BaseURL + "/" + s.Repo + "/settings"
}

// LoginURL returns the interactive login page used by session bootstrap.
func (s *Settings) LoginURL() string {
	return s.BaseURL + "/login"
}
