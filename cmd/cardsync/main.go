// Package main provides the cardsync command line tool. cardsync rasterizes
// a repository's rendered document into an image within the platform's byte
// budget and submits it as the repository's social preview card, verifying
// that the submission took effect.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cardsync/cardsync/pkg/browser"
	"github.com/cardsync/cardsync/pkg/capture"
	"github.com/cardsync/cardsync/pkg/config"
	"github.com/cardsync/cardsync/pkg/flow"
	"github.com/cardsync/cardsync/pkg/history"
	"github.com/cardsync/cardsync/pkg/logging"
	"github.com/cardsync/cardsync/pkg/sessionstore"
	"github.com/cardsync/cardsync/pkg/upload"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "update":
		runUpdate(os.Args[2:])
	case "init-auth":
		runInitAuth(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("cardsync v%s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cardsync: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "cardsync - keep a repository's social preview card in sync with its rendered document\n\n")
	fmt.Fprintf(os.Stderr, "Usage: cardsync <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  update       Capture the document and upload it as the preview card\n")
	fmt.Fprintf(os.Stderr, "  init-auth    Log in interactively and save the session for later runs\n")
	fmt.Fprintf(os.Stderr, "  history      Show recent runs\n")
	fmt.Fprintf(os.Stderr, "  version      Show version and exit\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  cardsync init-auth\n")
	fmt.Fprintf(os.Stderr, "  cardsync update -repo octocat/hello-world\n")
	fmt.Fprintf(os.Stderr, "  cardsync update -repo octocat/hello-world -format jpeg -quality 80 -out card.jpg\n")
}

// fatal prints a one-line diagnosis for err and exits non-zero.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "cardsync: %s\n", diagnose(err))
	os.Exit(1)
}

// diagnose maps an error to an actionable one-line message.
func diagnose(err error) string {
	switch {
	case errors.Is(err, sessionstore.ErrSessionMissing):
		return fmt.Sprintf("%v - run 'cardsync init-auth' first", err)
	case errors.Is(err, upload.ErrNotAuthenticated):
		return fmt.Sprintf("%v - the saved session is expired or invalid, re-run 'cardsync init-auth'", err)
	case errors.Is(err, capture.ErrContentNotFound):
		return fmt.Sprintf("%v - check that the repository is visible to the session and renders a document", err)
	case errors.Is(err, upload.ErrUploadUnconfirmed):
		return fmt.Sprintf("%v - inspect the settings page manually before retrying", err)
	case errors.Is(err, config.ErrInvalidInput):
		return err.Error()
	default:
		return err.Error()
	}
}

// resolveSettings layers the optional config file over the built-in defaults
// and returns the result for the flags to override.
func resolveSettings() config.Settings {
	settings := config.Defaults()
	if path := config.DefaultFilePath(); path != "" {
		if err := config.LoadFile(path, &settings); err != nil {
			fatal(err)
		}
	}
	return settings
}

func runUpdate(args []string) {
	settings := resolveSettings()

	fs := flag.NewFlagSet("update", flag.ExitOnError)
	fs.StringVar(&settings.Repo, "repo", settings.Repo, "Repository in owner/name form (required)")
	fs.StringVar(&settings.BaseURL, "base-url", settings.BaseURL, "Base URL of the target site")
	fs.StringVar(&settings.SessionPath, "session", settings.SessionPath, "Path to the session file")
	fs.IntVar(&settings.Width, "width", settings.Width, "Capture viewport width in pixels")
	fs.IntVar(&settings.Height, "height", settings.Height, "Capture viewport height in pixels")
	fs.StringVar(&settings.Format, "format", settings.Format, "Output format: png or jpeg")
	fs.IntVar(&settings.Quality, "quality", settings.Quality, "Initial jpeg quality (1-100)")
	fs.StringVar(&settings.OutputPath, "out", settings.OutputPath, "Output image path")
	fs.BoolVar(&settings.Headless, "headless", settings.Headless, "Run the browser headless")
	fs.BoolVar(&settings.CopyToClipboard, "copy", settings.CopyToClipboard, "Copy the output path to the clipboard on success")
	fs.Parse(args)

	if err := settings.Validate(); err != nil {
		fatal(err)
	}

	log, _ := logging.NewLogger("update")
	if err := updateRun(settings, log); err != nil {
		fatal(err)
	}
}

// updateRun owns the browser lifetime so teardown runs on every exit path,
// including fatal errors.
func updateRun(settings config.Settings, log *logging.Logger) error {
	runner, shutdown, err := newRunner(settings, log)
	if err != nil {
		return err
	}
	defer shutdown()

	report, err := runner.Update(settings)
	if err != nil {
		return err
	}

	fmt.Printf("captured %s (%s", report.Capture.Path, humanize.Bytes(uint64(report.Capture.ByteSize)))
	if settings.Format == config.FormatJPEG {
		fmt.Printf(", quality %d", report.Capture.Quality)
	}
	fmt.Println(")")

	if report.Capture.Oversized {
		fmt.Fprintf(os.Stderr, "warning: capture exceeds the %s budget; the platform may reject it\n",
			humanize.Bytes(uint64(config.ByteBudget)))
	}

	fmt.Printf("preview card updated: id %s (signal: %s)\n", report.Outcome.NewID, report.Outcome.Signal)
	if !report.Outcome.IDChanged {
		fmt.Fprintln(os.Stderr, "warning: card identifier unchanged; the image may be identical to the previous one")
	}
	return nil
}

func runInitAuth(args []string) {
	settings := resolveSettings()

	var waitBound time.Duration
	fs := flag.NewFlagSet("init-auth", flag.ExitOnError)
	fs.StringVar(&settings.BaseURL, "base-url", settings.BaseURL, "Base URL of the target site")
	fs.StringVar(&settings.SessionPath, "session", settings.SessionPath, "Path to the session file")
	fs.DurationVar(&waitBound, "timeout", 0, "Bound on the login wait (0 waits for the user indefinitely)")
	fs.Parse(args)

	if settings.SessionPath == "" {
		fatal(fmt.Errorf("%w: session path is required", config.ErrInvalidInput))
	}

	host, err := hostOf(settings.BaseURL)
	if err != nil {
		fatal(err)
	}

	log, _ := logging.NewLogger("init-auth")
	if err := bootstrapRun(settings, log, host, waitBound); err != nil {
		fatal(err)
	}
	fmt.Printf("session saved to %s\n", settings.SessionPath)
}

func bootstrapRun(settings config.Settings, log *logging.Logger, host string, waitBound time.Duration) error {
	runner, shutdown, err := newRunner(settings, log)
	if err != nil {
		return err
	}
	defer shutdown()

	fmt.Printf("opening %s - complete the login in the browser window...\n", settings.LoginURL())
	interactive := waitBound == 0
	return runner.Bootstrap(settings.LoginURL(), host, interactive, waitBound)
}

func runHistory(args []string) {
	settings := resolveSettings()

	var limit int
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	fs.StringVar(&settings.HistoryPath, "db", settings.HistoryPath, "Path to the history database")
	fs.IntVar(&limit, "n", 10, "Number of runs to show")
	fs.Parse(args)

	store, err := history.Open(settings.HistoryPath)
	if err != nil {
		fatal(err)
	}

	runs, err := store.Recent(limit)
	if err != nil {
		fatal(err)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return
	}

	for _, run := range runs {
		line := fmt.Sprintf("%s  %-9s %s", run.CreatedAt.Format("2006-01-02 15:04"), run.Status, run.Repo)
		if run.Status == history.StatusVerified {
			line += fmt.Sprintf("  %s (quality %d)  id %s", humanize.Bytes(uint64(run.ByteSize)), run.Quality, run.ImageID)
			if !run.IDChanged {
				line += " (unchanged)"
			}
		} else if run.Error != "" {
			line += "  " + run.Error
		}
		fmt.Println(line)
	}
}

// newRunner builds the shared collaborators of a browser-driven command.
// The returned shutdown releases the automation engine and must run on every
// exit path.
func newRunner(settings config.Settings, log *logging.Logger) (*flow.Runner, func(), error) {
	manager := browser.NewManager()
	if err := manager.Initialize(); err != nil {
		return nil, nil, err
	}

	runner := &flow.Runner{
		Manager: manager,
		Store:   sessionstore.New(settings.SessionPath),
		Log:     log,
	}

	if settings.HistoryPath != "" {
		if store, err := history.Open(settings.HistoryPath); err == nil {
			runner.History = store
		} else {
			log.Warnf("history disabled: %v", err)
		}
	}

	return runner, func() {
		if err := manager.Shutdown(); err != nil {
			log.Warnf("browser shutdown: %v", err)
		}
	}, nil
}

// hostOf extracts the host a session blob is keyed by.
func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid base URL %q", config.ErrInvalidInput, baseURL)
	}
	return u.Host, nil
}
