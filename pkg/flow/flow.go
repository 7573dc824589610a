// Package flow sequences the capture pipeline and the upload state machine
// for the update use case, and the interactive login wait for session
// bootstrap.
package flow

import (
	"fmt"
	"net/url"

	"github.com/atotto/clipboard"

	"github.com/cardsync/cardsync/pkg/browser"
	"github.com/cardsync/cardsync/pkg/capture"
	"github.com/cardsync/cardsync/pkg/config"
	"github.com/cardsync/cardsync/pkg/history"
	"github.com/cardsync/cardsync/pkg/logging"
	"github.com/cardsync/cardsync/pkg/sessionstore"
	"github.com/cardsync/cardsync/pkg/upload"
)

// Report summarizes a verified update run.
type Report struct {
	Capture *capture.Result
	Outcome *upload.Outcome
}

// Runner wires the collaborators of one invocation.
type Runner struct {
	Manager *browser.Manager
	Store   *sessionstore.Store
	History *history.Store // optional
	Log     *logging.Logger
}

// Update captures the repository's rendered document and submits it through
// the settings surface. The captured file is left on disk even when the
// upload stage fails, to aid retry and debugging.
func (r *Runner) Update(cfg config.Settings) (*Report, error) {
	host, err := hostOf(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	statePath, cleanup, err := r.Store.LoadToFile(host)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	report, err := r.update(cfg, statePath)
	r.record(cfg, report, err)
	if err != nil {
		return nil, err
	}

	if cfg.CopyToClipboard {
		if err := clipboard.WriteAll(report.Capture.Path); err != nil {
			r.Log.Warnf("could not copy output path to clipboard: %v", err)
		}
	}
	return report, nil
}

func (r *Runner) update(cfg config.Settings, statePath string) (*Report, error) {
	viewport := browser.Viewport{Width: cfg.Width, Height: cfg.Height}

	pipeline := &capture.Pipeline{
		Log: r.Log,
		Factory: func() (browser.Driver, func(), error) {
			session, err := r.Manager.NewSession(browser.SessionOptions{
				Headless:         cfg.Headless,
				Viewport:         viewport,
				StorageStatePath: statePath,
			})
			if err != nil {
				return nil, nil, err
			}
			return session, session.Close, nil
		},
	}

	result, err := pipeline.Run(capture.Request{
		URL:        cfg.RepoURL(),
		Selector:   capture.DefaultContentSelector,
		Viewport:   viewport,
		Format:     cfg.Format,
		Quality:    cfg.Quality,
		OutputPath: cfg.OutputPath,
		ByteBudget: config.ByteBudget,
	})
	if err != nil {
		return nil, err
	}
	report := &Report{Capture: result}

	session, err := r.Manager.NewSession(browser.SessionOptions{
		Headless:         cfg.Headless,
		StorageStatePath: statePath,
	})
	if err != nil {
		return report, err
	}
	defer session.Close()

	machine := upload.NewMachine(session, r.Log)
	outcome, err := machine.Run(upload.Target{
		SettingsURL: cfg.SettingsURL(),
		FilePath:    result.Path,
	})
	if err != nil {
		return report, err
	}

	report.Outcome = outcome
	return report, nil
}

// record writes the run to history when a history store is configured.
// History is diagnostics only; recording failures never affect the run.
func (r *Runner) record(cfg config.Settings, report *Report, runErr error) {
	if r.History == nil {
		return
	}

	run := &history.Run{
		Repo:   cfg.Repo,
		Format: cfg.Format,
		Status: history.StatusVerified,
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
	}
	if report != nil && report.Capture != nil {
		run.OutputPath = report.Capture.Path
		run.ByteSize = report.Capture.ByteSize
		run.Quality = report.Capture.Quality
		run.Oversized = report.Capture.Oversized
	}
	if report != nil && report.Outcome != nil {
		run.Signal = string(report.Outcome.Signal)
		run.ImageID = report.Outcome.NewID
		run.IDChanged = report.Outcome.IDChanged
	}

	if err := r.History.Record(run); err != nil {
		r.Log.Warnf("could not record run history: %v", err)
	}
}

// hostOf extracts the host a session blob is keyed by.
func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}
	return u.Host, nil
}
