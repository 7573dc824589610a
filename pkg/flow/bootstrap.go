package flow

import (
	"fmt"
	"os"
	"time"

	"github.com/cardsync/cardsync/pkg/browser"
)

// authenticatedMarkerScript reports whether the page shows a logged-in user:
// either the login metadata marker or a profile-menu element.
const authenticatedMarkerScript = `(() => {
	const meta = document.querySelector('meta[name="user-login"]');
	if (meta && meta.content) return true;
	return Boolean(document.querySelector('summary[aria-label*="profile"], [data-login]'));
})()`

// markerPollInterval is the delay between authenticated-marker checks while
// the human completes the interactive login.
const markerPollInterval = time.Second

// Bootstrap opens the login surface in a visible, ordinary-looking browser,
// waits for the user to authenticate, and persists the resulting session
// blob.
//
// When interactive is true the marker poll is unbounded: a human is present
// and may take arbitrary time. Non-interactive callers (test harnesses) must
// supply a maxWait bound instead.
func (r *Runner) Bootstrap(loginURL, host string, interactive bool, maxWait time.Duration) error {
	session, err := r.Manager.NewSession(browser.SessionOptions{
		Headless: false,
		Stealth:  true,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Navigate(loginURL, browser.MilestoneLoaded); err != nil {
		return err
	}

	if err := r.waitAuthenticated(session, interactive, maxWait); err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "cardsync-state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	blob, err := session.StorageState(tmp.Name())
	if err != nil {
		return err
	}

	if err := r.Store.Save(host, blob); err != nil {
		return err
	}

	r.Log.Infof("session for %s saved to %s", host, r.Store.Path())
	return nil
}

func (r *Runner) waitAuthenticated(drv browser.Driver, interactive bool, maxWait time.Duration) error {
	var expiry time.Time
	if !interactive {
		if maxWait <= 0 {
			return fmt.Errorf("non-interactive bootstrap requires a wait bound")
		}
		expiry = time.Now().Add(maxWait)
	}

	for {
		result, err := drv.Evaluate(authenticatedMarkerScript)
		if err == nil {
			if authenticated, ok := result.(bool); ok && authenticated {
				return nil
			}
		} else {
			// Evaluation can fail mid-navigation while the user logs in.
			r.Log.Debugf("marker check failed: %v", err)
		}

		if !interactive && time.Now().After(expiry) {
			return fmt.Errorf("no authenticated marker within %s", maxWait)
		}
		time.Sleep(markerPollInterval)
	}
}
