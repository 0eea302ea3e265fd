package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrChallengeDetected means the site presented an anti-bot challenge.
// This is a terminal state by design: the system detects and reports
// challenges, it never attempts to solve or bypass them.
var ErrChallengeDetected = errors.New("challenge detected")

// ChallengeError carries the specific marker that fired so operators can
// tell a CAPTCHA wall from a device check. errors.Is(err,
// ErrChallengeDetected) holds for every ChallengeError.
type ChallengeError struct {
	Reason string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge detected: %s", e.Reason)
}

func (e *ChallengeError) Unwrap() error { return ErrChallengeDetected }

// challengeSelectors are DOM markers of known challenge walls, probed after
// every executor step.
var challengeSelectors = []struct {
	reason   string
	selector string
}{
	{"datadome interstitial", `iframe[src*="captcha-delivery"]`},
	{"datadome interstitial", `#datadome-captcha`},
	{"recaptcha widget", `iframe[src*="recaptcha"]`},
	{"hcaptcha widget", `iframe[src*="hcaptcha"]`},
	{"cloudflare challenge", `#challenge-form`},
	{"cloudflare challenge", `#cf-challenge-running`},
	{"verification prompt", `[data-testid="verification-prompt"]`},
}

// challengePhrases are body-text markers used as a fallback when a wall
// renders without its usual DOM structure.
var challengePhrases = []struct {
	reason string
	phrase string
}{
	{"human verification text", "verify you are human"},
	{"human verification text", "confirm you are not a robot"},
	{"rate-limit wall", "unusual activity detected"},
	{"access denied wall", "access to this page has been denied"},
}

// scanChallenge probes the page for challenge markers and returns a
// ChallengeError when one fires.
func scanChallenge(ctx context.Context, d Driver) error {
	for _, m := range challengeSelectors {
		ok, err := d.Exists(ctx, m.selector)
		if err != nil {
			return err
		}
		if ok {
			return &ChallengeError{Reason: m.reason}
		}
	}
	html, err := d.Content(ctx)
	if err != nil {
		return err
	}
	lower := strings.ToLower(html)
	for _, m := range challengePhrases {
		if strings.Contains(lower, m.phrase) {
			return &ChallengeError{Reason: m.reason}
		}
	}
	return nil
}
