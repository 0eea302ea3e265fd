// Package browser drives the marketplace UI through a controlled browser.
// The executor translates draft snapshots into form-fill and upload steps,
// checks for anti-bot challenges after every step, and never attempts to
// defeat one. Challenges are detected and reported, nothing more.
package browser

import (
	"context"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// Link is an anchor extracted from the page.
type Link struct {
	Href string
	Text string
}

// Driver abstracts one live page so the executor's logic can be exercised
// without a real browser. The playwright implementation is the only
// production driver.
type Driver interface {
	// Navigate loads a URL and waits for the DOM to settle.
	Navigate(ctx context.Context, url string) error
	// URL returns the current page URL.
	URL() string
	// Exists reports whether a selector matches anything on the page.
	Exists(ctx context.Context, selector string) (bool, error)
	// Text returns the text content of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// Links returns all anchors matching the selector.
	Links(ctx context.Context, selector string) ([]Link, error)
	// Content returns the full page HTML.
	Content(ctx context.Context) (string, error)
	// Click clicks the first match.
	Click(ctx context.Context, selector string) error
	// TypeText focuses the element and types character by character,
	// pausing for delays[i] after rune i.
	TypeText(ctx context.Context, selector, text string, delays []time.Duration) error
	// SetFiles attaches local files to an input[type=file].
	SetFiles(ctx context.Context, selector string, paths []string) error
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close tears the page and its browser context down.
	Close() error
}

// Factory opens a fresh driver bound to an owner's saved session. Each
// in-flight prepare/publish gets its own browser context so concurrent
// owners never share browser state.
type Factory interface {
	NewDriver(ctx context.Context, sess *vault.Session) (Driver, error)
}
