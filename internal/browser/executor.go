package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/humanize"
	"github.com/vintaloop/go-listing-backend/internal/metrics"
)

// ErrNavigation marks a transient navigation failure. It is the only
// executor error that is retried, and only within the executor's own
// bounded attempt budget.
var ErrNavigation = errors.New("transient navigation error")

// Prepared is the result of driving a draft through the listing form
// without submitting it.
type Prepared struct {
	// Screenshot is a full-page capture of the filled form, returned to the
	// caller as the preview artifact.
	Screenshot []byte
	// FieldEcho records what was actually typed into each located field.
	FieldEcho map[Field]string
	// PageURL is the form URL at capture time.
	PageURL string
}

// RemoteListing is one listing scraped from the owner's public closet page,
// used by the reconciliation sweep.
type RemoteListing struct {
	ID    string
	Title string
	URL   string
}

// Executor turns draft snapshots and automation targets into browser
// actions. It is stateless; all page state lives in the Driver passed to
// each call, and all timing randomness comes from the per-call sampler.
type Executor struct {
	Registry   *Registry
	BaseURL    string
	NavRetries int

	// NewSampler builds the humanization sampler for one driver session.
	// One sampler per session keeps the typing cadence consistent.
	NewSampler func() *humanize.Sampler
}

var listingURLRe = regexp.MustCompile(`/items/(\d+)`)

// pause waits out one sampled delay, aborting early when the context ends.
func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// navigate loads a URL, retrying transient failures with a short backoff,
// then scans for challenge markers. Challenge and selector errors are never
// retried here; only raw navigation failures are considered transient.
func (e *Executor) navigate(ctx context.Context, d Driver, url string) error {
	var lastErr error
	for attempt := 0; attempt <= e.NavRetries; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, time.Second<<(attempt-1)); err != nil {
				return err
			}
		}
		start := time.Now()
		err := d.Navigate(ctx, url)
		metrics.ObserveBrowserStep("navigate", time.Since(start))
		if err == nil {
			return e.scan(ctx, d)
		}
		lastErr = err
		log.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("navigation failed")
	}
	return fmt.Errorf("%w: %v", ErrNavigation, lastErr)
}

// scan wraps the challenge probe with its metric.
func (e *Executor) scan(ctx context.Context, d Driver) error {
	err := scanChallenge(ctx, d)
	if errors.Is(err, ErrChallengeDetected) {
		metrics.ChallengeDetected()
	}
	return err
}

// typeField locates a field, types the value with humanized per-character
// delays, and scans for challenges afterwards.
func (e *Executor) typeField(ctx context.Context, d Driver, s *humanize.Sampler, f Field, value string) (string, error) {
	sel, err := e.Registry.Locate(ctx, d, f)
	if err != nil {
		return "", err
	}
	if err := pause(ctx, s.Delay(humanize.Wait)); err != nil {
		return "", err
	}
	start := time.Now()
	if err := d.TypeText(ctx, sel, value, s.TypingDelays(value)); err != nil {
		return "", err
	}
	metrics.ObserveBrowserStep("fill:"+string(f), time.Since(start))
	return sel, e.scan(ctx, d)
}

// click locates a field and clicks it with a humanized lead-in pause.
func (e *Executor) click(ctx context.Context, d Driver, s *humanize.Sampler, f Field) error {
	sel, err := e.Registry.Locate(ctx, d, f)
	if err != nil {
		return err
	}
	if err := pause(ctx, s.Delay(humanize.Click)); err != nil {
		return err
	}
	start := time.Now()
	if err := d.Click(ctx, sel); err != nil {
		return err
	}
	metrics.ObserveBrowserStep("click:"+string(f), time.Since(start))
	return e.scan(ctx, d)
}

// PrepareListing navigates to the upload form, attaches photos, and fills
// every populated draft field. It never submits; submission is gated by the
// confirm-token workflow.
func (e *Executor) PrepareListing(ctx context.Context, d Driver, draft domain.DraftContext, photoPaths []string) (*Prepared, error) {
	s := e.NewSampler()
	if err := e.navigate(ctx, d, e.BaseURL+"/items/new"); err != nil {
		return nil, err
	}

	echo := map[Field]string{}

	if len(photoPaths) > 0 {
		sel, err := e.Registry.Locate(ctx, d, FieldPhotoInput)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := d.SetFiles(ctx, sel, photoPaths); err != nil {
			return nil, err
		}
		metrics.ObserveBrowserStep("upload_photos", time.Since(start))
		if err := e.scan(ctx, d); err != nil {
			return nil, err
		}
		echo[FieldPhotoInput] = fmt.Sprintf("%d photo(s)", len(photoPaths))
	}

	fields := []struct {
		field Field
		value string
	}{
		{FieldTitle, draft.Title},
		{FieldPrice, draft.Price},
		{FieldDescription, draft.Description},
		{FieldBrand, draft.Brand},
		{FieldSize, draft.Size},
		{FieldCondition, draft.Condition},
		{FieldColor, draft.Color},
		{FieldCategory, draft.CategoryHint},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		if _, err := e.typeField(ctx, d, s, f.field, f.value); err != nil {
			return nil, err
		}
		echo[f.field] = f.value
	}

	shot, err := d.Screenshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("preview screenshot failed")
	}
	return &Prepared{Screenshot: shot, FieldEcho: echo, PageURL: d.URL()}, nil
}

// Submit clicks the upload form's submit control and extracts the new
// listing's identity from the resulting URL. It must be called on a driver
// that just completed PrepareListing.
func (e *Executor) Submit(ctx context.Context, d Driver) (listingID, listingURL string, err error) {
	s := e.NewSampler()
	if err := e.click(ctx, d, s, FieldSubmit); err != nil {
		return "", "", err
	}
	if err := pause(ctx, s.Delay(humanize.Wait)); err != nil {
		return "", "", err
	}

	url := d.URL()
	m := listingURLRe.FindStringSubmatch(url)
	if m == nil {
		return "", "", fmt.Errorf("submit did not land on a listing page (url %q)", url)
	}
	return m[1], url, nil
}

// CheckAuth verifies the session is still signed in and returns the display
// identity shown on the account page. A visible login form means the
// session is dead.
func (e *Executor) CheckAuth(ctx context.Context, d Driver) (identity string, authenticated bool, err error) {
	if err := e.navigate(ctx, d, e.BaseURL+"/member/settings"); err != nil {
		return "", false, err
	}
	if loginSel, lerr := e.Registry.Locate(ctx, d, FieldLoginForm); lerr == nil && loginSel != "" {
		return "", false, nil
	}
	sel, err := e.Registry.Locate(ctx, d, FieldProfileName)
	if err != nil {
		return "", false, err
	}
	name, err := d.Text(ctx, sel)
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(name), true, nil
}

// Bump re-promotes one listing from its item page.
func (e *Executor) Bump(ctx context.Context, d Driver, listingID string) error {
	s := e.NewSampler()
	if err := e.navigate(ctx, d, e.BaseURL+"/items/"+listingID); err != nil {
		return err
	}
	return e.click(ctx, d, s, FieldBumpButton)
}

// Follow follows one member from their profile page.
func (e *Executor) Follow(ctx context.Context, d Driver, memberID string) error {
	s := e.NewSampler()
	if err := e.navigate(ctx, d, e.BaseURL+"/member/"+memberID); err != nil {
		return err
	}
	return e.click(ctx, d, s, FieldFollow)
}

// Unfollow removes a follow from a member's profile page.
func (e *Executor) Unfollow(ctx context.Context, d Driver, memberID string) error {
	s := e.NewSampler()
	if err := e.navigate(ctx, d, e.BaseURL+"/member/"+memberID); err != nil {
		return err
	}
	return e.click(ctx, d, s, FieldUnfollow)
}

// FollowsBack reports whether the member's profile shows the reciprocity
// badge. The caller is expected to already be on the member's page, but a
// fresh navigation keeps the check self-contained.
func (e *Executor) FollowsBack(ctx context.Context, d Driver, memberID string) (bool, error) {
	if err := e.navigate(ctx, d, e.BaseURL+"/member/"+memberID); err != nil {
		return false, err
	}
	sel, err := e.Registry.Locate(ctx, d, FieldFollowsYou)
	if errors.Is(err, ErrSelectorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sel != "", nil
}

// SendMessage types and sends one reply in a conversation, with humanized
// typing throughout.
func (e *Executor) SendMessage(ctx context.Context, d Driver, conversationID, text string) error {
	s := e.NewSampler()
	if err := e.navigate(ctx, d, e.BaseURL+"/inbox/"+conversationID); err != nil {
		return err
	}
	if _, err := e.typeField(ctx, d, s, FieldMessageBox, text); err != nil {
		return err
	}
	return e.click(ctx, d, s, FieldMessageSend)
}

// ListActiveListings scrapes the owner's public closet page. Used by the
// reconciliation sweep to find publishes whose acknowledgment was lost.
func (e *Executor) ListActiveListings(ctx context.Context, d Driver, memberID string) ([]RemoteListing, error) {
	if err := e.navigate(ctx, d, e.BaseURL+"/member/"+memberID+"/items"); err != nil {
		return nil, err
	}
	sel, err := e.Registry.Locate(ctx, d, FieldClosetItem)
	if errors.Is(err, ErrSelectorNotFound) {
		return nil, nil // empty closet renders no item anchors
	}
	if err != nil {
		return nil, err
	}
	links, err := d.Links(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteListing, 0, len(links))
	for _, l := range links {
		m := listingURLRe.FindStringSubmatch(l.Href)
		if m == nil {
			continue
		}
		out = append(out, RemoteListing{ID: m[1], Title: strings.TrimSpace(l.Text), URL: l.Href})
	}
	return out, nil
}
