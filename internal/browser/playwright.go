package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/vintaloop/go-listing-backend/internal/config"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// Manager owns the Playwright runtime and opens one isolated browser
// context per driver. Concurrent owners never share a context, so cookies
// and page state cannot leak between sessions.
type Manager struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	cfg         config.BrowserConfig
	initialized bool
}

// NewManager builds an uninitialized manager; call Initialize before
// opening drivers.
func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Initialize installs (if needed) and starts the Playwright runtime.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	m.pw = pw
	m.initialized = true
	return nil
}

// Shutdown stops the Playwright runtime.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.pw == nil {
		return nil
	}
	m.initialized = false
	return m.pw.Stop()
}

// NewDriver implements Factory: it launches a browser, creates a context
// carrying the owner's cookies and user agent, and opens a page.
func (m *Manager) NewDriver(_ context.Context, sess *vault.Session) (Driver, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager not initialized")
	}
	pw := m.pw
	m.mu.Unlock()

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(sess.UserAgent),
		Viewport:  &playwright.Size{Width: 1280, Height: 800},
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	if cookies := parseCookieHeader(sess.Cookie, m.cfg.CookieDomain); len(cookies) > 0 {
		if err := bctx.AddCookies(cookies); err != nil {
			bctx.Close()
			b.Close()
			return nil, fmt.Errorf("failed to install session cookies: %w", err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(m.cfg.StepTimeout.Milliseconds()))

	return &pwDriver{
		browser: b,
		bctx:    bctx,
		page:    page,
		nav:     m.cfg.NavTimeout,
	}, nil
}

// parseCookieHeader splits a "name=value; name2=value2" cookie string into
// playwright cookies scoped to the marketplace domain.
func parseCookieHeader(header, domain string) []playwright.OptionalCookie {
	var out []playwright.OptionalCookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		out = append(out, playwright.OptionalCookie{
			Name:   name,
			Value:  value,
			Domain: playwright.String(domain),
			Path:   playwright.String("/"),
			Secure: playwright.Bool(true),
		})
	}
	return out
}

// pwDriver implements Driver on one playwright page.
type pwDriver struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	nav     time.Duration
}

func (d *pwDriver) Navigate(_ context.Context, url string) error {
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(d.nav.Milliseconds())),
	})
	return err
}

func (d *pwDriver) URL() string { return d.page.URL() }

func (d *pwDriver) Exists(_ context.Context, selector string) (bool, error) {
	el, err := d.page.QuerySelector(selector)
	if err != nil {
		return false, err
	}
	return el != nil, nil
}

func (d *pwDriver) Text(_ context.Context, selector string) (string, error) {
	el, err := d.page.QuerySelector(selector)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}
	return el.TextContent()
}

func (d *pwDriver) Links(_ context.Context, selector string) ([]Link, error) {
	els, err := d.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(els))
	for _, el := range els {
		href, _ := el.GetAttribute("href")
		if href == "" {
			continue
		}
		text, _ := el.TextContent()
		out = append(out, Link{Href: href, Text: text})
	}
	return out, nil
}

func (d *pwDriver) Content(_ context.Context) (string, error) {
	return d.page.Content()
}

func (d *pwDriver) Click(_ context.Context, selector string) error {
	return d.page.Click(selector)
}

// TypeText clicks the target to focus it, then emits one keystroke per rune
// with the sampled pause after each. playwright's own fixed-delay typing is
// deliberately not used; a constant inter-key interval is exactly the
// signature this exists to avoid.
func (d *pwDriver) TypeText(ctx context.Context, selector, text string, delays []time.Duration) error {
	if err := d.page.Click(selector); err != nil {
		return err
	}
	kb := d.page.Keyboard()
	for i, r := range []rune(text) {
		if err := kb.Type(string(r)); err != nil {
			return err
		}
		if i < len(delays) {
			select {
			case <-time.After(delays[i]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (d *pwDriver) SetFiles(_ context.Context, selector string, paths []string) error {
	return d.page.Locator(selector).SetInputFiles(paths)
}

func (d *pwDriver) Screenshot(_ context.Context) ([]byte, error) {
	return d.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

func (d *pwDriver) Close() error {
	_ = d.page.Close()
	_ = d.bctx.Close()
	return d.browser.Close()
}
