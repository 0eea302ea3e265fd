package services

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vintaloop/go-listing-backend/internal/browser"
	"github.com/vintaloop/go-listing-backend/internal/config"
	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/humanize"
	"github.com/vintaloop/go-listing-backend/internal/kv"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

var testVaultKey = []byte("0123456789abcdef0123456789abcdef")

// ---------- fakes ----------

// svcDriver scripts a marketplace page for service-level tests.
type svcDriver struct {
	selectors map[string]bool            // present on every page
	byURL     map[string]map[string]bool // per-URL overrides
	texts     map[string]string
	links     map[string][]browser.Link
	html      string
	url       string

	// urlAfterClick, when set, becomes the page URL after any click.
	urlAfterClick string

	typed   map[string]string
	clicked []string
	files   []string
	closed  bool
}

func newSvcDriver() *svcDriver {
	return &svcDriver{
		selectors: map[string]bool{},
		byURL:     map[string]map[string]bool{},
		texts:     map[string]string{},
		links:     map[string][]browser.Link{},
		typed:     map[string]string{},
		url:       "about:blank",
	}
}

func (f *svcDriver) Navigate(_ context.Context, url string) error {
	f.url = url
	return nil
}

func (f *svcDriver) URL() string { return f.url }

func (f *svcDriver) Exists(_ context.Context, sel string) (bool, error) {
	if page, ok := f.byURL[f.url]; ok {
		if v, ok := page[sel]; ok {
			return v, nil
		}
	}
	return f.selectors[sel], nil
}

func (f *svcDriver) Text(_ context.Context, sel string) (string, error) {
	return f.texts[sel], nil
}

func (f *svcDriver) Links(_ context.Context, sel string) ([]browser.Link, error) {
	return f.links[sel], nil
}

func (f *svcDriver) Content(_ context.Context) (string, error) { return f.html, nil }

func (f *svcDriver) Click(_ context.Context, sel string) error {
	f.clicked = append(f.clicked, sel)
	if f.urlAfterClick != "" {
		f.url = f.urlAfterClick
	}
	return nil
}

func (f *svcDriver) TypeText(_ context.Context, sel, text string, _ []time.Duration) error {
	f.typed[sel] = text
	return nil
}

func (f *svcDriver) SetFiles(_ context.Context, _ string, paths []string) error {
	f.files = append(f.files, paths...)
	return nil
}

func (f *svcDriver) Screenshot(_ context.Context) ([]byte, error) { return []byte("png"), nil }

func (f *svcDriver) Close() error {
	f.closed = true
	return nil
}

// countClicks counts clicks on one selector.
func (f *svcDriver) countClicks(sel string) int {
	n := 0
	for _, c := range f.clicked {
		if c == sel {
			n++
		}
	}
	return n
}

// fakeFactory hands out drivers built by Make and counts every open.
type fakeFactory struct {
	Make    func() *svcDriver
	opens   int
	drivers []*svcDriver
}

func (f *fakeFactory) NewDriver(_ context.Context, _ *vault.Session) (browser.Driver, error) {
	d := f.Make()
	f.opens++
	f.drivers = append(f.drivers, d)
	return d, nil
}

func (f *fakeFactory) last() *svcDriver {
	if len(f.drivers) == 0 {
		return nil
	}
	return f.drivers[len(f.drivers)-1]
}

// fakeCatalog is a DraftCatalog backed by fixed data.
type fakeCatalog struct {
	photos    []string
	published []string // "owner/draft/listing"
}

func (c *fakeCatalog) GetDraftPhotos(_ context.Context, _, _ string) ([]string, error) {
	return c.photos, nil
}

func (c *fakeCatalog) MarkPublished(_ context.Context, ownerID, draftID, listingID, _ string) error {
	c.published = append(c.published, ownerID+"/"+draftID+"/"+listingID)
	return nil
}

// ---------- shared helpers ----------

func fastTestSampler() *humanize.Sampler {
	cfg := config.HumanizeConfig{
		KeystrokeMin: time.Microsecond, KeystrokeMax: 2 * time.Microsecond,
		ClickMin: time.Microsecond, ClickMax: 2 * time.Microsecond,
		WaitMin: time.Microsecond, WaitMax: 2 * time.Microsecond,
	}
	return humanize.NewSampler(rand.New(rand.NewSource(7)), cfg)
}

func newServicesDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.AutomationRule{}, &domain.AutomationRun{}, &domain.PublishedListing{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// uploadDriver scripts the full upload form plus the post-submit redirect.
func uploadDriver() *svcDriver {
	d := newSvcDriver()
	for _, sel := range []string{
		`[data-testid="photo-upload-input"]`,
		`[data-testid="item-title-input"]`,
		`[data-testid="item-price-input"]`,
		`[data-testid="item-description-input"]`,
		`[data-testid="upload-submit-button"]`,
	} {
		d.selectors[sel] = true
	}
	d.urlAfterClick = "https://market.test/items/991283"
	return d
}

// harness bundles the shared infrastructure with a mutable clock.
type harness struct {
	now     time.Time
	store   *kv.Memory
	vault   *vault.Vault
	locks   *lock.MemoryManager
	guard   *quota.Guard
	factory *fakeFactory
	catalog *fakeCatalog
	exec    *browser.Executor
	db      *gorm.DB
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newHarness(t *testing.T, quotas config.QuotaConfig) *harness {
	t.Helper()
	h := &harness{
		now:     time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		catalog: &fakeCatalog{photos: []string{"/tmp/p1.jpg"}},
		factory: &fakeFactory{Make: uploadDriver},
		db:      newServicesDB(t),
	}
	h.store = kv.NewMemory()
	h.store.Now = h.clock

	v, err := vault.New(h.store, testVaultKey, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	v.Now = h.clock
	h.vault = v

	h.locks = lock.NewMemoryManager()
	h.locks.Now = h.clock

	h.guard = quota.NewGuard(h.store, quotas)
	h.guard.Now = h.clock

	h.exec = &browser.Executor{
		Registry:   browser.DefaultRegistry(),
		BaseURL:    "https://market.test",
		NavRetries: 1,
		NewSampler: fastTestSampler,
	}

	if err := h.vault.Save(context.Background(), "u1", "sid=abc123", "Mozilla/5.0 test"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return h
}

func defaultQuotas() config.QuotaConfig {
	return config.QuotaConfig{
		PublishPerDay: 20,
		MessagePerDay: 50,
		FollowPerDay:  150,
		BumpPerDay:    30,
		AIPerDay:      100,
	}
}

func (h *harness) listingService() *ListingService {
	s := NewListingService(h.db, h.store, h.vault, h.locks, h.guard, h.factory, h.exec, h.catalog,
		30*time.Minute, 24*time.Hour, 5*time.Minute)
	s.Now = h.clock
	return s
}

func testDraft() domain.DraftContext {
	return domain.DraftContext{
		DraftID:     "d-1",
		Title:       "Vintage denim jacket",
		Price:       "24.50",
		Description: "Lightly worn, classic 90s fit.",
	}
}
