package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/genai"
	"github.com/vintaloop/go-listing-backend/internal/http/middleware"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/services"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

const draftBody = `{"draft":{"draft_id":"d-1","title":"Vintage denim jacket","price":"24.50","description":"Lightly worn."}}`

func TestPrepareListing_ReturnsTokenAndPreview(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	listings := &fakeListings{prepareRes: &services.PrepareResult{
		Token:     "deadbeef",
		TokenID:   "t-1",
		ExpiresAt: exp,
		PageURL:   "https://market.test/items/new",
	}}
	r, _ := testRouter(t, &fakeSessions{}, listings)

	w := doJSON(r, http.MethodPost, "/listings/prepare", "u1", draftBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp PrepareResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ConfirmToken != "deadbeef" || resp.TokenID != "t-1" {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.ExpiresAt.Equal(exp) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, exp)
	}
}

func TestPrepareListing_NoSessionIs401(t *testing.T) {
	listings := &fakeListings{prepareErr: vault.ErrUnauthenticated}
	r, _ := testRouter(t, &fakeSessions{}, listings)

	w := doJSON(r, http.MethodPost, "/listings/prepare", "u1", draftBody, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != ErrCodeUnauthorized {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestPublishListing_PassesHeaderKeyThrough(t *testing.T) {
	listings := &fakeListings{publishOut: &domain.Outcome{
		Status:    domain.OutcomePublished,
		ListingID: "991283",
		URL:       "https://market.test/items/991283",
	}}
	r, _ := testRouter(t, &fakeSessions{}, listings)

	w := doJSON(r, http.MethodPost, "/listings/publish", "u1",
		`{"confirm_token":"deadbeef","dry_run":false}`,
		map[string]string{middleware.HeaderIdempotencyKey: "pub-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if listings.gotToken != "deadbeef" || listings.gotKey != "pub-1" || listings.gotDryRun {
		t.Errorf("publish args = %q %q %v", listings.gotToken, listings.gotKey, listings.gotDryRun)
	}
	var out domain.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.OutcomePublished || out.ListingID != "991283" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestPublishListing_DryRunUnlessDeclined(t *testing.T) {
	listings := &fakeListings{publishOut: &domain.Outcome{Status: domain.OutcomeDryRun}}
	r, _ := testRouter(t, &fakeSessions{}, listings)

	// A body that says nothing about dry_run must not commit anything.
	w := doJSON(r, http.MethodPost, "/listings/publish", "u1",
		`{"confirm_token":"tok"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !listings.gotDryRun {
		t.Error("omitted dry_run reached the service as a real publish")
	}

	w = doJSON(r, http.MethodPost, "/listings/publish", "u1",
		`{"confirm_token":"tok","dry_run":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !listings.gotDryRun {
		t.Error("explicit dry_run=true not passed through")
	}
}

func TestPublishListing_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"missing key", services.ErrIdempotencyKeyRequired, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid token", services.ErrTokenInvalid, http.StatusBadRequest, ErrCodeTokenInvalid},
		{"expired token", services.ErrTokenExpired, http.StatusGone, ErrCodeTokenExpired},
		{"consumed token", services.ErrTokenConsumed, http.StatusConflict, ErrCodeTokenConsumed},
		{"quota", quota.ErrExceeded, http.StatusTooManyRequests, ErrCodeQuotaExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listings := &fakeListings{publishErr: tc.err}
			r, _ := testRouter(t, &fakeSessions{}, listings)

			w := doJSON(r, http.MethodPost, "/listings/publish", "u1",
				`{"confirm_token":"deadbeef"}`, nil)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestSuggestCopy_ReturnsSuggestion(t *testing.T) {
	listings := &fakeListings{suggestion: &genai.Suggestion{
		Title:       "Vintage Levi's Denim Jacket",
		Description: "Classic trucker fit.",
		Price:       "27.00",
	}}
	r, _ := testRouter(t, &fakeSessions{}, listings)

	w := doJSON(r, http.MethodPost, "/listings/suggest", "u1", draftBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var s genai.Suggestion
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.Title == "" || s.Price != "27.00" {
		t.Errorf("suggestion = %+v", s)
	}
}

func TestListPublished_ScopedToOwner(t *testing.T) {
	r, db := testRouter(t, &fakeSessions{}, &fakeListings{})
	if _, err := repo.MarkPublished(db, "u1", "d-1", "100", "https://market.test/items/100", false); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.MarkPublished(db, "u2", "d-2", "200", "https://market.test/items/200", false); err != nil {
		t.Fatal(err)
	}

	w := doJSON(r, http.MethodGet, "/listings", "u1", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Listings []domain.PublishedListing `json:"listings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Listings) != 1 || resp.Listings[0].ListingID != "100" {
		t.Errorf("listings = %+v", resp.Listings)
	}
}
