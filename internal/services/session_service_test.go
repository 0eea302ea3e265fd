package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/vault"
)

func (h *harness) sessionService() *SessionService {
	return NewSessionService(h.vault, h.locks, h.factory, h.exec, 5*time.Minute)
}

func TestSessionCheck_SignedIn(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = func() *svcDriver {
		d := newSvcDriver()
		d.selectors[`[data-testid="profile-username"]`] = true
		d.texts[`[data-testid="profile-username"]`] = "  vintage_vera  "
		return d
	}
	svc := h.sessionService()

	identity, ok, err := svc.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok || identity != "vintage_vera" {
		t.Fatalf("Check = (%q, %v)", identity, ok)
	}
	if !h.factory.last().closed {
		t.Error("driver not closed after check")
	}
}

func TestSessionCheck_DeadSessionInvalidated(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	h.factory.Make = func() *svcDriver {
		d := newSvcDriver()
		d.selectors[`[data-testid="login-form"]`] = true
		return d
	}
	svc := h.sessionService()
	ctx := context.Background()

	_, ok, err := svc.Check(ctx, "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ok {
		t.Fatal("expected unauthenticated")
	}
	// The rejected session must be gone from the vault.
	if _, err := h.vault.Load(ctx, "u1"); !errors.Is(err, vault.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after invalidation, got %v", err)
	}
}

func TestSessionCheck_NoSavedSession(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	svc := h.sessionService()

	_, _, err := svc.Check(context.Background(), "nobody")
	if !errors.Is(err, vault.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if h.factory.opens != 0 {
		t.Errorf("browser opened without a session")
	}
}

func TestSessionSaveAndInvalidate(t *testing.T) {
	h := newHarness(t, defaultQuotas())
	svc := h.sessionService()
	ctx := context.Background()

	if err := svc.Save(ctx, "u9", "sid=fresh", "Mozilla/5.0 test"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := h.vault.Load(ctx, "u9"); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if err := svc.Invalidate(ctx, "u9"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := h.vault.Load(ctx, "u9"); !errors.Is(err, vault.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
