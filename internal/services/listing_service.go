// Package services – ListingService
//
// This file implements the prepare/confirm/publish workflow. Prepare drives
// the draft through the live upload form, returns a preview, and mints a
// single-use confirm token sealing the exact draft snapshot. Publish redeems
// the token: it re-drives the same snapshot through the form and submits.
// No code path submits a listing without a valid, unconsumed token.
//
// Publish is idempotent per caller-supplied key: a replayed key returns the
// recorded outcome with zero browser actions. A detected anti-bot challenge
// is terminal; the token is consumed and the outcome routed to manual
// review, never retried.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/browser"
	"github.com/vintaloop/go-listing-backend/internal/domain"
	"github.com/vintaloop/go-listing-backend/internal/genai"
	"github.com/vintaloop/go-listing-backend/internal/kv"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/metrics"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// reconcileGrace is how old a pending marker must be before the orphan sweep
// touches it; younger markers may belong to an in-flight publish.
const reconcileGrace = 5 * time.Minute

// DraftCatalog is the contract to the draft/photo backend. Photos are
// referenced by local file paths the browser can attach.
type DraftCatalog interface {
	// GetDraftPhotos resolves a draft's photo references to file paths.
	GetDraftPhotos(ctx context.Context, ownerID, draftID string) ([]string, error)

	// MarkPublished informs the catalog that a draft went live.
	MarkPublished(ctx context.Context, ownerID, draftID, listingID, url string) error
}

// CopySuggester is the contract to the AI copy generator. Implemented by
// genai.Suggester in production.
type CopySuggester interface {
	Suggest(ctx context.Context, draft domain.DraftContext) (*genai.Suggestion, error)
}

// PrepareResult is what prepare hands back to the seller: the opaque token
// and the preview artifacts showing exactly what publish would commit.
type PrepareResult struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	Preview   []byte
	FieldEcho map[browser.Field]string
	PageURL   string
}

// ListingService owns the publish workflow state machine.
type ListingService struct {
	// DB is the GORM handle for the publish audit log.
	DB *gorm.DB
	// Store is the shared KV store for tokens, idempotency, pending markers.
	Store kv.Store
	// Vault loads owner sessions and provides the token-sealing cipher.
	Vault *vault.Vault
	// Locks serializes publish activity per owner across instances.
	Locks lock.Manager
	// Quota guards daily publish ceilings.
	Quota *quota.Guard
	// Browser opens drivers; Exec drives the pages.
	Browser browser.Factory
	Exec    *browser.Executor
	// Catalog is the draft/photo backend.
	Catalog DraftCatalog
	// Suggester generates draft copy; nil disables SuggestCopy.
	Suggester CopySuggester
	// Validate checks draft snapshots before any browser work.
	Validate *validator.Validate

	TokenTTL       time.Duration
	IdempotencyTTL time.Duration
	LockTTL        time.Duration

	// Now is the clock; defaults to time.Now via NewListingService.
	Now func() time.Time
}

// NewListingService constructs a ListingService.
func NewListingService(db *gorm.DB, store kv.Store, v *vault.Vault, locks lock.Manager, guard *quota.Guard, factory browser.Factory, exec *browser.Executor, catalog DraftCatalog, tokenTTL, idemTTL, lockTTL time.Duration) *ListingService {
	return &ListingService{
		DB:             db,
		Store:          store,
		Vault:          v,
		Locks:          locks,
		Quota:          guard,
		Browser:        factory,
		Exec:           exec,
		Catalog:        catalog,
		Validate:       validator.New(),
		TokenTTL:       tokenTTL,
		IdempotencyTTL: idemTTL,
		LockTTL:        lockTTL,
		Now:            time.Now,
	}
}

func tokenKey(id string) string               { return "token:" + id }
func idemKey(ownerID, key string) string      { return "idem:" + ownerID + ":" + key }
func pendingKey(ownerID, draftID string) string { return "pending:" + ownerID + ":" + draftID }

// Prepare drives the draft through the upload form without submitting and
// mints a confirm token over the exact snapshot it filled in.
func (s *ListingService) Prepare(ctx context.Context, ownerID string, draft domain.DraftContext) (*PrepareResult, error) {
	tr := otel.Tracer("services/ListingService")
	ctx, span := tr.Start(ctx, "Prepare",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("draft.id", draft.DraftID),
		),
	)
	defer span.End()

	if err := s.Validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("invalid draft: %w", err)
	}
	now := s.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}

	sess, err := s.Vault.Load(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	lease, err := s.Locks.Acquire(ctx, "publish:"+ownerID, s.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.LockBusy("prepare")
		}
		return nil, err
	}
	defer s.release(ctx, lease)

	photos, err := s.Catalog.GetDraftPhotos(ctx, ownerID, draft.DraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve draft photos: %w", err)
	}

	d, err := s.Browser.NewDriver(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	prep, err := s.Exec.PrepareListing(ctx, d, draft, photos)
	if err != nil {
		return nil, err
	}

	result, err := s.mintToken(ctx, ownerID, draft, now)
	if err != nil {
		return nil, err
	}
	result.Preview = prep.Screenshot
	result.FieldEcho = prep.FieldEcho
	result.PageURL = prep.PageURL

	log.Info().
		Str("owner_id", ownerID).
		Str("draft_id", draft.DraftID).
		Str("token_id", result.TokenID).
		Time("expires_at", result.ExpiresAt).
		Msg("listing prepared, confirm token minted")
	return result, nil
}

// mintToken seals the draft snapshot into an opaque token and records its
// unconsumed state in the shared store under the token's TTL.
func (s *ListingService) mintToken(ctx context.Context, ownerID string, draft domain.DraftContext, now time.Time) (*PrepareResult, error) {
	payload := domain.TokenPayload{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Nonce:     newNonce(),
		Draft:     draft,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.TokenTTL),
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sealed, err := s.Vault.Cipher().Seal(plain)
	if err != nil {
		return nil, err
	}
	state := domain.TokenState{
		OwnerID:     ownerID,
		DraftID:     draft.DraftID,
		Fingerprint: draft.Fingerprint(),
		MintedAt:    now,
	}
	if err := kv.SetJSON(ctx, s.Store, tokenKey(payload.ID), state, s.TokenTTL); err != nil {
		return nil, err
	}
	metrics.TokenEvent("minted")
	return &PrepareResult{Token: sealed, TokenID: payload.ID, ExpiresAt: payload.ExpiresAt}, nil
}

// SuggestCopy asks the AI suggester for title, description and price copy.
// Suggestions only fill the draft the seller reviews; they never publish
// anything. Each call charges the owner's daily AI allowance.
func (s *ListingService) SuggestCopy(ctx context.Context, ownerID string, draft domain.DraftContext) (*genai.Suggestion, error) {
	tr := otel.Tracer("services/ListingService")
	ctx, span := tr.Start(ctx, "SuggestCopy",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("draft.id", draft.DraftID),
		),
	)
	defer span.End()

	if s.Suggester == nil {
		return nil, errors.New("copy suggestions are not configured")
	}
	if err := s.Quota.Consume(ctx, ownerID, quota.KindAI, 1); err != nil {
		return nil, err
	}
	return s.Suggester.Suggest(ctx, draft)
}

// Publish redeems a confirm token. The happy path re-drives the sealed
// snapshot through the upload form on a fresh driver and submits it; every
// other path returns without touching the browser.
func (s *ListingService) Publish(ctx context.Context, ownerID, token, idempotencyKey string, dryRun bool) (*domain.Outcome, error) {
	tr := otel.Tracer("services/ListingService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.Bool("dry_run", dryRun),
		),
	)
	defer span.End()

	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	// Idempotency first: a replayed key returns the recorded outcome before
	// the token is even looked at.
	var prior domain.Outcome
	found, err := kv.GetJSON(ctx, s.Store, idemKey(ownerID, idempotencyKey), &prior)
	if err != nil {
		return nil, err
	}
	if found {
		log.Info().
			Str("owner_id", ownerID).
			Str("status", prior.Status).
			Msg("publish replay, returning recorded outcome")
		return &prior, nil
	}

	payload, state, err := s.redeemableToken(ctx, ownerID, token)
	if err != nil {
		return nil, err
	}

	if dryRun {
		// Everything validated; report what would happen and change nothing.
		return &domain.Outcome{
			Status:    domain.OutcomeDryRun,
			Reason:    "validation passed, no action taken",
			CreatedAt: s.Now().UTC(),
		}, nil
	}

	if err := s.Quota.Consume(ctx, ownerID, quota.KindPublish, 1); err != nil {
		return nil, err
	}

	lease, err := s.Locks.Acquire(ctx, "publish:"+ownerID, s.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.LockBusy("publish")
		}
		return nil, err
	}
	defer s.release(ctx, lease)

	sess, err := s.Vault.Load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	photos, err := s.Catalog.GetDraftPhotos(ctx, ownerID, payload.Draft.DraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve draft photos: %w", err)
	}

	d, err := s.Browser.NewDriver(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	// Prepare and publish may land on different instances, so the form is
	// re-driven here from the sealed snapshot rather than trusting any page
	// state from the earlier prepare call.
	if _, err := s.Exec.PrepareListing(ctx, d, payload.Draft, photos); err != nil {
		if errors.Is(err, browser.ErrChallengeDetected) {
			return s.challengeOutcome(ctx, payload, state, idempotencyKey, err)
		}
		return nil, err
	}

	// The pending marker brackets the submit: once it is down, a crash or
	// lost acknowledgment is recoverable by the reconciliation sweep.
	pending := domain.PendingPublish{
		OwnerID:        ownerID,
		DraftID:        payload.Draft.DraftID,
		Fingerprint:    payload.Draft.Fingerprint(),
		Title:          payload.Draft.Title,
		Price:          payload.Draft.Price,
		IdempotencyKey: idempotencyKey,
		StartedAt:      s.Now().UTC(),
	}
	if err := kv.SetJSON(ctx, s.Store, pendingKey(ownerID, payload.Draft.DraftID), pending, s.IdempotencyTTL); err != nil {
		return nil, err
	}

	listingID, listingURL, err := s.Exec.Submit(ctx, d)
	if err != nil {
		if errors.Is(err, browser.ErrChallengeDetected) {
			return s.challengeOutcome(ctx, payload, state, idempotencyKey, err)
		}
		// The submit may or may not have landed; the marker stays for the
		// sweep to resolve.
		return nil, err
	}

	s.consumeToken(ctx, payload.ID, state)
	outcome := &domain.Outcome{
		Status:    domain.OutcomePublished,
		ListingID: listingID,
		URL:       listingURL,
		CreatedAt: s.Now().UTC(),
	}
	s.recordOutcome(ctx, ownerID, payload.Draft.DraftID, idempotencyKey, outcome)

	if _, err := repo.MarkPublished(s.DB, ownerID, payload.Draft.DraftID, listingID, listingURL, false); err != nil {
		log.Error().Err(err).Str("draft_id", payload.Draft.DraftID).Msg("failed to record published listing")
	}
	if err := s.Catalog.MarkPublished(ctx, ownerID, payload.Draft.DraftID, listingID, listingURL); err != nil {
		log.Warn().Err(err).Str("draft_id", payload.Draft.DraftID).Msg("catalog publish callback failed")
	}

	metrics.Action("publish", "published")
	log.Info().
		Str("owner_id", ownerID).
		Str("draft_id", payload.Draft.DraftID).
		Str("listing_id", listingID).
		Msg("listing published")
	return outcome, nil
}

// redeemableToken unseals and validates a token against its shared-store
// state, distinguishing invalid, expired, and consumed.
func (s *ListingService) redeemableToken(ctx context.Context, ownerID, token string) (*domain.TokenPayload, *domain.TokenState, error) {
	plain, err := s.Vault.Cipher().Open(token)
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}
	var payload domain.TokenPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, nil, ErrTokenInvalid
	}
	if payload.OwnerID != ownerID {
		return nil, nil, ErrTokenInvalid
	}
	if payload.Expired(s.Now()) {
		metrics.TokenEvent("expired")
		return nil, nil, ErrTokenExpired
	}
	var state domain.TokenState
	found, err := kv.GetJSON(ctx, s.Store, tokenKey(payload.ID), &state)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		// The state record shares the token's TTL; its absence means the
		// token aged out of the store.
		metrics.TokenEvent("expired")
		return nil, nil, ErrTokenExpired
	}
	if state.Consumed {
		metrics.TokenEvent("replayed")
		return nil, nil, ErrTokenConsumed
	}
	return &payload, &state, nil
}

// challengeOutcome finalizes a publish attempt that hit an anti-bot wall:
// the token is consumed, the outcome routed to manual review, and the
// attempt never retried.
func (s *ListingService) challengeOutcome(ctx context.Context, payload *domain.TokenPayload, state *domain.TokenState, idempotencyKey string, cause error) (*domain.Outcome, error) {
	s.consumeToken(ctx, payload.ID, state)
	outcome := &domain.Outcome{
		Status:    domain.OutcomeNeedsManual,
		Reason:    cause.Error(),
		CreatedAt: s.Now().UTC(),
	}
	s.recordOutcome(ctx, payload.OwnerID, payload.Draft.DraftID, idempotencyKey, outcome)
	metrics.Action("publish", "needs_manual")
	log.Warn().
		Str("owner_id", payload.OwnerID).
		Str("draft_id", payload.Draft.DraftID).
		Str("reason", cause.Error()).
		Msg("publish halted by challenge, routed to manual review")
	return outcome, nil
}

// consumeToken marks the token redeemed in the shared store.
func (s *ListingService) consumeToken(ctx context.Context, tokenID string, state *domain.TokenState) {
	state.Consumed = true
	if err := kv.SetJSON(ctx, s.Store, tokenKey(tokenID), state, s.TokenTTL); err != nil {
		log.Error().Err(err).Str("token_id", tokenID).Msg("failed to mark token consumed")
	}
	metrics.TokenEvent("consumed")
}

// recordOutcome stores the idempotency record and clears the pending marker.
// SetNX keeps the first recorded outcome authoritative under races.
func (s *ListingService) recordOutcome(ctx context.Context, ownerID, draftID, idempotencyKey string, outcome *domain.Outcome) {
	if _, err := kv.SetNXJSON(ctx, s.Store, idemKey(ownerID, idempotencyKey), outcome, s.IdempotencyTTL); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to record publish outcome")
	}
	if err := s.Store.Delete(ctx, pendingKey(ownerID, draftID)); err != nil {
		log.Warn().Err(err).Str("draft_id", draftID).Msg("failed to clear pending marker")
	}
}

// ReconcileOrphans resolves pending markers whose publish outcome was lost:
// instance crash between submit and record, or a dropped acknowledgment. It
// scrapes the owner's public closet and matches listings by draft
// fingerprint. Returns how many markers were resolved.
func (s *ListingService) ReconcileOrphans(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/ListingService")
	ctx, span := tr.Start(ctx, "ReconcileOrphans")
	defer span.End()

	// One sweep at a time across the fleet.
	lease, err := s.Locks.Acquire(ctx, "reconcile", s.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		metrics.LockBusy("reconcile")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer s.release(ctx, lease)

	keys, err := s.Store.Keys(ctx, "pending:*")
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, key := range keys {
		var p domain.PendingPublish
		found, err := kv.GetJSON(ctx, s.Store, key, &p)
		if err != nil || !found {
			continue
		}
		if s.Now().Sub(p.StartedAt) < reconcileGrace {
			continue // likely still in flight
		}

		// An existing outcome means the publish path finished and only the
		// marker cleanup was lost.
		var prior domain.Outcome
		if ok, _ := kv.GetJSON(ctx, s.Store, idemKey(p.OwnerID, p.IdempotencyKey), &prior); ok {
			_ = s.Store.Delete(ctx, key)
			resolved++
			continue
		}

		done, err := s.reconcileOne(ctx, key, p)
		if err != nil {
			log.Warn().Err(err).Str("owner_id", p.OwnerID).Str("draft_id", p.DraftID).Msg("reconciliation attempt failed")
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

// reconcileOne checks one pending marker against the owner's live closet. It
// holds the owner's publish lease for the duration so it never races a live
// publish; an owner mid-publish is simply left for the next sweep.
func (s *ListingService) reconcileOne(ctx context.Context, key string, p domain.PendingPublish) (bool, error) {
	lease, err := s.Locks.Acquire(ctx, "publish:"+p.OwnerID, s.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		metrics.LockBusy("reconcile")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer s.release(ctx, lease)

	sess, err := s.Vault.Load(ctx, p.OwnerID)
	if err != nil {
		return false, err
	}
	d, err := s.Browser.NewDriver(ctx, sess)
	if err != nil {
		return false, err
	}
	defer d.Close()

	listings, err := s.Exec.ListActiveListings(ctx, d, p.OwnerID)
	if err != nil {
		return false, err
	}
	for _, l := range listings {
		probe := domain.DraftContext{Title: l.Title, Price: p.Price}
		if probe.Fingerprint() != p.Fingerprint {
			continue
		}
		outcome := &domain.Outcome{
			Status:    domain.OutcomePublished,
			ListingID: l.ID,
			URL:       l.URL,
			CreatedAt: s.Now().UTC(),
		}
		s.recordOutcome(ctx, p.OwnerID, p.DraftID, p.IdempotencyKey, outcome)
		if _, err := repo.MarkPublished(s.DB, p.OwnerID, p.DraftID, l.ID, l.URL, true); err != nil {
			log.Error().Err(err).Str("draft_id", p.DraftID).Msg("failed to record reconciled listing")
		}
		if err := s.Catalog.MarkPublished(ctx, p.OwnerID, p.DraftID, l.ID, l.URL); err != nil {
			log.Warn().Err(err).Str("draft_id", p.DraftID).Msg("catalog publish callback failed")
		}
		metrics.Action("publish", "reconciled")
		log.Info().
			Str("owner_id", p.OwnerID).
			Str("draft_id", p.DraftID).
			Str("listing_id", l.ID).
			Msg("orphaned publish reconciled from closet")
		return true, nil
	}

	// Nothing matched. Once the marker outlives any possible success the
	// publish is considered failed and the marker dropped.
	if s.Now().Sub(p.StartedAt) > s.IdempotencyTTL {
		_ = s.Store.Delete(ctx, key)
		log.Info().Str("owner_id", p.OwnerID).Str("draft_id", p.DraftID).Msg("stale pending marker dropped, no matching listing")
	}
	return false, nil
}

// release returns a lease, logging instead of failing the operation.
func (s *ListingService) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("key", lease.Key()).Msg("failed to release lease")
	}
}

// newNonce returns 16 random bytes hex-encoded. Token payloads carry a nonce
// so two tokens over identical drafts never seal to related ciphertexts.
func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
