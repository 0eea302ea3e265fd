// Package domain defines the core models of the listing autopilot: draft
// snapshots, confirm-token payloads, idempotency outcomes, and the automation
// rule/run records mapped with GORM.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DraftContext is the immutable snapshot of a listing draft at prepare time.
// The AI generation service produces Title/Description/Price; the remaining
// attributes come from the seller's draft. Once embedded in a confirm token
// the snapshot never changes, so publish always commits exactly what was
// previewed.
type DraftContext struct {
	DraftID      string    `json:"draft_id" validate:"required"`
	Title        string    `json:"title" validate:"required,max=120"`
	Price        string    `json:"price" validate:"required"`
	Description  string    `json:"description" validate:"required,max=3000"`
	Brand        string    `json:"brand,omitempty"`
	Size         string    `json:"size,omitempty"`
	Condition    string    `json:"condition,omitempty"`
	Color        string    `json:"color,omitempty"`
	CategoryHint string    `json:"category_hint,omitempty"`
	PhotoRefs    []string  `json:"photo_refs,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Fingerprint returns a stable digest of the publish-relevant fields. It is
// used to match remote listings back to local drafts during reconciliation,
// where the listing id from the publish response may have been lost.
func (d DraftContext) Fingerprint() string {
	sum := sha256.Sum256([]byte(d.Title + "\x00" + d.Price))
	return hex.EncodeToString(sum[:16])
}

// TokenPayload is the plaintext content of a confirm token before sealing.
// The opaque token handed to callers is this payload encrypted; the consumed
// flag lives in the shared store so all instances observe redemption.
type TokenPayload struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Nonce     string       `json:"nonce"`
	Draft     DraftContext `json:"draft"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (p TokenPayload) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// TokenState is the shared-store record for a minted token. Its key carries
// the same TTL as the token itself, so a missing state is equivalent to an
// expired token.
type TokenState struct {
	Consumed    bool      `json:"consumed"`
	OwnerID     string    `json:"owner_id"`
	DraftID     string    `json:"draft_id"`
	Fingerprint string    `json:"fingerprint"`
	MintedAt    time.Time `json:"minted_at"`
}

// Outcome statuses stored in idempotency records.
const (
	OutcomePublished   = "published"
	OutcomeNeedsManual = "needs_manual"
	OutcomeDryRun      = "dry_run"
)

// Outcome is the durable result of a publish attempt, keyed by the caller's
// idempotency key. A replayed key returns this record verbatim with no
// browser action.
type Outcome struct {
	Status    string    `json:"status"`
	ListingID string    `json:"listing_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingPublish marks a submit that has started but whose outcome is not yet
// durably recorded. The reconciliation sweep uses these markers to detect
// publishes that succeeded remotely while the acknowledgment was lost.
type PendingPublish struct {
	OwnerID        string    `json:"owner_id"`
	DraftID        string    `json:"draft_id"`
	Fingerprint    string    `json:"fingerprint"`
	Title          string    `json:"title"`
	Price          string    `json:"price"`
	IdempotencyKey string    `json:"idempotency_key"`
	StartedAt      time.Time `json:"started_at"`
}

// PublishedListing links a local draft to the remote listing it produced.
type PublishedListing struct {
	ID        string    `json:"id" gorm:"type:char(36);primaryKey"`
	OwnerID   string    `json:"owner_id" gorm:"type:varchar(64);not null;index"`
	DraftID   string    `json:"draft_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	ListingID string    `json:"listing_id" gorm:"type:varchar(64);not null"`
	URL       string    `json:"url" gorm:"type:text;not null"`
	// Reconciled is true when the row was backfilled by the orphan sweep
	// rather than written on the publish path.
	Reconciled bool      `json:"reconciled" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for PublishedListing.
func (PublishedListing) TableName() string { return "published_listings" }
