// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PublishedListing audit log.
package repo

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/domain"
)

// MarkPublished records that a draft landed on the marketplace. Recording
// the same (owner, draft) pair twice returns the existing row unchanged, so
// replays and reconciliation sweeps stay idempotent.
func MarkPublished(db *gorm.DB, ownerID, draftID, listingID, url string, reconciled bool) (*domain.PublishedListing, error) {
	var existing domain.PublishedListing
	err := db.Where("owner_id = ? AND draft_id = ?", ownerID, draftID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row := &domain.PublishedListing{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		DraftID:    draftID,
		ListingID:  listingID,
		URL:        url,
		Reconciled: reconciled,
		CreatedAt:  time.Now().UTC(),
	}
	return row, db.Create(row).Error
}

// GetPublishedByDraft fetches the publish record for one draft, if any.
func GetPublishedByDraft(db *gorm.DB, ownerID, draftID string) (*domain.PublishedListing, error) {
	var row domain.PublishedListing
	if err := db.Where("owner_id = ? AND draft_id = ?", ownerID, draftID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListPublishedByOwner returns an owner's publish history, newest first.
func ListPublishedByOwner(db *gorm.DB, ownerID string, limit int) ([]domain.PublishedListing, error) {
	var out []domain.PublishedListing
	q := db.Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
