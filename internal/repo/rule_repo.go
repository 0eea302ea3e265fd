// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AutomationRule model.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/domain"
)

// CreateRule inserts a new automation rule row.
func CreateRule(db *gorm.DB, r *domain.AutomationRule) (*domain.AutomationRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, db.Create(r).Error
}

// GetRule fetches a rule by ID.
func GetRule(db *gorm.DB, id string) (*domain.AutomationRule, error) {
	var r domain.AutomationRule
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListEnabledRules returns all enabled rules ordered deterministically
// (CreatedAt ASC, ID ASC). The scheduler decides per rule whether it is due.
func ListEnabledRules(db *gorm.DB) ([]domain.AutomationRule, error) {
	var out []domain.AutomationRule
	err := db.Where("enabled = ?", true).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// ListRulesByOwner returns every rule belonging to one owner.
func ListRulesByOwner(db *gorm.DB, ownerID string) ([]domain.AutomationRule, error) {
	var out []domain.AutomationRule
	err := db.Where("owner_id = ?", ownerID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// UpdateRuleLastRun stamps the rule's last evaluation time.
func UpdateRuleLastRun(db *gorm.DB, id string, at time.Time) error {
	return db.Model(&domain.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_run_at": at.UTC(), "updated_at": time.Now().UTC()}).Error
}

// SetRuleEnabled flips a rule on or off.
func SetRuleEnabled(db *gorm.DB, id string, enabled bool) error {
	res := db.Model(&domain.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRule removes a rule row.
func DeleteRule(db *gorm.DB, id string) error {
	return db.Where("id = ?", id).Delete(&domain.AutomationRule{}).Error
}
