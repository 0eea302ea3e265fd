// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AutomationRun audit trail.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vintaloop/go-listing-backend/internal/domain"
)

// CreateRun inserts a completed run record for a rule evaluation.
func CreateRun(db *gorm.DB, run *domain.AutomationRun) (*domain.AutomationRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	return run, db.Create(run).Error
}

// ListRunsForRule returns a rule's most recent runs, newest first.
func ListRunsForRule(db *gorm.DB, ruleID string, limit int) ([]domain.AutomationRun, error) {
	var out []domain.AutomationRun
	q := db.Where("rule_id = ?", ruleID).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountRunsSince uses a raw COUNT so a missing table surfaces as an error.
func CountRunsSince(db *gorm.DB, ruleID string, since time.Time) (int64, error) {
	var total int64
	err := db.Raw(
		"SELECT COUNT(*) FROM automation_runs WHERE rule_id = ? AND started_at >= ?",
		ruleID, since.UTC(),
	).Scan(&total).Error
	return total, err
}
