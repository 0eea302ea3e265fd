// Package domain – automation rules and runs.
package domain

import "time"

// RuleKind enumerates the supported automation behaviors.
const (
	RuleBump    = "bump"
	RuleFollow  = "follow"
	RuleMessage = "message"
)

// Schedule window names understood without a cron expression. Anything else
// in AutomationRule.ScheduleWindow is parsed as a standard cron expression
// and the rule is due when the expression fires between evaluations.
const (
	WindowContinuous = "continuous"
	WindowPeak       = "peak"    // evenings, local server time
	WindowWeekend    = "weekend" // Sat/Sun daytime
)

// AutomationRule describes a recurring behavior for one owner: re-promoting
// listings, working a follow queue, or sending templated messages.
//
// Fields:
//   - TargetIDs: listing ids (bump), member ids (follow), or conversation ids
//     (message), stored as a JSON array.
//   - Strategy: kind-specific refinement, e.g. "oldest_first" for bump or
//     "queue" for follow.
//   - ScheduleWindow: named window or cron expression gating evaluation.
//   - DailyCap: hard ceiling on actions per UTC day; never exceeded.
//   - Cooldown: minimum interval between actions on the same target.
type AutomationRule struct {
	ID             string        `json:"id" gorm:"type:char(36);primaryKey"`
	OwnerID        string        `json:"owner_id" gorm:"type:varchar(64);not null;index:idx_owner_rules"`
	Kind           string        `json:"kind" gorm:"type:varchar(16);not null;check:kind IN ('bump','follow','message')"`
	TargetIDs      []string      `json:"target_ids" gorm:"serializer:json;type:text"`
	Strategy       string        `json:"strategy" gorm:"type:varchar(32);not null;default:'oldest_first'"`
	ScheduleWindow string        `json:"schedule_window" gorm:"type:varchar(64);not null;default:'continuous'"`
	DailyCap       int           `json:"daily_cap" gorm:"not null;default:10"`
	Cooldown       time.Duration `json:"cooldown" gorm:"not null;default:0"`
	MessageTemplate string       `json:"message_template,omitempty" gorm:"type:text"`
	Enabled        bool          `json:"enabled" gorm:"not null;default:true;index:idx_owner_rules"`
	LastRunAt      *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TableName returns the database table name for AutomationRule.
func (AutomationRule) TableName() string { return "automation_rules" }

// LockKey returns the resource key serializing this rule's owner+kind across
// instances. Two rules of the same kind for one owner share a key on purpose:
// they would race the same browser session otherwise.
func (r AutomationRule) LockKey() string { return r.Kind + ":" + r.OwnerID }

// AutomationRun records one evaluation of a rule: how many targets were
// looked at and how the dispatched actions went.
type AutomationRun struct {
	ID             string    `json:"id" gorm:"type:char(36);primaryKey"`
	RuleID         string    `json:"rule_id" gorm:"type:char(36);not null;index:idx_rule_runs"`
	StartedAt      time.Time `json:"started_at" gorm:"index:idx_rule_runs"`
	FinishedAt     time.Time `json:"finished_at"`
	ItemsProcessed int       `json:"items_processed" gorm:"not null"`
	ItemsSucceeded int       `json:"items_succeeded" gorm:"not null"`
	ItemsFailed    int       `json:"items_failed" gorm:"not null"`
}

// TableName returns the database table name for AutomationRun.
func (AutomationRun) TableName() string { return "automation_runs" }
